package carrier

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/xob0t/gosteg/pkg/lsb"
)

func makeSamples(g lsb.Geometry) []byte {
	buf := make([]byte, g.BufferLen())
	for i := range buf {
		buf[i] = byte(i*13 + 5)
	}
	return buf
}

// stdlibSamples flattens an image decoded by image/png into the sample
// layout of a carrier with the given geometry.
func stdlibSamples(t *testing.T, img image.Image, g lsb.Geometry) []byte {
	t.Helper()
	var out []byte
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch m := img.(type) {
			case *image.Gray:
				out = append(out, m.GrayAt(x, y).Y)
			case *image.Gray16:
				v := m.Gray16At(x, y).Y
				out = append(out, byte(v>>8), byte(v))
			case *image.RGBA:
				c := m.RGBAAt(x, y)
				out = append(out, c.R, c.G, c.B)
			case *image.NRGBA:
				c := m.NRGBAAt(x, y)
				if g.Channels == 2 {
					out = append(out, c.R, c.A)
				} else {
					out = append(out, c.R, c.G, c.B, c.A)
				}
			case *image.RGBA64:
				c := m.RGBA64At(x, y)
				for _, v := range []uint16{c.R, c.G, c.B} {
					out = append(out, byte(v>>8), byte(v))
				}
			case *image.NRGBA64:
				c := m.NRGBA64At(x, y)
				vs := []uint16{c.R, c.G, c.B, c.A}
				if g.Channels == 2 {
					vs = []uint16{c.R, c.A}
				}
				for _, v := range vs {
					out = append(out, byte(v>>8), byte(v))
				}
			default:
				t.Fatalf("unexpected image type %T", img)
			}
		}
	}
	return out
}

func TestPNGRoundTrip(t *testing.T) {
	t.Parallel()
	geoms := []lsb.Geometry{
		{Width: 7, Height: 5, Channels: 1, BitDepth: 8},
		{Width: 7, Height: 5, Channels: 1, BitDepth: 16},
		{Width: 9, Height: 4, Channels: 2, BitDepth: 8},
		{Width: 9, Height: 4, Channels: 2, BitDepth: 16},
		{Width: 16, Height: 3, Channels: 3, BitDepth: 8},
		{Width: 5, Height: 6, Channels: 3, BitDepth: 16},
		{Width: 8, Height: 8, Channels: 4, BitDepth: 8},
		{Width: 3, Height: 11, Channels: 4, BitDepth: 16},
	}
	for _, g := range geoms {
		t.Run(g.String(), func(t *testing.T) {
			samples := makeSamples(g)
			im, err := NewPNG(g, samples)
			if err != nil {
				t.Fatalf("NewPNG: %v", err)
			}
			var buf bytes.Buffer
			if err := im.Encode(&buf); err != nil {
				t.Fatalf("Encode: %v", err)
			}

			ref, err := png.Decode(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("image/png rejects output: %v", err)
			}
			if got := stdlibSamples(t, ref, g); !bytes.Equal(got, samples) {
				t.Errorf("image/png sees different samples")
			}

			back, err := Decode(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if back.Format != FormatPNG || back.Geometry != g {
				t.Errorf("got %s %s, want png %s", back.Format, back.Geometry, g)
			}
			if !bytes.Equal(back.Samples, samples) {
				t.Error("samples changed across encode/decode")
			}
		})
	}
}

func TestPNGFromStdlib(t *testing.T) {
	t.Parallel()
	src := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := range src.Pix {
		src.Pix[i] = byte(i * 7)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	im, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := lsb.Geometry{Width: 10, Height: 10, Channels: 4, BitDepth: 8}
	if im.Geometry != want {
		t.Fatalf("Geometry = %s, want %s", im.Geometry, want)
	}
	if !bytes.Equal(im.Samples, src.Pix) {
		t.Error("samples differ from source pixels")
	}
}

func rawPNG(t *testing.T, ihdr []byte, chunks ...pngChunk) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(pngSignature)
	if err := writeChunk(&buf, "IHDR", ihdr); err != nil {
		t.Fatal(err)
	}
	for _, c := range chunks {
		if err := writeChunk(&buf, c.typ, c.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeChunk(&buf, "IEND", nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPNGRejects(t *testing.T) {
	t.Parallel()
	ihdr := func(depth, colorType, interlace byte) []byte {
		return []byte{0, 0, 0, 4, 0, 0, 0, 4, depth, colorType, 0, 0, interlace}
	}

	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	var palBuf bytes.Buffer
	if err := png.Encode(&palBuf, pal); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		data        []byte
		unsupported bool
	}{
		{"palette", palBuf.Bytes(), true},
		{"interlaced", rawPNG(t, ihdr(8, pngRGB, 1)), true},
		{"depth 4", rawPNG(t, ihdr(4, pngGray, 0)), true},
		{"depth 1", rawPNG(t, ihdr(1, pngGray, 0)), true},
		{"bad color type", rawPNG(t, ihdr(8, 5, 0)), true},
		{"short IHDR", rawPNG(t, []byte{0, 0, 0, 1}), false},
		{"zero width", rawPNG(t, []byte{0, 0, 0, 0, 0, 0, 0, 4, 8, 0, 0, 0, 0}), false},
		{"no IDAT", rawPNG(t, ihdr(8, pngGray, 0)), false},
		{"oversized RGBA16", rawPNG(t, []byte{0x7F, 0xFF, 0xFF, 0xFF, 0x7F, 0xFF, 0xFF, 0xFF, 16, pngRGBA, 0, 0, 0}), true},
		{"oversized gray", rawPNG(t, []byte{0, 1, 0, 0, 0, 1, 0, 0, 8, pngGray, 0, 0, 0}), true},
		{"width over 2^31", rawPNG(t, []byte{0x80, 0, 0, 0, 0, 0, 0, 4, 8, pngGray, 0, 0, 0}), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tc.data))
			if err == nil {
				t.Fatal("Decode succeeded")
			}
			if got := errors.Is(err, lsb.ErrUnsupportedCarrier); got != tc.unsupported {
				t.Errorf("errors.Is(ErrUnsupportedCarrier) = %v for %v", got, err)
			}
		})
	}
}

func TestPNGChunkLengthBeyondData(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.WriteString(pngSignature)
	if err := writeChunk(&buf, "IHDR", []byte{0, 0, 0, 4, 0, 0, 0, 4, 8, pngGray, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	// An IDAT header claiming 2 GiB followed by a handful of bytes.
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xF0, 'I', 'D', 'A', 'T', 1, 2, 3, 4})

	_, err := Decode(bytes.NewReader(buf.Bytes()))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestPNGShortIDATStream(t *testing.T) {
	t.Parallel()
	// 16384x16384 gray is within limits, but the IDAT holds a single row.
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	zw.Write(make([]byte, 1+16384))
	zw.Close()
	data := rawPNG(t, []byte{0, 0, 0x40, 0, 0, 0, 0x40, 0, 8, pngGray, 0, 0, 0}, pngChunk{typ: "IDAT", data: z.Bytes()})
	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want a truncated IDAT error", err)
	}
}

func TestPNGChunkCRC(t *testing.T) {
	t.Parallel()
	g := lsb.Geometry{Width: 4, Height: 4, Channels: 3, BitDepth: 8}
	im, _ := NewPNG(g, makeSamples(g))
	var buf bytes.Buffer
	if err := im.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	// Byte 8+8 is the first byte of IHDR data.
	data[16] ^= 0xFF
	if _, err := Decode(bytes.NewReader(data)); err == nil {
		t.Fatal("corrupted chunk accepted")
	}
}

func TestPNGKeepsAncillaryChunks(t *testing.T) {
	t.Parallel()
	g := lsb.Geometry{Width: 6, Height: 2, Channels: 1, BitDepth: 8}
	im, _ := NewPNG(g, makeSamples(g))
	im.png.before = []pngChunk{{"gAMA", []byte{0, 0, 0xB1, 0x8F}}}
	im.png.after = []pngChunk{{"tEXt", []byte("Comment\x00hello")}}

	var buf bytes.Buffer
	if err := im.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	back, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.png.before) != 1 || back.png.before[0].typ != "gAMA" {
		t.Errorf("before = %v", back.png.before)
	}
	if len(back.png.after) != 1 || string(back.png.after[0].data) != "Comment\x00hello" {
		t.Errorf("after = %v", back.png.after)
	}
}

func TestPNGMultipleIDAT(t *testing.T) {
	t.Parallel()
	// Noise does not compress, so the stream spans several IDAT chunks.
	g := lsb.Geometry{Width: 256, Height: 200, Channels: 4, BitDepth: 8}
	samples := make([]byte, g.BufferLen())
	x := uint32(2463534242)
	for i := range samples {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		samples[i] = byte(x)
	}
	im, _ := NewPNG(g, samples)
	var buf bytes.Buffer
	if err := im.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if n := bytes.Count(buf.Bytes(), []byte("IDAT")); n < 2 {
		t.Fatalf("%d IDAT chunks, want several", n)
	}
	back, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back.Samples, samples) {
		t.Error("samples changed")
	}
}

func TestUnfilterInvertsFilter(t *testing.T) {
	t.Parallel()
	prev := []byte{10, 200, 30, 40, 250, 60, 1, 2, 3}
	cur := []byte{15, 190, 35, 0, 255, 61, 128, 127, 129}
	var scratch [5][]byte
	for i := range scratch {
		scratch[i] = make([]byte, len(cur))
	}
	filterRow(cur, prev, 3, &scratch)
	for ft := range scratch {
		row := append([]byte(nil), scratch[ft]...)
		if err := unfilter(byte(ft), row, prev, 3); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(row, cur) {
			t.Errorf("filter %d: got %v, want %v", ft, row, cur)
		}
	}
	if err := unfilter(5, cur, prev, 3); err == nil {
		t.Error("filter type 5 accepted")
	}
}

func embed(t *testing.T, im *Image, payload []byte) {
	t.Helper()
	if _, err := lsb.Encode(im.Samples, im.Geometry, bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("lsb.Encode: %v", err)
	}
}

func extract(t *testing.T, im *Image) []byte {
	t.Helper()
	var out bytes.Buffer
	res, err := lsb.Decode(im.Samples, im.Geometry, &out)
	if err != nil {
		t.Fatalf("lsb.Decode: %v", err)
	}
	if !res.ChecksumOK {
		t.Fatal("checksum mismatch")
	}
	return out.Bytes()
}

func TestBMPRoundTrip(t *testing.T) {
	t.Parallel()
	src := image.NewRGBA(image.Rect(0, 0, 24, 10))
	for i := range src.Pix {
		if i%4 == 3 {
			src.Pix[i] = 0xFF
		} else {
			src.Pix[i] = byte(i)
		}
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	im, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := lsb.Geometry{Width: 24, Height: 10, Channels: 3, BitDepth: 8}
	if im.Format != FormatBMP || im.Geometry != want {
		t.Fatalf("got %s %s, want bmp %s", im.Format, im.Geometry, want)
	}

	payload := []byte("bitmap payload")
	embed(t, im, payload)
	buf.Reset()
	if err := im.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if back.Geometry != want {
		t.Fatalf("Geometry = %s after re-encode", back.Geometry)
	}
	if got := extract(t, back); !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestTIFFRoundTrip(t *testing.T) {
	t.Parallel()
	gray := image.NewGray16(image.Rect(0, 0, 40, 24))
	for i := range gray.Pix {
		gray.Pix[i] = byte(i * 3)
	}
	nrgba := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := range nrgba.Pix {
		if i%4 == 3 {
			nrgba.Pix[i] = 0x80
		} else {
			nrgba.Pix[i] = byte(i * 5)
		}
	}

	tests := []struct {
		img  image.Image
		want lsb.Geometry
	}{
		{gray, lsb.Geometry{Width: 40, Height: 24, Channels: 1, BitDepth: 16}},
		{nrgba, lsb.Geometry{Width: 16, Height: 16, Channels: 4, BitDepth: 8}},
	}
	for _, tc := range tests {
		t.Run(tc.want.String(), func(t *testing.T) {
			var buf bytes.Buffer
			if err := tiff.Encode(&buf, tc.img, nil); err != nil {
				t.Fatal(err)
			}
			im, err := Decode(&buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if im.Format != FormatTIFF || im.Geometry != tc.want {
				t.Fatalf("got %s %s, want tiff %s", im.Format, im.Geometry, tc.want)
			}

			payload := []byte(fmt.Sprintf("tiff %s", tc.want))
			if uint64(len(payload)) > im.MaxPayload() {
				t.Fatalf("payload of %d bytes does not fit %s", len(payload), tc.want)
			}
			embed(t, im, payload)
			buf.Reset()
			if err := im.Encode(&buf); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			back, err := Decode(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if got := extract(t, back); !bytes.Equal(got, payload) {
				t.Errorf("payload = %q, want %q", got, payload)
			}
		})
	}
}

func TestOpenSave(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	g := lsb.Geometry{Width: 40, Height: 30, Channels: 3, BitDepth: 8}
	im, _ := NewPNG(g, makeSamples(g))

	payload := []byte("saved to disk")
	embed(t, im, payload)
	path := filepath.Join(dir, "stego.png")
	if err := im.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := im.Save(filepath.Join(dir, "stego.bmp")); err == nil {
		t.Error("Save accepted a mismatched extension")
	}

	back, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := extract(t, back); !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestDecodeUnknownFormat(t *testing.T) {
	t.Parallel()
	_, err := Decode(bytes.NewReader([]byte("GIF89a....")))
	if !errors.Is(err, lsb.ErrUnsupportedCarrier) {
		t.Errorf("err = %v, want ErrUnsupportedCarrier", err)
	}
	if _, err := Decode(bytes.NewReader(nil)); err == nil {
		t.Error("empty input accepted")
	}
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()
	tests := map[string]Format{
		"a.png":     FormatPNG,
		"B.PNG":     FormatPNG,
		"c.bmp":     FormatBMP,
		"dir/d.tif": FormatTIFF,
		"e.tiff":    FormatTIFF,
		"f.jpg":     "",
		"no-ext":    "",
	}
	for path, want := range tests {
		got, err := FormatFromPath(path)
		if want == "" {
			if err == nil {
				t.Errorf("%s: accepted as %s", path, got)
			}
			continue
		}
		if err != nil || got != want {
			t.Errorf("%s: got %q, %v; want %q", path, got, err, want)
		}
	}
	if FormatTIFF.Ext() != ".tiff" || FormatPNG.MIME() != "image/png" {
		t.Error("Ext/MIME mismatch")
	}
}
