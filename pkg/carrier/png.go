// png.go - PNG chunk reader and writer that preserve the original color type and bit depth.
// The standard library decoder widens gray+alpha to NRGBA and cannot write it back, so
// IDAT data is inflated and unfiltered here directly.
package carrier

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"slices"

	"github.com/klauspost/compress/zlib"

	"github.com/xob0t/gosteg/pkg/lsb"
)

const pngSignature = "\x89PNG\r\n\x1a\n"

// PNG color types.
const (
	pngGray      = 0
	pngRGB       = 2
	pngPalette   = 3
	pngGrayAlpha = 4
	pngRGBA      = 6
)

// IDAT payloads are split at this size on write.
const idatChunkSize = 1 << 16

// Decoded sample buffers larger than this are refused.
const maxSampleBytes = 1 << 30

// PNG caps width, height and chunk length at 2^31-1.
const pngMaxUint31 = 0x7FFFFFFF

type pngChunk struct {
	typ  string
	data []byte
}

// pngMeta keeps everything needed to rewrite the file except the pixels.
type pngMeta struct {
	colorType uint8
	before    []pngChunk // ancillary chunks between IHDR and IDAT
	after     []pngChunk // chunks between IDAT and IEND
}

func pngChannels(colorType uint8) (uint8, bool) {
	switch colorType {
	case pngGray:
		return 1, true
	case pngGrayAlpha:
		return 2, true
	case pngRGB:
		return 3, true
	case pngRGBA:
		return 4, true
	}
	return 0, false
}

func pngColorType(channels uint8) uint8 {
	switch channels {
	case 1:
		return pngGray
	case 2:
		return pngGrayAlpha
	case 3:
		return pngRGB
	default:
		return pngRGBA
	}
}

// NewPNG wraps a raw sample buffer as a PNG carrier with the color type
// implied by g.Channels.
func NewPNG(g lsb.Geometry, samples []byte) (*Image, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if uint64(len(samples)) != g.BufferLen() {
		return nil, fmt.Errorf("sample buffer is %d bytes, geometry %s needs %d", len(samples), g, g.BufferLen())
	}
	return &Image{
		Format:   FormatPNG,
		Geometry: g,
		Samples:  samples,
		png:      &pngMeta{colorType: pngColorType(g.Channels)},
	}, nil
}

func readChunk(r io.Reader) (pngChunk, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return pngChunk{}, fmt.Errorf("read chunk header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:4])
	if n > pngMaxUint31 {
		return pngChunk{}, fmt.Errorf("chunk length %d out of range", n)
	}
	c := pngChunk{typ: string(hdr[4:8])}
	// The declared length is untrusted; grow with the data actually read.
	var data bytes.Buffer
	if _, err := io.CopyN(&data, r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return pngChunk{}, fmt.Errorf("read %s: %w", c.typ, err)
	}
	c.data = data.Bytes()

	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return pngChunk{}, fmt.Errorf("read %s crc: %w", c.typ, err)
	}
	crc := crc32.NewIEEE()
	crc.Write(hdr[4:8])
	crc.Write(c.data)
	if crc.Sum32() != binary.BigEndian.Uint32(sum[:]) {
		return pngChunk{}, fmt.Errorf("%s: chunk CRC mismatch", c.typ)
	}
	return c, nil
}

func writeChunk(w io.Writer, typ string, data []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], typ)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:8])
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write(sum[:])
	return err
}

// parseIHDR validates the header and returns the carrier geometry.
func parseIHDR(data []byte) (lsb.Geometry, uint8, error) {
	var g lsb.Geometry
	if len(data) != 13 {
		return g, 0, fmt.Errorf("IHDR is %d bytes, want 13", len(data))
	}
	g.Width = binary.BigEndian.Uint32(data[0:4])
	g.Height = binary.BigEndian.Uint32(data[4:8])
	g.BitDepth = data[8]
	colorType := data[9]
	compression, filter, interlace := data[10], data[11], data[12]

	if g.Width == 0 || g.Height == 0 || g.Width > pngMaxUint31 || g.Height > pngMaxUint31 {
		return g, 0, fmt.Errorf("invalid dimensions %dx%d", g.Width, g.Height)
	}
	if compression != 0 || filter != 0 {
		return g, 0, fmt.Errorf("unknown compression %d / filter method %d", compression, filter)
	}
	if colorType == pngPalette {
		return g, 0, fmt.Errorf("%w: palette PNG", lsb.ErrUnsupportedCarrier)
	}
	if interlace != 0 {
		return g, 0, fmt.Errorf("%w: interlaced PNG", lsb.ErrUnsupportedCarrier)
	}
	ch, ok := pngChannels(colorType)
	if !ok {
		return g, 0, fmt.Errorf("%w: PNG color type %d", lsb.ErrUnsupportedCarrier, colorType)
	}
	g.Channels = ch
	if err := g.Validate(); err != nil {
		return g, 0, err
	}
	// Width and height are below 2^31, so the pixel count fits in uint64.
	pixels := uint64(g.Width) * uint64(g.Height)
	if pixels > maxSampleBytes/(uint64(ch)*uint64(g.BytesPerSample())) {
		return g, 0, fmt.Errorf("%w: %dx%d PNG exceeds %d sample bytes", lsb.ErrUnsupportedCarrier, g.Width, g.Height, maxSampleBytes)
	}
	return g, colorType, nil
}

func decodePNG(r io.Reader) (*Image, error) {
	var sig [8]byte
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	if string(sig[:]) != pngSignature {
		return nil, fmt.Errorf("not a PNG file")
	}

	var (
		g        lsb.Geometry
		meta     pngMeta
		idat     bytes.Buffer
		seenHdr  bool
		seenIDAT bool
	)
	for {
		c, err := readChunk(r)
		if err != nil {
			return nil, err
		}
		if !seenHdr && c.typ != "IHDR" {
			return nil, fmt.Errorf("first chunk is %s, want IHDR", c.typ)
		}

		switch c.typ {
		case "IHDR":
			if seenHdr {
				return nil, fmt.Errorf("duplicate IHDR")
			}
			g, meta.colorType, err = parseIHDR(c.data)
			if err != nil {
				return nil, err
			}
			seenHdr = true
		case "IDAT":
			idat.Write(c.data)
			seenIDAT = true
		case "IEND":
			if !seenIDAT {
				return nil, fmt.Errorf("no IDAT chunk")
			}
			samples, err := inflateRows(&idat, g)
			if err != nil {
				return nil, err
			}
			return &Image{Format: FormatPNG, Geometry: g, Samples: samples, png: &meta}, nil
		default:
			if seenIDAT {
				meta.after = append(meta.after, c)
			} else {
				meta.before = append(meta.before, c)
			}
		}
	}
}

// inflateRows decompresses IDAT data and undoes per-row filtering.
func inflateRows(idat io.Reader, g lsb.Geometry) ([]byte, error) {
	zr, err := zlib.NewReader(idat)
	if err != nil {
		return nil, fmt.Errorf("inflate IDAT: %w", err)
	}
	defer zr.Close()

	bpp := int(g.Channels) * g.BytesPerSample()
	rowLen := int(g.Width) * bpp
	// Rows are appended as they inflate, so a short IDAT stream never
	// allocates the full buffer its header claims.
	samples := make([]byte, 0, min(int(g.Height)*rowLen, 1<<20))
	prev := make([]byte, rowLen)
	var ft [1]byte

	for y := 0; y < int(g.Height); y++ {
		samples = slices.Grow(samples, rowLen)[:len(samples)+rowLen]
		cur := samples[y*rowLen : (y+1)*rowLen]
		if _, err := io.ReadFull(zr, ft[:]); err != nil {
			return nil, fmt.Errorf("row %d: %w", y, err)
		}
		if _, err := io.ReadFull(zr, cur); err != nil {
			return nil, fmt.Errorf("row %d: %w", y, err)
		}
		if err := unfilter(ft[0], cur, prev, bpp); err != nil {
			return nil, fmt.Errorf("row %d: %w", y, err)
		}
		prev = cur
	}
	return samples, nil
}

func unfilter(ft byte, cur, prev []byte, bpp int) error {
	switch ft {
	case 0:
	case 1:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case 2:
		for i := range cur {
			cur[i] += prev[i]
		}
	case 3:
		for i := range cur {
			var a int
			if i >= bpp {
				a = int(cur[i-bpp])
			}
			cur[i] += byte((a + int(prev[i])) / 2)
		}
	case 4:
		for i := range cur {
			var a, c int
			if i >= bpp {
				a, c = int(cur[i-bpp]), int(prev[i-bpp])
			}
			cur[i] += paeth(a, int(prev[i]), c)
		}
	default:
		return fmt.Errorf("bad filter type %d", ft)
	}
	return nil
}

func paeth(a, b, c int) byte {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return byte(a)
	}
	if pb <= pc {
		return byte(b)
	}
	return byte(c)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// filterRow picks the filter with the smallest sum of absolute residuals,
// the same heuristic libpng and image/png use.
func filterRow(cur, prev []byte, bpp int, scratch *[5][]byte) (byte, []byte) {
	for ft := range scratch {
		out := scratch[ft]
		for i := range cur {
			var a, c int
			if i >= bpp {
				a, c = int(cur[i-bpp]), int(prev[i-bpp])
			}
			b := int(prev[i])
			switch ft {
			case 0:
				out[i] = cur[i]
			case 1:
				out[i] = cur[i] - byte(a)
			case 2:
				out[i] = cur[i] - byte(b)
			case 3:
				out[i] = cur[i] - byte((a+b)/2)
			case 4:
				out[i] = cur[i] - paeth(a, b, c)
			}
		}
	}

	best, bestScore := 0, -1
	for ft, out := range scratch {
		score := 0
		for _, v := range out {
			score += abs(int(int8(v)))
		}
		if bestScore < 0 || score < bestScore {
			best, bestScore = ft, score
		}
	}
	return byte(best), scratch[best]
}

func (im *Image) encodePNG(w io.Writer) error {
	meta := im.png
	if meta == nil {
		meta = &pngMeta{colorType: pngColorType(im.Geometry.Channels)}
	}
	g := im.Geometry

	var idat bytes.Buffer
	zw, err := zlib.NewWriterLevel(&idat, zlib.DefaultCompression)
	if err != nil {
		return err
	}
	bpp := int(g.Channels) * g.BytesPerSample()
	rowLen := int(g.Width) * bpp
	prev := make([]byte, rowLen)
	var scratch [5][]byte
	for i := range scratch {
		scratch[i] = make([]byte, rowLen)
	}
	for y := 0; y < int(g.Height); y++ {
		cur := im.Samples[y*rowLen : (y+1)*rowLen]
		ft, row := filterRow(cur, prev, bpp, &scratch)
		if _, err := zw.Write([]byte{ft}); err != nil {
			return err
		}
		if _, err := zw.Write(row); err != nil {
			return err
		}
		prev = cur
	}
	if err := zw.Close(); err != nil {
		return err
	}

	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:4], g.Width)
	binary.BigEndian.PutUint32(ihdr[4:8], g.Height)
	ihdr[8] = g.BitDepth
	ihdr[9] = meta.colorType

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(pngSignature); err != nil {
		return err
	}
	if err := writeChunk(bw, "IHDR", ihdr[:]); err != nil {
		return err
	}
	for _, c := range meta.before {
		if err := writeChunk(bw, c.typ, c.data); err != nil {
			return err
		}
	}
	data := idat.Bytes()
	for len(data) > 0 {
		n := min(len(data), idatChunkSize)
		if err := writeChunk(bw, "IDAT", data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	for _, c := range meta.after {
		if err := writeChunk(bw, c.typ, c.data); err != nil {
			return err
		}
	}
	if err := writeChunk(bw, "IEND", nil); err != nil {
		return err
	}
	return bw.Flush()
}
