// Package carrier converts carrier images to and from the flat sample buffers
// used by package lsb.
//
// Every format keeps its geometry and color model across a decode/encode
// cycle, so samples written by lsb.Encode are read back unchanged.
package carrier

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xob0t/gosteg/pkg/lsb"
)

// Format identifies a carrier container.
type Format string

const (
	FormatPNG  Format = "png"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// Ext returns the canonical file extension, including the dot.
func (f Format) Ext() string { return "." + string(f) }

// MIME returns the media type of the format.
func (f Format) MIME() string { return "image/" + string(f) }

// FormatFromPath infers a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return FormatPNG, nil
	case ".bmp":
		return FormatBMP, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("unsupported format %q: use .png, .bmp or .tiff", ext)
	}
}

// ParseFormat maps a format name or extension ("png", ".tif") to a Format.
func ParseFormat(s string) (Format, error) {
	return FormatFromPath("carrier." + strings.TrimPrefix(s, "."))
}

// Image is a decoded carrier. Samples may be modified in place; Encode writes
// them back with the original geometry and color model.
type Image struct {
	Format   Format
	Geometry lsb.Geometry
	Samples  []byte

	png    *pngMeta
	img    image.Image
	layout pixLayout
}

// Capacity returns the carrier capacity in framed bytes.
func (im *Image) Capacity() uint64 { return lsb.Capacity(im.Geometry) }

// MaxPayload returns the largest payload the carrier can hold.
func (im *Image) MaxPayload() uint64 { return lsb.MaxPayload(im.Geometry) }

// FromImage wraps img as a carrier of format f. The sample buffer is a copy;
// Encode writes it back into img before serializing.
func FromImage(f Format, img image.Image) (*Image, error) {
	im, err := fromImage(f, img)
	if err != nil {
		return nil, err
	}
	if f == FormatPNG {
		im.png = &pngMeta{colorType: pngColorType(im.Geometry.Channels)}
	}
	return im, nil
}

// Decode sniffs the container format of r and decodes it.
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(8)
	if err != nil && len(head) < 4 {
		return nil, fmt.Errorf("read header: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, []byte(pngSignature)):
		return decodePNG(br)
	case bytes.HasPrefix(head, []byte("BM")):
		return decodeBMP(br)
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")):
		return decodeTIFF(br)
	default:
		return nil, fmt.Errorf("%w: unrecognized image header % x", lsb.ErrUnsupportedCarrier, head)
	}
}

// Open decodes the carrier stored at path.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	im, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return im, nil
}

// Encode writes the carrier, including any modified samples, to w.
func (im *Image) Encode(w io.Writer) error {
	if uint64(len(im.Samples)) != im.Geometry.BufferLen() {
		return fmt.Errorf("sample buffer is %d bytes, geometry %s needs %d",
			len(im.Samples), im.Geometry, im.Geometry.BufferLen())
	}

	switch im.Format {
	case FormatPNG:
		return im.encodePNG(w)
	case FormatBMP:
		return im.encodeBMP(w)
	case FormatTIFF:
		return im.encodeTIFF(w)
	default:
		return fmt.Errorf("unsupported format %q", im.Format)
	}
}

// Save writes the carrier to path. The extension of path must match the
// carrier's own format.
func (im *Image) Save(path string) error {
	want, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if want != im.Format {
		return fmt.Errorf("output %s is %s, carrier is %s", path, want, im.Format)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := im.Encode(f); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", strings.ToUpper(string(im.Format)), err)
	}
	return f.Close()
}
