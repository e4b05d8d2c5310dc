// pix.go - Sample gathering from the Pix slices of decoded image.Image values.
package carrier

import (
	"fmt"
	"image"

	"github.com/xob0t/gosteg/pkg/lsb"
)

// pixLayout addresses the leading channels of every pixel of a Pix-backed image.
type pixLayout struct {
	pix        []byte
	stride     int
	width      int
	height     int
	pixelBytes int // bytes per stored pixel
	channels   int // channels exposed as samples
	depth      uint8
}

// layoutOf maps the concrete image types produced by the x/image decoders.
// Opaque RGBA images expose three channels so that the untouched alpha keeps
// the color model stable across encode and decode.
func layoutOf(img image.Image) (pixLayout, error) {
	r := img.Bounds()
	l := pixLayout{width: r.Dx(), height: r.Dy()}

	switch m := img.(type) {
	case *image.Gray:
		l.pix, l.stride, l.pixelBytes, l.channels, l.depth = m.Pix, m.Stride, 1, 1, 8
	case *image.Gray16:
		l.pix, l.stride, l.pixelBytes, l.channels, l.depth = m.Pix, m.Stride, 2, 1, 16
	case *image.RGBA:
		l.pix, l.stride, l.pixelBytes, l.channels, l.depth = m.Pix, m.Stride, 4, rgbChannels(m.Opaque()), 8
	case *image.NRGBA:
		l.pix, l.stride, l.pixelBytes, l.channels, l.depth = m.Pix, m.Stride, 4, rgbChannels(m.Opaque()), 8
	case *image.RGBA64:
		l.pix, l.stride, l.pixelBytes, l.channels, l.depth = m.Pix, m.Stride, 8, rgbChannels(m.Opaque()), 16
	case *image.NRGBA64:
		l.pix, l.stride, l.pixelBytes, l.channels, l.depth = m.Pix, m.Stride, 8, rgbChannels(m.Opaque()), 16
	case *image.Paletted:
		return l, fmt.Errorf("%w: palette images", lsb.ErrUnsupportedCarrier)
	default:
		return l, fmt.Errorf("%w: color model %T", lsb.ErrUnsupportedCarrier, img)
	}
	return l, nil
}

func rgbChannels(opaque bool) int {
	if opaque {
		return 3
	}
	return 4
}

func (l pixLayout) geometry() lsb.Geometry {
	return lsb.Geometry{
		Width:    uint32(l.width),
		Height:   uint32(l.height),
		Channels: uint8(l.channels),
		BitDepth: l.depth,
	}
}

// gather copies the exposed channels into a new flat sample buffer.
func (l pixLayout) gather() []byte {
	n := l.channels * int(l.depth) / 8
	out := make([]byte, 0, l.width*l.height*n)
	for y := 0; y < l.height; y++ {
		row := l.pix[y*l.stride:]
		for x := 0; x < l.width; x++ {
			p := x * l.pixelBytes
			out = append(out, row[p:p+n]...)
		}
	}
	return out
}

// scatter writes samples back into the exposed channels.
func (l pixLayout) scatter(samples []byte) {
	n := l.channels * int(l.depth) / 8
	i := 0
	for y := 0; y < l.height; y++ {
		row := l.pix[y*l.stride:]
		for x := 0; x < l.width; x++ {
			p := x * l.pixelBytes
			copy(row[p:p+n], samples[i:i+n])
			i += n
		}
	}
}

// fromImage builds a carrier around a decoded image.
func fromImage(format Format, img image.Image) (*Image, error) {
	l, err := layoutOf(img)
	if err != nil {
		return nil, err
	}
	g := l.geometry()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if format == FormatBMP && (g.Channels != 3 || g.BitDepth != 8) {
		return nil, fmt.Errorf("%w: BMP carriers must be opaque 24-bit RGB, got %s", lsb.ErrUnsupportedCarrier, g)
	}
	return &Image{
		Format:   format,
		Geometry: g,
		Samples:  l.gather(),
		img:      img,
		layout:   l,
	}, nil
}
