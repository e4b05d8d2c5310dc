// Package generator creates cover images for steganography.
//
// Every cover follows one pipeline: fill an RGBA canvas, draw the optional
// label, convert to the requested color model, then hand the result to
// package carrier for serialization as PNG, BMP or TIFF.
package generator

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/xob0t/gosteg/pkg/carrier"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Config holds parameters for cover generation.
type Config struct {
	Width    int     // Pixel width (default: 1280)
	Height   int     // Pixel height (default: 720)
	Color    string  // Hex "#rrggbb", "random" or "noise"
	Label    string  // Optional text drawn centered on the cover
	FontPath string  // TTF/OTF for the label; Go Regular when empty
	FontSize float64 // Label size in points (default: Height/12)
	Depth    int     // 8 or 16 (default: 8)
	Gray     bool    // Single-channel cover
	Alpha    bool    // Add a non-opaque alpha channel (RGB covers only)
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.Depth == 0 {
		c.Depth = 8
	}
	if c.FontSize <= 0 {
		c.FontSize = float64(c.Height) / 12
	}
	return c
}

// Validate reports combinations no supported container can hold.
func (c Config) Validate(f carrier.Format) error {
	c = c.withDefaults()
	if c.Depth != 8 && c.Depth != 16 {
		return fmt.Errorf("invalid depth %d: use 8 or 16", c.Depth)
	}
	if c.Gray && c.Alpha {
		return fmt.Errorf("gray covers cannot carry alpha")
	}
	if f == carrier.FormatBMP && (c.Gray || c.Alpha || c.Depth != 8) {
		return fmt.Errorf("BMP covers are 8-bit RGB only")
	}
	return nil
}

// Render draws the cover and converts it to the color model the config asks for.
func Render(cfg Config) (image.Image, error) {
	cfg = cfg.withDefaults()

	canvas := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	switch cfg.Color {
	case "noise":
		if err := fillNoise(canvas); err != nil {
			return nil, err
		}
	default:
		r, g, b, err := ParseColor(cfg.Color)
		if err != nil {
			return nil, err
		}
		draw.Draw(canvas, canvas.Bounds(), &image.Uniform{toRGBA(r, g, b)}, image.Point{}, draw.Src)
	}

	if cfg.Label != "" {
		if err := drawLabel(canvas, cfg); err != nil {
			return nil, err
		}
	}
	return convert(canvas, cfg), nil
}

// convert copies canvas into the target model. Alpha covers get a ramp
// between 0xC0 and 0xFF so that the image never reads back as opaque.
func convert(canvas *image.RGBA, cfg Config) image.Image {
	b := canvas.Bounds()
	var dst draw.Image
	switch {
	case cfg.Gray && cfg.Depth == 16:
		dst = image.NewGray16(b)
	case cfg.Gray:
		dst = image.NewGray(b)
	case cfg.Depth == 16:
		dst = image.NewNRGBA64(b)
	default:
		dst = image.NewNRGBA(b)
	}
	draw.Draw(dst, b, canvas, b.Min, draw.Src)

	if cfg.Alpha {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				a := uint8(0xC0 + (x*y)%64)
				switch m := dst.(type) {
				case *image.NRGBA:
					m.Pix[m.PixOffset(x, y)+3] = a
				case *image.NRGBA64:
					c := m.NRGBA64At(x, y)
					c.A = uint16(a) * 0x101
					m.SetNRGBA64(x, y, c)
				}
			}
		}
	}
	return dst
}

// Generate creates a cover file. The format is inferred from the extension:
//   - ".png"          → PNG (gray, RGB or RGBA; 8 or 16 bit)
//   - ".bmp"          → 24-bit BMP
//   - ".tif", ".tiff" → Deflate-compressed TIFF
func Generate(output string, cfg Config) error {
	f, err := carrier.FormatFromPath(output)
	if err != nil {
		return err
	}
	im, err := build(f, cfg)
	if err != nil {
		return err
	}
	return im.Save(output)
}

// GenerateToWriter writes a cover of format f to w. This is useful for
// in-memory generation (e.g., the HTTP API).
func GenerateToWriter(w io.Writer, f carrier.Format, cfg Config) error {
	im, err := build(f, cfg)
	if err != nil {
		return err
	}
	return im.Encode(w)
}

// NewCarrier renders a cover straight into a carrier, ready for lsb.Encode.
func NewCarrier(f carrier.Format, cfg Config) (*carrier.Image, error) {
	return build(f, cfg)
}

func build(f carrier.Format, cfg Config) (*carrier.Image, error) {
	f, err := carrier.ParseFormat(string(f))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(f); err != nil {
		return nil, err
	}
	img, err := Render(cfg)
	if err != nil {
		return nil, err
	}
	return carrier.FromImage(f, img)
}

// toRGBA is a convenience to construct color.RGBA with full alpha.
func toRGBA(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
