// label.go - Label rendering with the embedded Go font or a custom TTF.
package generator

import (
	"fmt"
	"image"
	"os"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// loadFace returns a face for path at size points, falling back to Go Regular
// when path is empty or unreadable.
func loadFace(path string, size float64) (font.Face, error) {
	data := goregular.TTF
	if path != "" {
		custom, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load font '%s', using default\n", path)
		} else {
			data = custom
		}
	}

	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	return face, nil
}

// drawLabel centers the wrapped label on img in a color that contrasts with
// the pixel at the center of the canvas.
func drawLabel(img *image.RGBA, cfg Config) error {
	face, err := loadFace(cfg.FontPath, cfg.FontSize)
	if err != nil {
		return err
	}
	defer face.Close()

	b := img.Bounds()
	margin := b.Dx() / 20
	lines := wrapText(cfg.Label, b.Dx()-2*margin, face)
	lineHeight := int(cfg.FontSize * 1.4)

	col := contrast(img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2))
	d := &font.Drawer{Dst: img, Src: image.NewUniform(col), Face: face}

	ascent := face.Metrics().Ascent.Ceil()
	y := b.Min.Y + (b.Dy()-lineHeight*len(lines))/2 + ascent
	for _, line := range lines {
		w := d.MeasureString(line).Ceil()
		d.Dot = fixed.P(b.Min.X+(b.Dx()-w)/2, y)
		d.DrawString(line)
		y += lineHeight
	}
	return nil
}

// wrapText breaks text into lines that each fit within maxWidth pixels.
// A single word wider than maxWidth gets a line of its own.
func wrapText(text string, maxWidth int, face font.Face) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxWidth <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		candidate := current + " " + word
		if font.MeasureString(face, candidate).Ceil() > maxWidth {
			lines = append(lines, current)
			current = word
		} else {
			current = candidate
		}
	}
	return append(lines, current)
}
