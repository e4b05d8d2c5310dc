// color.go - Color parsing and noise fill.
package generator

import (
	"crypto/rand"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
)

// ParseColor parses a color string. Accepts "#rrggbb", "random", or "".
// Empty string is treated as "random".
func ParseColor(s string) (r, g, b uint8, err error) {
	if s == "" || s == "random" {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			return 0, 0, 0, fmt.Errorf("random color: %w", err)
		}
		return buf[0], buf[1], buf[2], nil
	}

	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return 0, 0, 0, fmt.Errorf("invalid color %q: expected 6-char hex", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), nil
}

// contrast returns black or white, whichever reads better on c.
func contrast(c color.Color) color.RGBA {
	y := color.GrayModel.Convert(c).(color.Gray).Y
	if y > 0x80 {
		return color.RGBA{A: 255}
	}
	return color.RGBA{255, 255, 255, 255}
}

// fillNoise gives every pixel an independent random color. Noise covers hide
// LSB changes better than flat fills.
func fillNoise(img *image.RGBA) error {
	if _, err := rand.Read(img.Pix); err != nil {
		return fmt.Errorf("noise: %w", err)
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	return nil
}
