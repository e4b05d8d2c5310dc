// tiff.go - TIFF carriers through golang.org/x/image/tiff.
package carrier

import (
	"fmt"
	"io"

	"golang.org/x/image/tiff"
)

func decodeTIFF(r io.Reader) (*Image, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("tiff: %w", err)
	}
	return fromImage(FormatTIFF, img)
}

// encodeTIFF always writes Deflate-compressed strips; the decoder accepts
// every compression scheme x/image/tiff knows.
func (im *Image) encodeTIFF(w io.Writer) error {
	if im.img == nil {
		return fmt.Errorf("tiff: carrier has no backing image")
	}
	im.layout.scatter(im.Samples)
	return tiff.Encode(w, im.img, &tiff.Options{Compression: tiff.Deflate})
}
