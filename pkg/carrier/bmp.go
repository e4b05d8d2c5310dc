// bmp.go - BMP carriers through golang.org/x/image/bmp.
package carrier

import (
	"fmt"
	"io"

	"golang.org/x/image/bmp"
)

func decodeBMP(r io.Reader) (*Image, error) {
	img, err := bmp.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("bmp: %w", err)
	}
	return fromImage(FormatBMP, img)
}

func (im *Image) encodeBMP(w io.Writer) error {
	if im.img == nil {
		return fmt.Errorf("bmp: carrier has no backing image")
	}
	im.layout.scatter(im.Samples)
	return bmp.Encode(w, im.img)
}
