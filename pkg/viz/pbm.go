package viz

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
)

var errShortBitmap = errors.New("viz: bitmap has fewer pixels than its size")

// maxBitmapPixels caps the declared size of a decoded bitmap.
const maxBitmapPixels = 4096 * 4096

// decodePBM renders the rows of a plain (P1) bitmap whose magic line has
// already been stripped. Width and height come first, '#' starts a comment,
// and pixel digits may or may not be separated by whitespace. A bitmap cut
// short still returns an image, with the missing pixels left white, together
// with errShortBitmap.
func decodePBM(lines []string) (*image.Gray, error) {
	var dims []int
	var pixels []byte
	for _, line := range lines {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for len(dims) < 2 {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				break
			}
			v, err := strconv.Atoi(fields[0])
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("viz: bad bitmap dimension %q", fields[0])
			}
			dims = append(dims, v)
			line = strings.TrimLeft(line, " \t")[len(fields[0]):]
		}
		if len(dims) < 2 {
			continue
		}
		for i := 0; i < len(line); i++ {
			switch c := line[i]; c {
			case '0', '1':
				pixels = append(pixels, c)
			case ' ', '\t', '\r':
			default:
				return nil, fmt.Errorf("viz: bad bitmap pixel %q", c)
			}
		}
	}
	if len(dims) < 2 {
		return nil, errors.New("viz: bitmap has no size")
	}

	w, h := dims[0], dims[1]
	if w > maxBitmapPixels/h {
		return nil, fmt.Errorf("viz: bitmap size %dx%d exceeds %d pixels", w, h, maxBitmapPixels)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	for i, c := range pixels {
		if i >= w*h {
			break
		}
		if c == '1' {
			img.SetGray(i%w, i/w, color.Gray{Y: 0})
		}
	}
	if len(pixels) < w*h {
		return img, errShortBitmap
	}
	return img, nil
}
