package vision

import (
	"bytes"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
)

// prepareImage loads an image and returns the bytes to send to the
// model. Images under minPx on either side are skipped as too small to
// caption; images over maxPx on either side are downscaled first so the
// request payload stays bounded.
func prepareImage(path string, minPx, maxPx int) (data []byte, skip bool, err error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, false, fmt.Errorf("open image: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if minPx > 0 && (w < minPx || h < minPx) {
		return nil, true, nil
	}

	if maxPx > 0 && (w > maxPx || h > maxPx) {
		resized := imaging.Fit(img, maxPx, maxPx, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
			return nil, false, fmt.Errorf("encode resized image: %w", err)
		}
		return buf.Bytes(), false, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read image: %w", err)
	}
	return data, false, nil
}
