package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Rect is a sub-region of a frame in source-resolution coordinates.
type Rect struct {
	X1, Y1, X2, Y2 int
}

func (r Rect) Validate(width, height int) error {
	if r.X1 >= r.X2 || r.Y1 >= r.Y2 {
		return fmt.Errorf("degenerate rect %+v", r)
	}
	if r.X1 < 0 || r.Y1 < 0 || r.X2 > width || r.Y2 > height {
		return fmt.Errorf("rect %+v outside %dx%d frame", r, width, height)
	}
	return nil
}

// Crop returns a view into img. The caller must Close the returned Mat;
// closing it does not release the underlying frame.
func (r Rect) Crop(img gocv.Mat) gocv.Mat {
	return img.Region(image.Rect(r.X1, r.Y1, r.X2, r.Y2))
}
