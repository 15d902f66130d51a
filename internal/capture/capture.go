// Package capture wraps a capture device or a pre-recorded video file as a
// pull-based frame source.
package capture

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

var ErrReadFailed = errors.New("failed to read frame from capture source")

type Source struct {
	vc     *gocv.VideoCapture
	opened time.Time
}

// OpenDevice opens a capture device by index at the requested resolution.
func OpenDevice(index, width, height int) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device %d: %w", index, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	return &Source{vc: vc, opened: time.Now()}, nil
}

// OpenFile opens a pre-recorded video file (file mode).
func OpenFile(path string) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video file %s: %w", path, err)
	}
	return &Source{vc: vc, opened: time.Now()}, nil
}

// Read returns the next frame and the elapsed seconds since the source
// began. The caller owns the returned Mat and must Close it. A failed read
// is fatal for the caller's loop: it means the device was lost or the file
// ended.
func (s *Source) Read() (gocv.Mat, float64, error) {
	frame := gocv.NewMat()
	if ok := s.vc.Read(&frame); !ok || frame.Empty() {
		frame.Close()
		return gocv.Mat{}, 0, ErrReadFailed
	}

	elapsed := 0.0
	if fps := s.vc.Get(gocv.VideoCaptureFPS); fps > 0 {
		elapsed = s.vc.Get(gocv.VideoCapturePosFrames) / fps
	} else {
		// Some devices report no frame rate; fall back to wall clock.
		elapsed = time.Since(s.opened).Seconds()
	}
	return frame, elapsed, nil
}

func (s *Source) Close() error {
	return s.vc.Close()
}
