// Package storage keeps the artifacts that accompany a recording: the
// result-screen thumbnail and the subtitle track.
package storage

import (
	"io"

	"gocv.io/x/gocv"
)

type Storage interface {
	SaveThumbnail(frame gocv.Mat) (string, error)
	SaveSubtitles(srt string) (string, error)
	OpenFile(path string) (io.ReadSeekCloser, error)
	DeleteFile(path string) error
}
