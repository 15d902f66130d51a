package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// SaveThumbnail writes the result-screen frame as a PNG and returns the
// stored filename.
func (ls *LocalStorage) SaveThumbnail(frame gocv.Mat) (string, error) {
	filename := uuid.New().String() + ".png"
	fullPath := filepath.Join(ls.basePath, filename)

	if ok := gocv.IMWrite(fullPath, frame); !ok {
		return "", fmt.Errorf("failed to encode thumbnail %s", fullPath)
	}
	return filename, nil
}

// SaveSubtitles writes an SRT track and returns the stored filename.
func (ls *LocalStorage) SaveSubtitles(srt string) (string, error) {
	filename := uuid.New().String() + ".srt"
	fullPath := filepath.Join(ls.basePath, filename)

	if err := os.WriteFile(fullPath, []byte(srt), 0644); err != nil {
		return "", fmt.Errorf("failed to save subtitles: %w", err)
	}
	return filename, nil
}

func (ls *LocalStorage) OpenFile(path string) (io.ReadSeekCloser, error) {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid path")
	}

	fullPath := filepath.Join(ls.basePath, cleanPath)
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

func (ls *LocalStorage) DeleteFile(path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid path")
	}

	fullPath := filepath.Join(ls.basePath, cleanPath)
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}
