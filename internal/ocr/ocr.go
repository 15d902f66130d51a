// Package ocr shells out to tesseract for the small fixed-region text reads
// the classifier needs (power scores, kill counts).
package ocr

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// PageSegMode selects how tesseract segments the page.
type PageSegMode string

const (
	PSMAuto         PageSegMode = "AUTO"
	PSMSingleColumn PageSegMode = "SINGLE_COLUMN"
	PSMSingleBlock  PageSegMode = "SINGLE_BLOCK"
	PSMSingleLine   PageSegMode = "SINGLE_LINE"
	PSMSingleWord   PageSegMode = "SINGLE_WORD"
	PSMSingleChar   PageSegMode = "SINGLE_CHAR"
)

var psmValues = map[PageSegMode]string{
	PSMAuto:         "3",
	PSMSingleColumn: "4",
	PSMSingleBlock:  "6",
	PSMSingleLine:   "7",
	PSMSingleWord:   "8",
	PSMSingleChar:   "10",
}

type Engine struct {
	tesseractPath string
	tempDir       string
}

// NewEngine locates tesseract (the given path, or $PATH when empty) and
// prepares a scratch directory for region images.
func NewEngine(tesseractPath string) (*Engine, error) {
	if tesseractPath == "" {
		found, err := exec.LookPath("tesseract")
		if err != nil {
			return nil, fmt.Errorf("tesseract not found in PATH: %w", err)
		}
		tesseractPath = found
	} else if _, err := os.Stat(tesseractPath); err != nil {
		return nil, fmt.Errorf("tesseract not accessible: %w", err)
	}
	log.Printf("Using tesseract at: %s", tesseractPath)

	tempDir := filepath.Join(os.TempDir(), "splatrec-ocr")
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Engine{tesseractPath: tesseractPath, tempDir: tempDir}, nil
}

// ReadText runs tesseract over the given image. mode may be "" for
// tesseract's default segmentation; whitelist restricts recognized
// characters when non-empty.
func (e *Engine) ReadText(img gocv.Mat, mode PageSegMode, whitelist string) (string, error) {
	tempFile := filepath.Join(e.tempDir, fmt.Sprintf("region_%s.png", uuid.New().String()))
	defer os.Remove(tempFile)

	if ok := gocv.IMWrite(tempFile, img); !ok {
		return "", fmt.Errorf("failed to write region image: %s", tempFile)
	}

	args := []string{tempFile, "stdout"}
	if mode != "" {
		psm, ok := psmValues[mode]
		if !ok {
			return "", fmt.Errorf("unknown page segmentation mode: %q", mode)
		}
		args = append(args, "--psm", psm)
	}
	if whitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+whitelist)
	}

	cmd := exec.Command(e.tesseractPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func (e *Engine) Cleanup() error {
	return os.RemoveAll(e.tempDir)
}
