package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"
)

// Quality used for snapshots and gallery thumbnails.
const Quality = 90

// Writer saves frames into a fixed output directory, one file per trigger.
type Writer struct {
	Dir string
}

// NewWriter returns a Writer for dir. The directory is created on first save.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// FileName names a snapshot by its capture time, e.g. snapshot_20250131_142501.123.jpg.
func FileName(at time.Time) string {
	return fmt.Sprintf("snapshot_%s.jpg", at.Format("20060102_150405.000"))
}

// Save encodes img as JPEG and writes it under Dir. It returns the written path.
func (w *Writer) Save(img image.Image, at time.Time) (string, error) {
	if img == nil {
		return "", fmt.Errorf("no frame to save")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	data, err := EncodeJPEG(img)
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.Dir, FileName(at))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// EncodeJPEG encodes img at the snapshot quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
