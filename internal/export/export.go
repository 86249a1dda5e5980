// Package export writes recognized text out of the worker: as a
// timestamped plain-text file or onto the system clipboard.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName returns the export file name for a moment in time
func FileName(now time.Time) string {
	return fmt.Sprintf("handwriting-%d.txt", now.UnixMilli())
}

// Text returns the file name and a UTF-8 stream of the text.
// Empty text has nothing to export and yields "" and nil.
func Text(text string, now time.Time) (string, io.Reader) {
	if text == "" {
		return "", nil
	}
	return FileName(now), strings.NewReader(text)
}

// WriteFile writes the text into dir and returns the file path.
// Empty text writes nothing and returns "".
func WriteFile(dir, text string, now time.Time) (string, error) {
	name, r := Text(text, now)
	if r == nil {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}

	return path, nil
}
