// Package blob stores lesson PDFs, cropped figures and narration audio.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value object store that can hand out public URLs.
type Store interface {
	// Put writes the object and returns its public URL.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
}

// PDFKey is where the uploaded PDF of a lesson lives.
func PDFKey(lessonID int64) string {
	return fmt.Sprintf("lessons/%d/original.pdf", lessonID)
}

// ThumbnailKey is where the cover image of a lesson lives.
func ThumbnailKey(lessonID int64) string {
	return fmt.Sprintf("lessons/%d/thumbnail.jpg", lessonID)
}

// FigureKey is where a cropped figure of a job lives.
func FigureKey(jobScope string, page, index int) string {
	return fmt.Sprintf("%s/figures/page-%d-%d.jpg", strings.Trim(jobScope, "/"), page, index)
}

// AudioKey is where the narration for a segment reference lives.
func AudioKey(segmentRef string) string {
	return "audio/" + strings.Trim(segmentRef, "/") + ".mp3"
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}
