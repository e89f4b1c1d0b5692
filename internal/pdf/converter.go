// Package pdf renders lesson PDFs into page images with go-fitz.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/observability"
)

const (
	defaultQuality  = 85
	defaultMaxPages = 100
)

// Options tune page rendering.
type Options struct {
	Quality  int
	MaxPages int
	TempRoot string // parent of per-run temp dirs; os.TempDir when empty
}

// Converter implements domain.PageExtractor over a blob store
type Converter struct {
	store     blob.Store
	opts      Options
	validator *Validator
	log       *observability.Logger

	mu   sync.Mutex
	dirs map[string]string // page image path -> run dir
}

// NewConverter creates a new PDF converter instance
func NewConverter(store blob.Store, opts Options, log *observability.Logger) *Converter {
	if opts.Quality == 0 {
		opts.Quality = defaultQuality
	}
	if opts.MaxPages == 0 {
		opts.MaxPages = defaultMaxPages
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Converter{
		store:     store,
		opts:      opts,
		validator: NewValidator(),
		log:       log.WithOperation("pdf_extraction"),
		dirs:      make(map[string]string),
	}
}

// Extract reads the PDF behind pdfRef and renders each page to a JPEG file.
// Callers release the files with Release once they are done with them.
func (c *Converter) Extract(ctx context.Context, pdfRef string) ([]domain.PageImage, error) {
	rc, err := c.store.Open(ctx, pdfRef)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, domain.ExtractionError(fmt.Sprintf("PDF %s not found", pdfRef), err)
	}
	if err != nil {
		return nil, domain.ExtractionError("Failed to open PDF", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.ExtractionError("Failed to read PDF", err)
	}

	return c.Convert(ctx, data)
}

// Convert renders an in-memory PDF to a series of JPEG images
func (c *Converter) Convert(ctx context.Context, data []byte) ([]domain.PageImage, error) {
	if err := c.validator.ValidatePDFBytes(data); err != nil {
		return nil, domain.ExtractionError("Invalid PDF", err)
	}
	if err := c.validator.ValidateQuality(c.opts.Quality); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ExtractionError("Failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.ExtractionError("PDF has no pages", nil)
	}
	if pageCount > c.opts.MaxPages {
		return nil, domain.ExtractionError(fmt.Sprintf("PDF has %d pages, limit is %d", pageCount, c.opts.MaxPages), nil)
	}

	tempDir, err := os.MkdirTemp(c.opts.TempRoot, "lesson-pages-*")
	if err != nil {
		return nil, domain.IOError("Failed to create temp directory", err)
	}

	images := make([]domain.PageImage, 0, pageCount)
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			os.RemoveAll(tempDir)
			return nil, err
		}

		img, err := doc.Image(pageNum)
		if err != nil {
			os.RemoveAll(tempDir)
			return nil, domain.ExtractionError(fmt.Sprintf("Failed to convert page %d", pageNum+1), err)
		}

		outputPath := filepath.Join(tempDir, fmt.Sprintf("page_%03d.jpg", pageNum+1))
		if err := writeJPEG(outputPath, img, c.opts.Quality); err != nil {
			os.RemoveAll(tempDir)
			return nil, domain.ExtractionError(fmt.Sprintf("Failed to encode page %d as JPG", pageNum+1), err)
		}

		bounds := img.Bounds()
		images = append(images, domain.PageImage{
			PageNumber: pageNum + 1,
			ImagePath:  outputPath,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}

	c.mu.Lock()
	for _, p := range images {
		c.dirs[p.ImagePath] = tempDir
	}
	c.mu.Unlock()

	c.log.Debug().Int("pages", len(images)).Str("dir", tempDir).Msg("PDF rendered")
	return images, nil
}

// Release removes the temp files behind pages returned by Extract
func (c *Converter) Release(pages []domain.PageImage) error {
	c.mu.Lock()
	dirs := make(map[string]struct{})
	for _, p := range pages {
		if dir, ok := c.dirs[p.ImagePath]; ok {
			dirs[dir] = struct{}{}
			delete(c.dirs, p.ImagePath)
		}
	}
	c.mu.Unlock()

	var errs []error
	for dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cover renders the first page of a PDF as JPEG bytes, for lesson thumbnails
func (c *Converter) Cover(data []byte) ([]byte, error) {
	if err := c.validator.ValidatePDFBytes(data); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.ExtractionError("Failed to open PDF", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, domain.ExtractionError("PDF has no pages", nil)
	}

	img, err := doc.ImageDPI(0, 72)
	if err != nil {
		return nil, domain.ExtractionError("Failed to render cover", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.opts.Quality}); err != nil {
		return nil, domain.ExtractionError("Failed to encode cover", err)
	}
	return buf.Bytes(), nil
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
