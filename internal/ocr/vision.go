// Package ocr reads page images with a vision model.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strings"

	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/llm"
	"github.com/spherical/lesson-digitizer/internal/observability"
)

// Completer is the part of the LLM client the engine needs.
type Completer interface {
	Complete(ctx context.Context, p llm.Prompt) (string, error)
}

// VisionEngine implements domain.OCREngine on top of a multimodal chat model.
type VisionEngine struct {
	llm     Completer
	store   blob.Store // nil disables cropping
	quality int
	log     *observability.Logger
}

// NewVisionEngine returns an engine. Pass a nil store to skip figure cropping.
func NewVisionEngine(c Completer, store blob.Store, quality int, log *observability.Logger) *VisionEngine {
	if quality == 0 {
		quality = 85
	}
	if log == nil {
		log = observability.Nop()
	}
	return &VisionEngine{llm: c, store: store, quality: quality, log: log.WithOperation("ocr")}
}

type pageResponse struct {
	FullText   string             `json:"fullText"`
	Confidence float64            `json:"confidence"`
	TextBlocks []domain.TextBlock `json:"textBlocks"`
	Images     []struct {
		Description string             `json:"description"`
		Confidence  float64            `json:"confidence"`
		BoundingBox domain.BoundingBox `json:"boundingBox"`
	} `json:"images"`
}

// Process runs OCR over one page.
func (e *VisionEngine) Process(ctx context.Context, page domain.PageImage) (*domain.OCRResult, error) {
	reply, err := e.llm.Complete(ctx, llm.Prompt{
		System:    systemPrompt,
		User:      fmt.Sprintf(pagePrompt, page.Width, page.Height),
		ImagePath: page.ImagePath,
		JSON:      true,
	})
	if err != nil {
		return nil, domain.OCRError(fmt.Sprintf("Failed to read page %d", page.PageNumber), err)
	}

	result, err := parsePage(reply, page)
	if err != nil {
		return nil, domain.OCRError(fmt.Sprintf("Unreadable OCR response for page %d", page.PageNumber), err)
	}

	if e.store != nil && len(result.DetectedImages) > 0 {
		e.cropFigures(ctx, page, result.DetectedImages)
	}

	e.log.Debug().
		Int("page", page.PageNumber).
		Int("chars", len(result.FullText)).
		Int("images", len(result.DetectedImages)).
		Msg("Page read")
	return result, nil
}

func parsePage(reply string, page domain.PageImage) (*domain.OCRResult, error) {
	var resp pageResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &resp); err != nil {
		return nil, err
	}

	result := &domain.OCRResult{
		PageNumber:     page.PageNumber,
		FullText:       strings.TrimSpace(resp.FullText),
		TextBlocks:     resp.TextBlocks,
		Confidence:     resp.Confidence,
		DetectedImages: make([]domain.DetectedImage, 0, len(resp.Images)),
	}
	if result.TextBlocks == nil {
		result.TextBlocks = []domain.TextBlock{}
	}
	if result.FullText == "" && len(resp.TextBlocks) > 0 {
		parts := make([]string, 0, len(resp.TextBlocks))
		for _, b := range resp.TextBlocks {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
		result.FullText = strings.Join(parts, "\n")
	}

	for _, img := range resp.Images {
		result.DetectedImages = append(result.DetectedImages, domain.DetectedImage{
			PageNumber:  page.PageNumber,
			Description: strings.TrimSpace(img.Description),
			BoundingBox: clamp(img.BoundingBox, page.Width, page.Height),
			Confidence:  img.Confidence,
		})
	}
	return result, nil
}

// cropFigures cuts each region out of the page and stores it. A figure that
// cannot be cropped keeps an empty URL.
func (e *VisionEngine) cropFigures(ctx context.Context, page domain.PageImage, images []domain.DetectedImage) {
	src, err := decodeJPEG(page.ImagePath)
	if err != nil {
		e.log.Warn().Err(err).Int("page", page.PageNumber).Msg("Cannot decode page for cropping")
		return
	}

	scope := domain.AssetScope(ctx, "figures/unscoped")
	for i := range images {
		data, err := crop(src, images[i].BoundingBox, e.quality)
		if err != nil {
			e.log.Warn().Err(err).Int("page", page.PageNumber).Int("figure", i).Msg("Skipping figure")
			continue
		}
		url, err := e.store.Put(ctx, blob.FigureKey(scope, page.PageNumber, i), bytes.NewReader(data), int64(len(data)), "image/jpeg")
		if err != nil {
			e.log.Warn().Err(err).Int("page", page.PageNumber).Int("figure", i).Msg("Failed to store figure")
			continue
		}
		images[i].URL = url
	}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(src image.Image, box domain.BoundingBox, quality int) ([]byte, error) {
	if box.Width <= 0 || box.Height <= 0 {
		return nil, fmt.Errorf("empty bounding box")
	}
	si, ok := src.(subImager)
	if !ok {
		return nil, fmt.Errorf("image type %T cannot be cropped", src)
	}

	b := src.Bounds()
	rect := image.Rect(b.Min.X+box.X, b.Min.Y+box.Y, b.Min.X+box.X+box.Width, b.Min.Y+box.Y+box.Height).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("bounding box outside page")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, si.SubImage(rect), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return jpeg.Decode(f)
}

// clamp keeps a model-reported box inside the page.
func clamp(box domain.BoundingBox, width, height int) domain.BoundingBox {
	if width <= 0 || height <= 0 {
		return box
	}
	box.X = max(0, min(box.X, width))
	box.Y = max(0, min(box.Y, height))
	box.Width = max(0, min(box.Width, width-box.X))
	box.Height = max(0, min(box.Height, height-box.Y))
	return box
}
