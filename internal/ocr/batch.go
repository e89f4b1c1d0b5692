package ocr

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

// Batch fans pages out to an engine with bounded concurrency. Results keep
// the input order; the first failure cancels the rest.
type Batch struct {
	engine      domain.OCREngine
	concurrency int
}

func NewBatch(engine domain.OCREngine, concurrency int) *Batch {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Batch{engine: engine, concurrency: concurrency}
}

// Process delegates a single page to the wrapped engine.
func (b *Batch) Process(ctx context.Context, page domain.PageImage) (*domain.OCRResult, error) {
	return b.engine.Process(ctx, page)
}

func (b *Batch) ProcessBatch(ctx context.Context, pages []domain.PageImage) ([]domain.OCRResult, error) {
	results := make([]domain.OCRResult, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			res, err := b.engine.Process(gctx, page)
			if err != nil {
				return err
			}
			if res == nil {
				return domain.OCRError(fmt.Sprintf("no OCR result for page %d", page.PageNumber), nil)
			}
			results[i] = *res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
