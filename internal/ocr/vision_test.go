package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	reply func(p llm.Prompt) (string, error)
}

func (f *fakeCompleter) Complete(_ context.Context, p llm.Prompt) (string, error) {
	return f.reply(p)
}

func writePage(t *testing.T, n, w, h int) domain.PageImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	path := filepath.Join(t.TempDir(), fmt.Sprintf("page_%03d.jpg", n))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, img, nil))
	require.NoError(t, f.Close())
	return domain.PageImage{PageNumber: n, ImagePath: path, Width: w, Height: h}
}

const pageJSON = "```json\n" + `{
  "fullText": "  Photosynthesis\n\nPlants make food.  ",
  "confidence": 0.93,
  "textBlocks": [{"text": "Photosynthesis", "confidence": 0.99, "boundingBox": {"x": 1, "y": 2, "width": 50, "height": 10}}],
  "images": [
    {"description": "Diagram of a leaf", "confidence": 0.9, "boundingBox": {"x": 10, "y": 10, "width": 40, "height": 30}},
    {"description": "Off the edge", "confidence": 0.5, "boundingBox": {"x": 90, "y": 50, "width": 500, "height": 500}}
  ]
}` + "\n```"

func TestVisionEngine_Process(t *testing.T) {
	page := writePage(t, 2, 100, 80)
	store, err := blob.NewLocalStore(t.TempDir(), "http://files.test")
	require.NoError(t, err)

	var sent llm.Prompt
	engine := NewVisionEngine(&fakeCompleter{reply: func(p llm.Prompt) (string, error) {
		sent = p
		return pageJSON, nil
	}}, store, 80, nil)

	ctx := domain.WithAssetScope(context.Background(), "lessons/1/job-1")
	res, err := engine.Process(ctx, page)
	require.NoError(t, err)

	assert.Equal(t, page.ImagePath, sent.ImagePath)
	assert.True(t, sent.JSON)
	assert.Contains(t, sent.User, "100 x 80")

	assert.Equal(t, 2, res.PageNumber)
	assert.Equal(t, "Photosynthesis\n\nPlants make food.", res.FullText)
	assert.InDelta(t, 0.93, res.Confidence, 1e-9)
	require.Len(t, res.TextBlocks, 1)
	require.Len(t, res.DetectedImages, 2)

	leaf := res.DetectedImages[0]
	assert.Equal(t, 2, leaf.PageNumber)
	assert.Equal(t, "Diagram of a leaf", leaf.Description)
	assert.Equal(t, "http://files.test/lessons/1/job-1/figures/page-2-0.jpg", leaf.URL)

	edge := res.DetectedImages[1]
	assert.Equal(t, domain.BoundingBox{X: 90, Y: 50, Width: 10, Height: 30}, edge.BoundingBox)
	assert.NotEmpty(t, edge.URL)

	ok, err := store.Exists(ctx, "lessons/1/job-1/figures/page-2-0.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVisionEngine_NoStoreLeavesURLEmpty(t *testing.T) {
	page := writePage(t, 1, 60, 60)
	engine := NewVisionEngine(&fakeCompleter{reply: func(llm.Prompt) (string, error) { return pageJSON, nil }}, nil, 0, nil)

	res, err := engine.Process(context.Background(), page)
	require.NoError(t, err)
	for _, img := range res.DetectedImages {
		assert.Empty(t, img.URL)
	}
}

func TestVisionEngine_Errors(t *testing.T) {
	page := writePage(t, 3, 10, 10)

	t.Run("provider failure", func(t *testing.T) {
		engine := NewVisionEngine(&fakeCompleter{reply: func(llm.Prompt) (string, error) {
			return "", domain.APIError("HTTP 500", nil)
		}}, nil, 0, nil)
		_, err := engine.Process(context.Background(), page)
		require.Error(t, err)
		assert.True(t, domain.IsType(err, domain.ErrorTypeOCR))
		assert.Contains(t, err.Error(), "page 3")
	})

	t.Run("garbage reply", func(t *testing.T) {
		engine := NewVisionEngine(&fakeCompleter{reply: func(llm.Prompt) (string, error) {
			return "I cannot read this page", nil
		}}, nil, 0, nil)
		_, err := engine.Process(context.Background(), page)
		require.Error(t, err)
		assert.True(t, domain.IsType(err, domain.ErrorTypeOCR))
	})
}

func TestParsePage_FallsBackToBlocks(t *testing.T) {
	res, err := parsePage(`{"textBlocks":[{"text":"one"},{"text":" two "}]}`, domain.PageImage{PageNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", res.FullText)
	assert.Empty(t, res.DetectedImages)
}

type pageEngine struct {
	calls atomic.Int32
	fail  int
	empty int
}

func (e *pageEngine) Process(ctx context.Context, page domain.PageImage) (*domain.OCRResult, error) {
	e.calls.Add(1)
	// Later pages finish first to prove ordering does not depend on timing.
	time.Sleep(time.Duration(10-page.PageNumber) * time.Millisecond)
	if page.PageNumber == e.fail {
		return nil, errors.New("page unreadable")
	}
	if page.PageNumber == e.empty {
		return nil, nil
	}
	return &domain.OCRResult{PageNumber: page.PageNumber, FullText: fmt.Sprintf("text %d", page.PageNumber)}, nil
}

func TestBatch_PreservesOrder(t *testing.T) {
	pages := make([]domain.PageImage, 6)
	for i := range pages {
		pages[i] = domain.PageImage{PageNumber: i + 1}
	}

	batch := NewBatch(&pageEngine{}, 3)
	results, err := batch.ProcessBatch(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, i+1, r.PageNumber)
		assert.Equal(t, fmt.Sprintf("text %d", i+1), r.FullText)
	}
}

func TestBatch_FailsOnFirstError(t *testing.T) {
	pages := []domain.PageImage{{PageNumber: 1}, {PageNumber: 2}, {PageNumber: 3}}
	results, err := NewBatch(&pageEngine{fail: 2}, 1).ProcessBatch(context.Background(), pages)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "page unreadable")
}

func TestBatch_MissingResult(t *testing.T) {
	pages := []domain.PageImage{{PageNumber: 1}, {PageNumber: 2}, {PageNumber: 3}}
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency_%d", concurrency), func(t *testing.T) {
			results, err := NewBatch(&pageEngine{empty: 2}, concurrency).ProcessBatch(context.Background(), pages)
			require.Error(t, err)
			assert.Nil(t, results)
			assert.Equal(t, domain.ErrorTypeOCR, domain.TypeOf(err))
			assert.Contains(t, err.Error(), "page 2")
		})
	}
}
