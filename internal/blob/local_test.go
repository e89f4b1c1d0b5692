package blob

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutOpen(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8090/files/")
	require.NoError(t, err)

	url, err := store.Put(ctx, "audio/lessons/1/j/s.mp3", bytes.NewReader([]byte("ID3")), 3, "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090/files/audio/lessons/1/j/s.mp3", url)

	ok, err := store.Exists(ctx, "audio/lessons/1/j/s.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Open(ctx, "audio/lessons/1/j/s.mp3")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "ID3", string(data))
}

func TestLocalStore_Missing(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "nope.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Open(ctx, "nope.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../secret", "a/../../b"} {
		_, err := store.Put(context.Background(), key, bytes.NewReader(nil), 0, "")
		assert.Error(t, err, key)
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "lessons/12/original.pdf", PDFKey(12))
	assert.Equal(t, "lessons/12/thumbnail.jpg", ThumbnailKey(12))
	assert.Equal(t, "lessons/12/job/figures/page-3-1.jpg", FigureKey("lessons/12/job/", 3, 1))
	assert.Equal(t, "audio/lessons/12/job/segment-1-1.mp3", AudioKey("lessons/12/job/segment-1-1"))
}

type stubLessons struct {
	lesson *domain.Lesson
	err    error
}

func (s *stubLessons) GetLesson(context.Context, int64) (*domain.Lesson, error) {
	return s.lesson, s.err
}

func (s *stubLessons) UpdateLesson(context.Context, int64, domain.LessonUpdate) error {
	return nil
}

func TestLocator(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)

	t.Run("lesson missing", func(t *testing.T) {
		loc := NewLocator(&stubLessons{err: domain.NotFoundError("lesson 5 not found", nil)}, store)
		_, err := loc.LocatePDF(ctx, 5)
		assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))
	})

	t.Run("no pdf uploaded", func(t *testing.T) {
		loc := NewLocator(&stubLessons{lesson: &domain.Lesson{ID: 5}}, store)
		_, err := loc.LocatePDF(ctx, 5)
		assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
	})

	t.Run("default key", func(t *testing.T) {
		_, err := store.Put(ctx, PDFKey(6), bytes.NewReader([]byte("%PDF")), 4, "application/pdf")
		require.NoError(t, err)

		loc := NewLocator(&stubLessons{lesson: &domain.Lesson{ID: 6}}, store)
		ref, err := loc.LocatePDF(ctx, 6)
		require.NoError(t, err)
		assert.Equal(t, PDFKey(6), ref)
	})

	t.Run("explicit ref", func(t *testing.T) {
		_, err := store.Put(ctx, "uploads/custom.pdf", bytes.NewReader([]byte("%PDF")), 4, "application/pdf")
		require.NoError(t, err)

		loc := NewLocator(&stubLessons{lesson: &domain.Lesson{ID: 7, PDFRef: "uploads/custom.pdf"}}, store)
		ref, err := loc.LocatePDF(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "uploads/custom.pdf", ref)
	})
}
