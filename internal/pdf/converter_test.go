package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a minimal document with blank pages and a correct xref table.
func buildPDF(pages int) []byte {
	var objs []string
	kids := make([]string, pages)
	for i := 0; i < pages; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func newStore(t *testing.T) *blob.LocalStore {
	t.Helper()
	store, err := blob.NewLocalStore(t.TempDir(), "http://files.test")
	require.NoError(t, err)
	return store
}

func TestConverter_Extract(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.Put(ctx, blob.PDFKey(1), bytes.NewReader(buildPDF(3)), 0, "application/pdf")
	require.NoError(t, err)

	conv := NewConverter(store, Options{TempRoot: t.TempDir()}, nil)
	pages, err := conv.Extract(ctx, blob.PDFKey(1))
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.FileExists(t, p.ImagePath)
		assert.Greater(t, p.Width, p.Height, "landscape media box")
	}

	require.NoError(t, conv.Release(pages))
	for _, p := range pages {
		_, err := os.Stat(p.ImagePath)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestConverter_Errors(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	put := func(key string, data []byte) {
		_, err := store.Put(ctx, key, bytes.NewReader(data), 0, "application/pdf")
		require.NoError(t, err)
	}
	put("empty.pdf", []byte{})
	put("text.pdf", []byte("just some text, not a document"))
	put("corrupt.pdf", []byte("%PDF-1.4\n\x00\x01garbage"))
	put("big.pdf", buildPDF(4))

	conv := NewConverter(store, Options{MaxPages: 3, TempRoot: t.TempDir()}, nil)

	for _, key := range []string{"missing.pdf", "empty.pdf", "text.pdf", "corrupt.pdf", "big.pdf"} {
		t.Run(key, func(t *testing.T) {
			pages, err := conv.Extract(ctx, key)
			require.Error(t, err)
			assert.Nil(t, pages)
			assert.True(t, domain.IsType(err, domain.ErrorTypeExtraction), err.Error())
		})
	}
}

func TestConverter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conv := NewConverter(newStore(t), Options{TempRoot: t.TempDir()}, nil)
	_, err := conv.Convert(ctx, buildPDF(2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConverter_Cover(t *testing.T) {
	conv := NewConverter(newStore(t), Options{}, nil)
	jpg, err := conv.Cover(buildPDF(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, jpg[:2])
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidatePDFBytes([]byte("%PDF-1.7 ...")))
	assert.Error(t, v.ValidatePDFBytes(nil))
	assert.Error(t, v.ValidatePDFBytes([]byte("PK\x03\x04")))

	assert.NoError(t, v.ValidateQuality(85))
	assert.Error(t, v.ValidateQuality(0))
	assert.Error(t, v.ValidateQuality(101))
}
