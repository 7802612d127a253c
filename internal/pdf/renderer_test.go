package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/spherical/doc-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalPDF builds a valid PDF with the given number of blank 1in pages.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	obj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	obj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", kids, pages))
	for i := 0; i < pages; i++ {
		obj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 72 72] /Resources << >> >>\nendobj\n", 3+i))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "render scratch directories must be removed")
}

func TestRender_Pages(t *testing.T) {
	tmp := t.TempDir()
	r := NewRenderer(Config{TempDir: tmp, MaxPages: 10}, nil)

	pages, err := r.Render(context.Background(), "brochure.PDF", minimalPDF(3))

	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.Index)
		require.NotNil(t, p.Image)
		assert.Positive(t, p.Width)
		assert.Positive(t, p.Height)
	}
	assertDirEmpty(t, tmp)
}

func TestRender_CorruptDocument(t *testing.T) {
	tmp := t.TempDir()
	r := NewRenderer(Config{TempDir: tmp}, nil)

	_, err := r.Render(context.Background(), "bad.pdf", []byte("%PDF-1.7\nthis is not really a pdf"))

	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeRender), err.Error())
	assertDirEmpty(t, tmp)
}

func TestRender_PageLimit(t *testing.T) {
	tmp := t.TempDir()
	r := NewRenderer(Config{TempDir: tmp, MaxPages: 2}, nil)

	_, err := r.Render(context.Background(), "long.pdf", minimalPDF(3))

	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
	assertDirEmpty(t, tmp)
}

func TestRender_CanceledContext(t *testing.T) {
	tmp := t.TempDir()
	r := NewRenderer(Config{TempDir: tmp}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, "doc.pdf", minimalPDF(2))

	assert.ErrorIs(t, err, context.Canceled)
	assertDirEmpty(t, tmp)
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		errType  domain.ErrorType
	}{
		{"no filename", "", []byte("%PDF-1.4"), domain.ErrorTypeValidation},
		{"not a pdf name", "notes.txt", []byte("%PDF-1.4"), domain.ErrorTypeValidation},
		{"empty", "a.pdf", nil, domain.ErrorTypeRender},
		{"no header", "a.pdf", []byte("PK\x03\x04 zip archive"), domain.ErrorTypeRender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.filename, tt.data)
			assert.True(t, domain.IsType(err, tt.errType), "got %v", err)
		})
	}

	assert.NoError(t, ValidateDocument("a.pdf", []byte("\n%PDF-1.4\n")))
}

func TestValidateQuality(t *testing.T) {
	assert.NoError(t, ValidateQuality(85))
	assert.Error(t, ValidateQuality(0))
	assert.Error(t, ValidateQuality(101))
}
