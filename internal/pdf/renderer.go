// Package pdf renders PDF documents into page rasters.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/observability"
)

// Config holds renderer settings.
type Config struct {
	MaxPages int    // 0 disables the limit
	TempDir  string // parent for per-call scratch dirs, os.TempDir() when empty
}

// Renderer implements domain.Renderer using go-fitz (MuPDF).
type Renderer struct {
	cfg    Config
	logger *observability.Logger
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config, logger *observability.Logger) *Renderer {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Renderer{cfg: cfg, logger: logger.WithOperation("render")}
}

// Render writes the document to a scratch directory that lives only for this
// call, rasterises every page, and returns them in order. A page that fails to
// rasterise is returned without an image so extraction can skip it.
func (r *Renderer) Render(ctx context.Context, filename string, data []byte) ([]domain.PageImage, error) {
	if err := ValidateDocument(filename, data); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(r.cfg.TempDir, "doc-chat-render-*")
	if err != nil {
		return nil, domain.IOError("failed to create temp directory", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove render directory")
		}
	}()

	path := filepath.Join(dir, "document.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, domain.IOError("failed to write document", err)
	}

	if err := r.preflight(data); err != nil {
		return nil, err
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.RenderError("failed to open document", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if r.cfg.MaxPages > 0 && count > r.cfg.MaxPages {
		return nil, domain.ValidationError(fmt.Sprintf("document has %d pages, limit is %d", count, r.cfg.MaxPages), nil)
	}

	pages := make([]domain.PageImage, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := domain.PageImage{Index: i + 1}
		img, err := doc.Image(i)
		if err != nil {
			r.logger.Warn().Err(err).Int("page", i+1).Msg("failed to rasterise page")
		} else {
			b := img.Bounds()
			page.Image, page.Width, page.Height = img, b.Dx(), b.Dy()
		}
		pages = append(pages, page)
	}

	r.logger.Debug().Str("file", filename).Int("pages", len(pages)).Msg("document rendered")
	return pages, nil
}

// preflight rejects documents over the page limit before rasterising. pdfcpu is
// stricter than MuPDF, so a document it cannot read is left to go-fitz.
func (r *Renderer) preflight(data []byte) error {
	if r.cfg.MaxPages <= 0 {
		return nil
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		r.logger.Debug().Err(err).Msg("pdfcpu preflight failed, deferring to renderer")
		return nil
	}
	if count > r.cfg.MaxPages {
		return domain.ValidationError(fmt.Sprintf("document has %d pages, limit is %d", count, r.cfg.MaxPages), nil)
	}
	return nil
}
