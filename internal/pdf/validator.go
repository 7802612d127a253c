package pdf

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spherical/doc-chat/internal/domain"
)

// pdfMagic must appear near the start of every PDF file.
var pdfMagic = []byte("%PDF-")

// headerWindow is how far into the file the header may start.
const headerWindow = 1024

// IsPDF reports whether filename declares a PDF document.
func IsPDF(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// ValidateDocument checks the declared filename and the document header.
func ValidateDocument(filename string, data []byte) error {
	if strings.TrimSpace(filename) == "" {
		return domain.ValidationError("filename cannot be empty", nil)
	}
	if !IsPDF(filename) {
		return domain.ValidationError(fmt.Sprintf("only PDF files can be rendered (got %q)", filepath.Ext(filename)), nil)
	}
	if len(data) == 0 {
		return domain.RenderError("document is empty", nil)
	}

	head := data
	if len(head) > headerWindow {
		head = head[:headerWindow]
	}
	if !bytes.Contains(head, pdfMagic) {
		return domain.RenderError("document has no PDF header", nil)
	}
	return nil
}

// ValidateQuality validates image quality parameter
func ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}
