package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spherical/doc-chat/internal/domain"
)

func writeJSONFile(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// extractedPages lists the page numbers of a PDF extraction result, or nil for
// plain text uploads.
func extractedPages(extracted interface{}) []int {
	pages, ok := extracted.(domain.PageResult)
	if !ok {
		return nil
	}
	outcome := &domain.ExtractionOutcome{Pages: pages}
	return outcome.SortedPages()
}
