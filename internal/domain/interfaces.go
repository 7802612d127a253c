package domain

import "context"

// Renderer converts document bytes into ordered page images
type Renderer interface {
	// Render returns one PageImage per page, 1-based, in source order
	Render(ctx context.Context, filename string, data []byte) ([]PageImage, error)
}

// Extractor turns page images into page-indexed text
type Extractor interface {
	// Extract runs batch extraction with retry over pages
	Extract(ctx context.Context, pages []PageImage, model string) (*ExtractionOutcome, error)

	// ExtractWithEvents is Extract with progress events sent on eventCh when non-nil
	ExtractWithEvents(ctx context.Context, pages []PageImage, model string, eventCh chan<- StreamEvent) (*ExtractionOutcome, error)
}
