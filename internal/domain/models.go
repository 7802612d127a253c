package domain

import (
	"image"
	"sort"
	"strconv"
	"time"
)

// PageImage represents a single rendered document page
type PageImage struct {
	Index  int // 1-based position in the source document
	Image  image.Image
	Width  int
	Height int
}

// ExtractionBatch is an inclusive range of page indices sent as one model request
type ExtractionBatch struct {
	Start int
	End   int
}

// Pages returns the page indices covered by the batch.
func (b ExtractionBatch) Pages() []int {
	pages := make([]int, 0, b.Size())
	for p := b.Start; p <= b.End; p++ {
		pages = append(pages, p)
	}
	return pages
}

// Size returns the number of pages in the batch.
func (b ExtractionBatch) Size() int {
	if b.End < b.Start {
		return 0
	}
	return b.End - b.Start + 1
}

// PageResult maps a page index (decimal string) to its extracted text
type PageResult map[string]string

// PageKey formats a page index as a PageResult key.
func PageKey(page int) string {
	return strconv.Itoa(page)
}

// ExtractionOutcome is the aggregate of all page results plus pages that never
// produced valid text.
type ExtractionOutcome struct {
	Pages   PageResult `json:"pages"`
	Skipped []int      `json:"skipped"`
}

// NewExtractionOutcome returns an empty, non-nil outcome.
func NewExtractionOutcome() *ExtractionOutcome {
	return &ExtractionOutcome{
		Pages:   PageResult{},
		Skipped: []int{},
	}
}

// SortedPages returns the page indices present in the aggregate, ascending.
func (o *ExtractionOutcome) SortedPages() []int {
	pages := make([]int, 0, len(o.Pages))
	for k := range o.Pages {
		if n, err := strconv.Atoi(k); err == nil {
			pages = append(pages, n)
		}
	}
	sort.Ints(pages)
	return pages
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart         EventType = "start"
	EventBatchComplete EventType = "batch_complete"
	EventBatchFailed   EventType = "batch_failed"
	EventPageRetried   EventType = "page_retried"
	EventComplete      EventType = "complete"
)

// StreamEvent represents an event emitted during extraction
type StreamEvent struct {
	Type      EventType   `json:"type"`
	Pages     []int       `json:"pages,omitempty"`
	OK        bool        `json:"ok"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
