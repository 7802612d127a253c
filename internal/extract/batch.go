package extract

import (
	"fmt"

	"github.com/spherical/doc-chat/internal/domain"
)

// Partition splits pages [1..n] into consecutive batches of at most size pages.
func Partition(n, size int) []domain.ExtractionBatch {
	if n <= 0 || size <= 0 {
		return nil
	}

	batches := make([]domain.ExtractionBatch, 0, (n+size-1)/size)
	for start := 1; start <= n; start += size {
		end := start + size - 1
		if end > n {
			end = n
		}
		batches = append(batches, domain.ExtractionBatch{Start: start, End: end})
	}
	return batches
}

func batchInstruction(b domain.ExtractionBatch) string {
	return fmt.Sprintf(
		"Extract plain text from these %d PDF pages (pages %d to %d). "+
			"Return the results as a valid JSON object where keys are page numbers "+
			"(1-based: %d, ..., %d) and values are the extracted text for each page. "+
			"Ensure the response is strictly JSON-formatted.",
		b.Size(), b.Start, b.End, b.Start, b.End)
}

func pageInstruction(page int) string {
	return fmt.Sprintf(
		"Extract plain text from this single PDF page (page number %d). "+
			"Return the result as a valid JSON object where the key is the page number "+
			"(%d) and the value is the extracted text. "+
			"Ensure the response is strictly JSON-formatted and does not include markdown code blocks.",
		page, page)
}
