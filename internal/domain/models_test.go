package domain

import (
	"reflect"
	"testing"
)

func TestExtractionBatch_Pages(t *testing.T) {
	tests := []struct {
		name  string
		batch ExtractionBatch
		want  []int
	}{
		{name: "full batch", batch: ExtractionBatch{Start: 1, End: 5}, want: []int{1, 2, 3, 4, 5}},
		{name: "single page", batch: ExtractionBatch{Start: 7, End: 7}, want: []int{7}},
		{name: "inverted", batch: ExtractionBatch{Start: 4, End: 2}, want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.batch.Pages()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Pages() = %v, want %v", got, tt.want)
			}
			if tt.batch.Size() != len(tt.want) {
				t.Errorf("Size() = %d, want %d", tt.batch.Size(), len(tt.want))
			}
		})
	}
}

func TestNewExtractionOutcome(t *testing.T) {
	o := NewExtractionOutcome()

	if o.Pages == nil || len(o.Pages) != 0 {
		t.Errorf("Expected empty non-nil Pages, got %v", o.Pages)
	}
	if o.Skipped == nil || len(o.Skipped) != 0 {
		t.Errorf("Expected empty non-nil Skipped, got %v", o.Skipped)
	}
}

func TestExtractionOutcome_SortedPages(t *testing.T) {
	o := NewExtractionOutcome()
	o.Pages["10"] = "ten"
	o.Pages["2"] = "two"
	o.Pages["1"] = "one"
	o.Pages["cover"] = "ignored"

	want := []int{1, 2, 10}
	if got := o.SortedPages(); !reflect.DeepEqual(got, want) {
		t.Errorf("SortedPages() = %v, want %v", got, want)
	}
}

func TestPageKey(t *testing.T) {
	if got := PageKey(12); got != "12" {
		t.Errorf("PageKey(12) = %q, want %q", got, "12")
	}
}
