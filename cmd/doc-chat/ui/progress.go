// Package ui provides terminal output helpers for the doc-chat CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"

	"github.com/spherical/doc-chat/internal/domain"
)

// ExtractionProgress renders orchestrator events as a batch progress bar.
// The bar is created on the start event, so a cached extraction prints nothing.
type ExtractionProgress struct {
	out     io.Writer
	bar     *progressbar.ProgressBar
	failed  int
	retried int
}

// NewExtractionProgress writes to out (stderr when nil).
func NewExtractionProgress(out io.Writer) *ExtractionProgress {
	if out == nil {
		out = os.Stderr
	}
	return &ExtractionProgress{out: out}
}

// Consume handles events until the channel is closed.
func (p *ExtractionProgress) Consume(events <-chan domain.StreamEvent) {
	for ev := range events {
		p.Handle(ev)
	}
}

// Handle applies a single event.
func (p *ExtractionProgress) Handle(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventStart:
		batches, _ := ev.Payload.(int)
		p.bar = progressbar.NewOptions(batches,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription("Extracting batches"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "│",
				BarEnd:        "│",
			}),
		)
	case domain.EventBatchComplete, domain.EventBatchFailed:
		if !ev.OK {
			p.failed++
		}
		if p.bar != nil {
			_ = p.bar.Add(1)
		}
	case domain.EventPageRetried:
		p.retried++
		if p.retried == 1 {
			fmt.Fprintln(p.out, "\nRetrying skipped pages one at a time")
		}
	case domain.EventComplete:
		if p.bar != nil {
			_ = p.bar.Finish()
			fmt.Fprintln(p.out)
		}
	}
}

// FailedBatches reports how many batch requests failed.
func (p *ExtractionProgress) FailedBatches() int { return p.failed }

// RetriedPages reports how many single-page retries ran.
func (p *ExtractionProgress) RetriedPages() int { return p.retried }

// Spinner shows indeterminate progress on stderr while the model answers.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner creates a stopped spinner with the given message.
func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[11], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	return &Spinner{s: s}
}

func (s *Spinner) Start() { s.s.Start() }
func (s *Spinner) Stop()  { s.s.Stop() }
