// Package extract turns rendered pages into page-indexed text by fanning batch
// requests out to a vision model and retrying failed pages one at a time.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/llm"
	"github.com/spherical/doc-chat/internal/observability"
)

// Completer is the model gateway used for extraction.
type Completer interface {
	ValidateModel(model string) error
	Complete(ctx context.Context, model string, messages []llm.Message, temperature float64, maxTokens int) (string, error)
}

// Recorder receives extraction metrics.
type Recorder interface {
	BatchFinished(ok bool)
	PageRetried(ok bool)
	PagesSkipped(n int)
}

// EncodeFunc encodes a page raster for transport.
type EncodeFunc func(img image.Image, quality int) ([]byte, error)

// Config holds orchestrator settings.
type Config struct {
	BatchSize      int
	JPEGQuality    int
	RetryPasses    int
	MaxConcurrency int // 0 means every request is dispatched at once
	Temperature    float64
	MaxTokens      int
}

// DefaultConfig returns the default extraction settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:   5,
		JPEGQuality: 85,
		RetryPasses: 1,
		Temperature: 0.2,
		MaxTokens:   2048,
	}
}

// Orchestrator runs batch extraction with a single-page retry phase.
type Orchestrator struct {
	client   Completer
	cfg      Config
	logger   *observability.Logger
	encode   EncodeFunc
	recorder Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEncoder replaces the JPEG encoder.
func WithEncoder(fn EncodeFunc) Option {
	return func(o *Orchestrator) { o.encode = fn }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// NewOrchestrator creates a new extraction orchestrator.
func NewOrchestrator(client Completer, cfg Config, logger *observability.Logger, opts ...Option) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = DefaultConfig().JPEGQuality
	}
	if logger == nil {
		logger = observability.Nop()
	}

	o := &Orchestrator{
		client: client,
		cfg:    cfg,
		logger: logger.WithOperation("extract"),
		encode: EncodeJPEG,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EncodeJPEG encodes img as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("page has no image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type batchJob struct {
	batch     domain.ExtractionBatch
	requested []int
	parts     []llm.ContentPart
}

type batchResult struct {
	job   batchJob
	pages domain.PageResult
	err   error
}

type pageResult struct {
	page int
	text string
	err  error
	// sent is false when no request was issued for the page.
	sent bool
}

// Extract implements domain.Extractor.
func (o *Orchestrator) Extract(ctx context.Context, pages []domain.PageImage, model string) (*domain.ExtractionOutcome, error) {
	return o.ExtractWithEvents(ctx, pages, model, nil)
}

// ExtractWithEvents extracts text from pages, reporting progress on eventCh when
// it is non-nil. A non-empty outcome with skipped pages is a normal result; an
// outcome with no text and skipped pages is returned together with a no_text error.
func (o *Orchestrator) ExtractWithEvents(ctx context.Context, pages []domain.PageImage, model string, eventCh chan<- domain.StreamEvent) (*domain.ExtractionOutcome, error) {
	if err := o.client.ValidateModel(model); err != nil {
		return nil, err
	}

	outcome := domain.NewExtractionOutcome()
	if len(pages) == 0 {
		return outcome, nil
	}

	start := time.Now()
	logger := o.logger.WithContext(ctx).With().Str("model", model).Int("pages", len(pages)).Logger()
	skipped := newPageSet()

	batches := Partition(len(pages), o.cfg.BatchSize)
	o.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventStart,
		Payload:   len(batches),
		Timestamp: time.Now(),
	})

	encoded := make([][]byte, len(pages)+1)
	jobs := make([]batchJob, 0, len(batches))
	for _, b := range batches {
		job := batchJob{batch: b}
		for _, p := range b.Pages() {
			data, err := o.encode(pages[p-1].Image, o.cfg.JPEGQuality)
			if err != nil {
				logger.Error().Err(err).Int("page", p).Msg("image encoding failed")
				skipped.add(p)
				continue
			}
			encoded[p] = data
			job.requested = append(job.requested, p)
			job.parts = append(job.parts, llm.JPEGPart(data))
		}

		if len(job.requested) == 0 {
			logger.Warn().Int("start", b.Start).Int("end", b.End).Msg("skipping batch: no valid images")
			skipped.add(b.Pages()...)
			continue
		}
		job.parts = append(job.parts, llm.TextPart(batchInstruction(b)))
		jobs = append(jobs, job)
	}

	results := make([]batchResult, len(jobs))
	g := o.group()
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = o.runBatch(ctx, model, job)
			o.emitEvent(eventCh, domain.StreamEvent{
				Type:      batchEventType(results[i].err),
				Pages:     job.requested,
				OK:        results[i].err == nil,
				Timestamp: time.Now(),
			})
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		b := res.job.batch
		if res.err != nil {
			logger.Warn().Err(res.err).Int("start", b.Start).Int("end", b.End).Msg("batch extraction failed")
			skipped.add(res.job.requested...)
			o.recordBatch(false)
			continue
		}
		o.recordBatch(true)

		for _, p := range res.job.requested {
			key := domain.PageKey(p)
			text, ok := res.pages[key]
			if !ok {
				logger.Warn().Int("page", p).Msg("page missing from batch response")
				skipped.add(p)
				continue
			}
			outcome.Pages[key] = text
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for pass := 0; pass < o.cfg.RetryPasses && skipped.len() > 0; pass++ {
		o.retryPass(ctx, model, skipped, encoded, outcome, eventCh, logger)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	outcome.Skipped = skipped.sorted()
	if o.recorder != nil {
		o.recorder.PagesSkipped(len(outcome.Skipped))
	}

	logger.Info().
		Int("extracted", len(outcome.Pages)).
		Ints("skipped", outcome.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("extraction finished")

	o.emitEvent(eventCh, domain.StreamEvent{
		Type:      domain.EventComplete,
		Pages:     outcome.Skipped,
		OK:        len(outcome.Pages) > 0,
		Timestamp: time.Now(),
	})

	if len(outcome.Pages) == 0 && len(outcome.Skipped) > 0 {
		return outcome, domain.NoTextExtractedError(outcome.Skipped)
	}
	return outcome, nil
}

// retryPass issues one concurrent single-page request per skipped page.
func (o *Orchestrator) retryPass(ctx context.Context, model string, skipped *pageSet, encoded [][]byte,
	outcome *domain.ExtractionOutcome, eventCh chan<- domain.StreamEvent, logger *observability.Logger) {
	pending := skipped.sorted()
	results := make([]pageResult, len(pending))

	g := o.group()
	for i, p := range pending {
		g.Go(func() error {
			results[i] = o.runPage(ctx, model, p, encoded[p])
			if !results[i].sent {
				return nil
			}
			o.emitEvent(eventCh, domain.StreamEvent{
				Type:      domain.EventPageRetried,
				Pages:     []int{p},
				OK:        results[i].err == nil,
				Timestamp: time.Now(),
			})
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if o.recorder != nil && res.sent {
			o.recorder.PageRetried(res.err == nil)
		}
		if res.err != nil {
			logger.Warn().Err(res.err).Int("page", res.page).Msg("page retry failed")
			continue
		}
		outcome.Pages[domain.PageKey(res.page)] = res.text
		skipped.remove(res.page)
	}
}

// runBatch performs one batch request. It never panics or returns an error to
// the group; failures are carried in the result.
func (o *Orchestrator) runBatch(ctx context.Context, model string, job batchJob) (res batchResult) {
	res.job = job
	defer func() {
		if r := recover(); r != nil {
			res.pages = nil
			res.err = fmt.Errorf("batch %d-%d panicked: %v", job.batch.Start, job.batch.End, r)
		}
	}()

	raw, err := o.client.Complete(ctx, model, []llm.Message{llm.UserMessage(job.parts...)}, o.cfg.Temperature, o.cfg.MaxTokens)
	if err != nil {
		res.err = err
		return res
	}

	res.pages, res.err = ParseBatch(raw, job.requested)
	return res
}

func (o *Orchestrator) runPage(ctx context.Context, model string, page int, data []byte) (res pageResult) {
	res.page = page
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("page %d panicked: %v", page, r)
		}
	}()

	if data == nil {
		res.err = fmt.Errorf("page %d has no encoded image", page)
		return res
	}

	msg := llm.UserMessage(llm.JPEGPart(data), llm.TextPart(pageInstruction(page)))
	res.sent = true
	raw, err := o.client.Complete(ctx, model, []llm.Message{msg}, o.cfg.Temperature, o.cfg.MaxTokens)
	if err != nil {
		res.err = err
		return res
	}

	res.text, res.err = ParsePage(raw, page)
	return res
}

func (o *Orchestrator) group() *errgroup.Group {
	g := new(errgroup.Group)
	if o.cfg.MaxConcurrency > 0 {
		g.SetLimit(o.cfg.MaxConcurrency)
	}
	return g
}

func (o *Orchestrator) recordBatch(ok bool) {
	if o.recorder != nil {
		o.recorder.BatchFinished(ok)
	}
}

// emitEvent sends an event without blocking extraction
func (o *Orchestrator) emitEvent(eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh == nil {
		return
	}
	select {
	case eventCh <- event:
	default:
		o.logger.Debug().Str("event", string(event.Type)).Msg("event channel full, dropping event")
	}
}

func batchEventType(err error) domain.EventType {
	if err != nil {
		return domain.EventBatchFailed
	}
	return domain.EventBatchComplete
}

// pageSet is a set of page indices.
type pageSet struct {
	m map[int]struct{}
}

func newPageSet() *pageSet {
	return &pageSet{m: make(map[int]struct{})}
}

func (s *pageSet) add(pages ...int) {
	for _, p := range pages {
		s.m[p] = struct{}{}
	}
}

func (s *pageSet) remove(p int) {
	delete(s.m, p)
}

func (s *pageSet) len() int {
	return len(s.m)
}

func (s *pageSet) sorted() []int {
	out := make([]int, 0, len(s.m))
	for p := range s.m {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
