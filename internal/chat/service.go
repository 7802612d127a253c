// Package chat assembles conversation turns: it turns an uploaded document or
// previously extracted text into a grounded model answer and records the
// exchange in the session store.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/spherical/doc-chat/internal/cache"
	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/llm"
	"github.com/spherical/doc-chat/internal/observability"
	"github.com/spherical/doc-chat/internal/pdf"
	"github.com/spherical/doc-chat/internal/session"
)

// ErrorMarkerPrefix starts the assistant turn recorded when synthesis fails.
const ErrorMarkerPrefix = "⚠️ Error processing question: "

// Completer is the subset of the model client used for synthesis.
type Completer interface {
	ValidateModel(model string) error
	Complete(ctx context.Context, model string, messages []llm.Message, temperature float64, maxTokens int) (string, error)
}

// Config holds synthesis settings.
type Config struct {
	DefaultModel string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// FileRequest is a document upload with a prompt.
type FileRequest struct {
	Filename     string
	Data         []byte
	Prompt       string
	SessionID    string
	Model        string
	SystemPrompt string
	IsExtraction bool

	// Events receives extraction progress when non-nil.
	Events chan<- domain.StreamEvent
}

// MessageRequest is a follow-up prompt against already extracted text.
type MessageRequest struct {
	Prompt        string
	ExtractedText string
	SessionID     string
	Model         string
	SystemPrompt  string
}

// Response is returned by both processing operations.
type Response struct {
	Response      *string     `json:"response,omitempty"`
	ExtractedText interface{} `json:"extracted_text"`
	SkippedPages  []int       `json:"skipped_pages"`
	SessionID     string      `json:"sessionId"`
}

// Service runs extraction and synthesis for one request at a time; it is safe
// for concurrent use.
type Service struct {
	renderer  domain.Renderer
	extractor domain.Extractor
	client    Completer
	sessions  *session.Sessions
	cache     *cache.ExtractionCache
	cfg       Config
	logger    *observability.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the extraction cache.
func WithCache(c *cache.ExtractionCache) Option {
	return func(s *Service) { s.cache = c }
}

// NewService creates a new chat service.
func NewService(renderer domain.Renderer, extractor domain.Extractor, client Completer, sessions *session.Sessions, cfg Config, logger *observability.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	s := &Service{
		renderer:  renderer,
		extractor: extractor,
		client:    client,
		sessions:  sessions,
		cfg:       cfg,
		logger:    logger.WithOperation("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessFile extracts the uploaded document and, unless IsExtraction is set,
// answers the prompt against the extracted text.
func (s *Service) ProcessFile(ctx context.Context, req FileRequest) (*Response, error) {
	if req.Filename == "" && len(req.Data) == 0 {
		return nil, domain.ValidationError("please upload a file", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.ValidationError("please provide a non-empty prompt", nil)
	}

	model := s.model(req.Model)
	if err := s.client.ValidateModel(model); err != nil {
		return nil, err
	}

	sessionID, err := s.sessions.Resolve(req.SessionID)
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithContext(ctx).With().
		Str("session_id", sessionID).
		Str("model", model).
		Str("filename", req.Filename).
		Logger()

	if !req.IsExtraction {
		s.sessions.AppendTurn(sessionID, session.Turn{Role: session.RoleUser, Content: req.Prompt})
	}

	var extracted interface{}
	skipped := []int{}

	if pdf.IsPDF(req.Filename) {
		outcome, err := s.extractDocument(ctx, req, model)
		if err != nil {
			logger.Error().Err(err).Msg("document extraction failed")
			if !req.IsExtraction {
				s.sessions.AppendTurn(sessionID, session.Turn{Role: session.RoleAssistant, Content: ErrorMarkerPrefix + err.Error()})
			}
			return nil, err
		}
		extracted = outcome.Pages
		skipped = outcome.Skipped
	} else {
		extracted = map[string]string{"content": DecodeText(req.Data)}
	}

	s.sessions.SetExtractedText(sessionID, extracted)
	logger.Info().Ints("skipped_pages", skipped).Bool("is_extraction", req.IsExtraction).Msg("document processed")

	resp := &Response{
		ExtractedText: extracted,
		SkippedPages:  skipped,
		SessionID:     sessionID,
	}
	if req.IsExtraction {
		return resp, nil
	}

	text, err := json.Marshal(extracted)
	if err != nil {
		return nil, domain.InvalidFormatError("failed to serialize extracted text", err)
	}

	answer, err := s.converse(ctx, sessionID, model, req.Prompt, s.systemPrompt(req.SystemPrompt), string(text))
	if err != nil {
		return nil, err
	}
	resp.Response = &answer
	return resp, nil
}

// ProcessMessage answers a prompt against extracted text supplied by the caller.
func (s *Service) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.ValidationError("please provide a non-empty prompt", nil)
	}
	if strings.TrimSpace(req.ExtractedText) == "" {
		return nil, domain.ValidationError("please provide non-empty extracted text", nil)
	}

	model := s.model(req.Model)
	if err := s.client.ValidateModel(model); err != nil {
		return nil, err
	}

	sessionID, err := s.sessions.Resolve(req.SessionID)
	if err != nil {
		return nil, err
	}

	extracted, forModel := ParseExtractedText(req.ExtractedText)
	if len(extracted) == 0 {
		s.logger.WithContext(ctx).Warn().Str("session_id", sessionID).Msg("extracted text is not a JSON object")
	} else {
		s.sessions.SetExtractedText(sessionID, extracted)
	}

	s.sessions.AppendTurn(sessionID, session.Turn{Role: session.RoleUser, Content: req.Prompt})
	answer, err := s.converse(ctx, sessionID, model, req.Prompt, s.systemPrompt(req.SystemPrompt), forModel)
	if err != nil {
		return nil, err
	}

	return &Response{
		Response:      &answer,
		ExtractedText: extracted,
		SkippedPages:  []int{},
		SessionID:     sessionID,
	}, nil
}

// Session returns the stored session with the given id.
func (s *Service) Session(id string) (*session.Session, error) {
	if err := session.ValidateID(id); err != nil {
		return nil, err
	}
	sess, ok := s.sessions.Load(id)
	if !ok {
		return nil, domain.NotFoundError(fmt.Sprintf("session %s not found", id))
	}
	return sess, nil
}

// extractDocument renders and extracts a PDF, consulting the cache first.
func (s *Service) extractDocument(ctx context.Context, req FileRequest, model string) (*domain.ExtractionOutcome, error) {
	if s.cache != nil {
		if outcome, ok := s.cache.Get(ctx, model, req.Data); ok {
			s.logger.WithContext(ctx).Debug().Str("model", model).Msg("extraction cache hit")
			return outcome, nil
		}
	}

	pages, err := s.renderer.Render(ctx, req.Filename, req.Data)
	if err != nil {
		return nil, err
	}

	outcome, err := s.extractor.ExtractWithEvents(ctx, pages, model, req.Events)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Put(ctx, model, req.Data, outcome)
	}
	return outcome, nil
}

// converse asks the model and records its answer or the error marker. The
// caller has already recorded the user turn.
func (s *Service) converse(ctx context.Context, sessionID, model, prompt, systemPrompt, extracted string) (string, error) {
	messages := []llm.Message{
		llm.SystemMessage(systemPrompt),
		llm.UserMessage(llm.TextPart(fmt.Sprintf("User prompt: %s\nExtracted text: %s", prompt, extracted))),
	}

	answer, err := s.client.Complete(ctx, model, messages, s.cfg.Temperature, s.cfg.MaxTokens)
	if err != nil {
		s.logger.WithContext(ctx).Error().Err(err).Str("session_id", sessionID).Msg("final API request failed")
		s.sessions.AppendTurn(sessionID, session.Turn{Role: session.RoleAssistant, Content: ErrorMarkerPrefix + err.Error()})
		return "", domain.SynthesisError("final API request failed", err)
	}

	s.sessions.AppendTurn(sessionID, session.Turn{Role: session.RoleAssistant, Content: answer})
	return answer, nil
}

func (s *Service) model(requested string) string {
	if requested == "" {
		return s.cfg.DefaultModel
	}
	return requested
}

func (s *Service) systemPrompt(requested string) string {
	if strings.TrimSpace(requested) == "" {
		return s.cfg.SystemPrompt
	}
	return requested
}

// DecodeText decodes uploaded bytes as UTF-8, falling back to Latin-1.
func DecodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(out)
}

// ParseExtractedText interprets caller-supplied extracted text. A JSON object is
// returned as is and re-encoded for the model; any other valid JSON yields an
// empty object with the raw text sent to the model; anything else is wrapped as
// {"content": text}.
func ParseExtractedText(raw string) (map[string]interface{}, string) {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]interface{}{"content": raw}, raw
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}, raw
	}

	compact, err := json.Marshal(obj)
	if err != nil {
		return obj, raw
	}
	return obj, string(compact)
}
