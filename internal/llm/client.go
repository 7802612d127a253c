package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/observability"
)

const (
	defaultTimeout = 120 * time.Second
	completionPath = "/chat/completions"
	maxErrorBody   = 512
)

// CallObserver is notified after every completion call.
type CallObserver interface {
	ObserveCall(model string, elapsed time.Duration, err error)
}

// Config holds client configuration
type Config struct {
	APIKey  string
	Timeout time.Duration
	Retry   RetryConfig
	// Endpoints maps a model name to its OpenAI-compatible base URL (ending in /v1).
	Endpoints map[string]string
}

// Client talks to OpenAI-compatible chat/completions endpoints, one per model
type Client struct {
	apiKey     string
	endpoints  map[string]string
	timeout    time.Duration
	retry      RetryConfig
	httpClient *http.Client
	logger     *observability.Logger
	observer   CallObserver
}

// Message represents a chat message. Content is either a string or []ContentPart.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message of a choice
type ChoiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage builds a plain-text system message.
func SystemMessage(text string) Message {
	return Message{Role: "system", Content: text}
}

// UserMessage builds a multipart user message.
func UserMessage(parts ...ContentPart) Message {
	return Message{Role: "user", Content: parts}
}

// TextPart builds an inline text part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// JPEGPart builds an image part carrying JPEG bytes as a base64 data URL.
func JPEGPart(jpegData []byte) ContentPart {
	return ContentPart{
		Type: "image_url",
		ImageURL: &ImageURL{
			URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData),
		},
	}
}

// BaseURL returns the OpenAI-compatible base URL for a model served on host:port.
func BaseURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d/v1", host, port)
}

// NewClient creates a new LLM client
func NewClient(cfg Config, logger *observability.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = observability.Nop()
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for name, url := range cfg.Endpoints {
		endpoints[name] = url
	}

	return &Client{
		apiKey:     cfg.APIKey,
		endpoints:  endpoints,
		timeout:    cfg.Timeout,
		retry:      cfg.Retry,
		httpClient: &http.Client{},
		logger:     logger.WithOperation("llm"),
	}
}

// WithObserver attaches a call observer and returns the client.
func (c *Client) WithObserver(o CallObserver) *Client {
	c.observer = o
	return c
}

// Models returns the supported model names, sorted.
func (c *Client) Models() []string {
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateModel fails with an invalid_model error for unsupported models.
func (c *Client) ValidateModel(model string) error {
	if _, ok := c.endpoints[model]; !ok {
		return domain.InvalidModelError(model, c.Models())
	}
	return nil
}

// Complete sends messages to the model's endpoint and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, model string, messages []Message, temperature float64, maxTokens int) (string, error) {
	baseURL, ok := c.endpoints[model]
	if !ok {
		return "", domain.InvalidModelError(model, c.Models())
	}

	start := time.Now()
	text, err := c.complete(ctx, baseURL, Request{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if c.observer != nil {
		c.observer.ObserveCall(model, time.Since(start), err)
	}
	return text, err
}

func (c *Client) complete(ctx context.Context, baseURL string, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", domain.ExtractionRequestError("failed to marshal request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+completionPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return "", domain.ExtractionRequestError(fmt.Sprintf("request to %s failed", req.Model), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", domain.ExtractionRequestError(
			fmt.Sprintf("model %s returned status %d: %s", req.Model, resp.StatusCode, bytes.TrimSpace(snippet)), nil)
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", domain.ExtractionRequestError("failed to decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", domain.ExtractionRequestError(fmt.Sprintf("model %s returned no choices", req.Model), nil)
	}

	c.logger.Debug().
		Str("model", req.Model).
		Str("finish_reason", parsed.Choices[0].FinishReason).
		Int("chars", len(parsed.Choices[0].Message.Content)).
		Msg("completion received")

	return parsed.Choices[0].Message.Content, nil
}
