// Package handlers provides HTTP handlers for the doc-chat API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/doc-chat/internal/chat"
	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/observability"
	"github.com/spherical/doc-chat/internal/session"
)

// ChatService is the conversation service behind the handlers.
type ChatService interface {
	ProcessFile(ctx context.Context, req chat.FileRequest) (*chat.Response, error)
	ProcessMessage(ctx context.Context, req chat.MessageRequest) (*chat.Response, error)
	Session(id string) (*session.Session, error)
}

// ProcessHandler handles document and message processing requests.
type ProcessHandler struct {
	logger         *observability.Logger
	svc            ChatService
	maxUploadBytes int64
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(logger *observability.Logger, svc ChatService, maxUploadBytes int64) *ProcessHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 << 20
	}
	return &ProcessHandler{
		logger:         logger,
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
	}
}

// ErrorDTO is the body of every error response.
type ErrorDTO struct {
	Error        string   `json:"error"`
	Message      string   `json:"message"`
	Detail       string   `json:"detail,omitempty"`
	ValidModels  []string `json:"valid_models,omitempty"`
	SkippedPages []int    `json:"skipped_pages,omitempty"`
}

// ProcessFile handles POST /process/file.
func (h *ProcessHandler) ProcessFile(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		h.writeParseError(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "please upload a file", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "failed to read uploaded file", err.Error())
		return
	}

	isExtraction, err := parseBool(r.FormValue("is_extraction"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation", "is_extraction must be a boolean", err.Error())
		return
	}

	resp, err := h.svc.ProcessFile(r.Context(), chat.FileRequest{
		Filename:     header.Filename,
		Data:         data,
		Prompt:       r.FormValue("prompt"),
		SessionID:    r.FormValue("sessionId"),
		Model:        r.FormValue("model"),
		SystemPrompt: r.FormValue("system_prompt"),
		IsExtraction: isExtraction,
	})
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ProcessMessage handles POST /process/message.
func (h *ProcessHandler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r); err != nil {
		h.writeParseError(w, err)
		return
	}

	resp, err := h.svc.ProcessMessage(r.Context(), chat.MessageRequest{
		Prompt:        r.FormValue("prompt"),
		ExtractedText: r.FormValue("extracted_text"),
		SessionID:     r.FormValue("sessionId"),
		Model:         r.FormValue("model"),
		SystemPrompt:  r.FormValue("system_prompt"),
	})
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetSession handles GET /sessions/{sessionId}.
func (h *ProcessHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Session(chi.URLParam(r, "sessionId"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// parseForm accepts both multipart and urlencoded bodies.
func (h *ProcessHandler) parseForm(w http.ResponseWriter, r *http.Request) error {
	if r.ContentLength > h.maxUploadBytes {
		return &http.MaxBytesError{Limit: h.maxUploadBytes}
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	err := r.ParseMultipartForm(32 << 20)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

func (h *ProcessHandler) writeParseError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.writeError(w, http.StatusRequestEntityTooLarge, "validation",
			fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), err.Error())
		return
	}
	h.writeError(w, http.StatusBadRequest, "validation", "invalid form body", err.Error())
}

// writeDomainError maps err to a status code and error body.
func (h *ProcessHandler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	logger := h.logger.WithContext(ctx)

	de, ok := domain.AsDomainError(err)
	if !ok {
		logger.Error().Err(err).Msg("request failed")
		h.writeError(w, status, "internal", "internal server error", err.Error())
		return
	}

	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("error_type", string(de.Type)).Msg("request failed")
	} else {
		logger.Warn().Err(err).Str("error_type", string(de.Type)).Msg("request rejected")
	}

	body := ErrorDTO{
		Error:   string(de.Type),
		Message: de.Message,
		Detail:  detail(de),
	}
	switch de.Type {
	case domain.ErrorTypeInvalidModel:
		body.ValidModels = de.ValidModels
	case domain.ErrorTypeNoText:
		body.SkippedPages = de.Pages
	}
	writeJSON(w, status, body)
}

func (h *ProcessHandler) writeError(w http.ResponseWriter, status int, errType, message, detail string) {
	writeJSON(w, status, ErrorDTO{Error: errType, Message: message, Detail: detail})
}

// StatusFor returns the HTTP status for an error returned by the chat service.
func StatusFor(err error) int {
	de, ok := domain.AsDomainError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}

	switch de.Type {
	case domain.ErrorTypeValidation, domain.ErrorTypeInvalidModel, domain.ErrorTypeNoText:
		return http.StatusBadRequest
	case domain.ErrorTypeRender:
		return http.StatusUnprocessableEntity
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func detail(de *domain.DomainError) string {
	if de.Type == domain.ErrorTypeSynthesis && de.Err != nil {
		return "Final API request failed: " + de.Err.Error()
	}
	if de.Err != nil {
		return de.Err.Error()
	}
	return de.Message
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "no", "off", "f", "n":
		return false, nil
	case "true", "1", "yes", "on", "t", "y":
		return true, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", v)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
