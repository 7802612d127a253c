package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeRender            ErrorType = "render"
	ErrorTypeInvalidModel      ErrorType = "invalid_model"
	ErrorTypeExtractionRequest ErrorType = "extraction_request"
	ErrorTypeInvalidFormat     ErrorType = "invalid_format"
	ErrorTypeNoText            ErrorType = "no_text"
	ErrorTypeSynthesis         ErrorType = "synthesis"
	ErrorTypePersistence       ErrorType = "persistence"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeConfig            ErrorType = "config"
	ErrorTypeIO                ErrorType = "io"
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error

	// Pages lists the page indices an error refers to (skipped pages for no_text).
	Pages []int
	// ValidModels is populated for invalid_model errors.
	ValidModels []string
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// AsDomainError returns the first DomainError in err's chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsType reports whether err carries a DomainError of the given type.
func IsType(err error, errType ErrorType) bool {
	de, ok := AsDomainError(err)
	return ok && de.Type == errType
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func RenderError(message string, err error) *DomainError {
	return NewError(ErrorTypeRender, message, err)
}

func InvalidModelError(model string, valid []string) *DomainError {
	e := NewError(ErrorTypeInvalidModel, fmt.Sprintf("invalid model: %s", model), nil)
	e.ValidModels = valid
	return e
}

func ExtractionRequestError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtractionRequest, message, err)
}

func InvalidFormatError(message string, err error) *DomainError {
	return NewError(ErrorTypeInvalidFormat, message, err)
}

func NoTextExtractedError(skipped []int) *DomainError {
	e := NewError(ErrorTypeNoText, "no valid text extracted from any pages", nil)
	e.Pages = skipped
	return e
}

func SynthesisError(message string, err error) *DomainError {
	return NewError(ErrorTypeSynthesis, message, err)
}

func PersistenceError(message string, err error) *DomainError {
	return NewError(ErrorTypePersistence, message, err)
}

func NotFoundError(message string) *DomainError {
	return NewError(ErrorTypeNotFound, message, nil)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}
