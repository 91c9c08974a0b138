package internal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the category of a media error
type ErrorType int

const (
	ErrValidation ErrorType = iota
	ErrResolution
	ErrFetch
	ErrNotFound
	ErrOrchestration
)

// FetchKind narrows down why a fetch failed
type FetchKind int

const (
	KindNone FetchKind = iota
	KindNetwork
	KindAuth
	KindNotFound
	KindUnsupportedRendition
	KindTimeout
	KindCancelled
	KindStorage
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// MediaError is the error returned by every session and resolver operation
type MediaError struct {
	Type       ErrorType              `json:"type"`
	Kind       FetchKind              `json:"kind,omitempty"`
	Severity   ErrorSeverity          `json:"severity"`
	Message    string                 `json:"message"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`

	cause error
}

// Error implements the error interface
func (e *MediaError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.cause != nil && !strings.Contains(e.Message, e.cause.Error()) {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *MediaError) Unwrap() error {
	return e.cause
}

// DetailedError returns a detailed error message with all available information
func (e *MediaError) DetailedError() string {
	var parts []string

	header := fmt.Sprintf("[%s] %s Error", e.Severity.String(), e.Type.String())
	if e.Type == ErrFetch && e.Kind != KindNone {
		header += fmt.Sprintf(" (%s)", e.Kind.String())
	}
	parts = append(parts, header)

	if msg := e.Error(); msg != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", msg))
	}

	if e.URL != "" {
		parts = append(parts, fmt.Sprintf("URL: %s", redactSensitiveURL(e.URL)))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrValidation:
		return "Validation"
	case ErrResolution:
		return "Resolution"
	case ErrFetch:
		return "Fetch"
	case ErrNotFound:
		return "NotFound"
	case ErrOrchestration:
		return "Orchestration"
	default:
		return "Unknown"
	}
}

// String returns the string representation of FetchKind
func (k FetchKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not-found"
	case KindUnsupportedRendition:
		return "unsupported-rendition"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewMediaError creates a new MediaError with default suggestion and severity
func NewMediaError(errorType ErrorType, message string) *MediaError {
	return &MediaError{
		Type:       errorType,
		Message:    message,
		Severity:   getDefaultSeverity(errorType, KindNone),
		Suggestion: getDefaultSuggestion(errorType, KindNone),
		Context:    make(map[string]interface{}),
	}
}

// WithSuggestion adds a custom suggestion to the error
func (e *MediaError) WithSuggestion(suggestion string) *MediaError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *MediaError) WithURL(url string) *MediaError {
	e.URL = url
	return e
}

// WithContext adds context information to the error
func (e *MediaError) WithContext(key string, value interface{}) *MediaError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause records the underlying error
func (e *MediaError) WithCause(cause error) *MediaError {
	e.cause = cause
	return e
}

// IsRetryable returns true if a later attempt might succeed
func (e *MediaError) IsRetryable() bool {
	return e.Type == ErrFetch && (e.Kind == KindNetwork || e.Kind == KindTimeout)
}

// StatusCode maps the error onto the HTTP status the API responds with
func (e *MediaError) StatusCode() int {
	switch e.Type {
	case ErrValidation, ErrResolution:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrOrchestration:
		return http.StatusServiceUnavailable
	case ErrFetch:
		if e.Kind == KindNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

func getDefaultSuggestion(errorType ErrorType, kind FetchKind) string {
	switch errorType {
	case ErrValidation:
		return "Check the request parameters and try again"
	case ErrResolution:
		return "Verify the URL points to a public page that contains a video"
	case ErrNotFound:
		return "The download may have expired. Start a new download"
	case ErrOrchestration:
		return "The server is busy. Please try again in a moment"
	case ErrFetch:
		switch kind {
		case KindAuth:
			return "The source requires authentication. Provide a cookies file with --cookies"
		case KindTimeout:
			return "The download took too long. Try a smaller rendition"
		case KindUnsupportedRendition:
			return "Request a different format from /api/info"
		case KindStorage:
			return "Check available disk space and permissions of the storage directory"
		case KindNetwork:
			return "Check your internet connection and try again. Consider using a proxy if needed"
		}
		return "Download failed. Please try again"
	default:
		return "Please check the error details and try again"
	}
}

func getDefaultSeverity(errorType ErrorType, kind FetchKind) ErrorSeverity {
	switch {
	case errorType == ErrValidation || errorType == ErrNotFound:
		return SeverityWarning
	case errorType == ErrFetch && kind == KindStorage:
		return SeverityCritical
	case errorType == ErrFetch && kind == KindCancelled:
		return SeverityInfo
	default:
		return SeverityError
	}
}

// redactSensitiveURL redacts sensitive information from URLs
func redactSensitiveURL(url string) string {
	if i := strings.Index(url, "?"); i >= 0 {
		return url[:i] + "?[REDACTED]"
	}
	return url
}

// Common error constructors for frequently used errors

// NewInvalidInputError creates a validation error for a bad request field
func NewInvalidInputError(field, reason string) *MediaError {
	return NewMediaError(ErrValidation, fmt.Sprintf("invalid %s: %s", field, reason)).
		WithContext("field", field)
}

// NewResolutionError creates an error for a URL that could not be resolved
func NewResolutionError(url string, cause error) *MediaError {
	return NewMediaError(ErrResolution, "could not resolve media").
		WithURL(url).
		WithCause(cause)
}

// NewFetchError creates a fetch error of the given kind
func NewFetchError(kind FetchKind, message string) *MediaError {
	return &MediaError{
		Type:       ErrFetch,
		Kind:       kind,
		Message:    message,
		Severity:   getDefaultSeverity(ErrFetch, kind),
		Suggestion: getDefaultSuggestion(ErrFetch, kind),
		Context:    make(map[string]interface{}),
	}
}

// NewNotFoundError creates an error for an unknown or expired resource
func NewNotFoundError(what string) *MediaError {
	return NewMediaError(ErrNotFound, what)
}

// NewOrchestrationError creates an error for a session that could not be started
func NewOrchestrationError(message string) *MediaError {
	return NewMediaError(ErrOrchestration, message)
}

// AsMediaError extracts a MediaError from an error chain
func AsMediaError(err error) (*MediaError, bool) {
	var me *MediaError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	me, ok := AsMediaError(err)
	return ok && (me.Type == ErrNotFound || (me.Type == ErrFetch && me.Kind == KindNotFound))
}

// IsValidation reports whether err is caused by bad input
func IsValidation(err error) bool {
	if me, ok := AsMediaError(err); ok {
		return me.Type == ErrValidation
	}
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrorTypeOf returns the category of err. Field-level ValidationErrors
// count as ErrValidation.
func ErrorTypeOf(err error) (ErrorType, bool) {
	if me, ok := AsMediaError(err); ok {
		return me.Type, true
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ErrValidation, true
	}
	return 0, false
}

// KindOf returns the fetch kind of err, KindNone for anything else
func KindOf(err error) FetchKind {
	if me, ok := AsMediaError(err); ok {
		return me.Kind
	}
	return KindNone
}

// HTTPStatus returns the status code an API handler should answer err with
func HTTPStatus(err error) int {
	if me, ok := AsMediaError(err); ok {
		return me.StatusCode()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
