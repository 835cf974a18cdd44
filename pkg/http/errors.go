package http

import (
	"fmt"
	"net/http"
)

// Envelope codes shared by every endpoint. Domain-specific codes live next
// to the domain errors that produce them.
const (
	CodeOK         = 0
	CodeUnknown    = 10000
	CodeValidation = 10001
)

// AppError represents application-level error with HTTP status.
type AppError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError creates a new application error.
func NewAppError(code int, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func NotFoundError(code int, message string) *AppError {
	return NewAppError(code, message, http.StatusNotFound)
}

func BadRequestError(code int, message string) *AppError {
	return NewAppError(code, message, http.StatusBadRequest)
}

func BadRequestErrorf(code int, format string, a ...interface{}) *AppError {
	return BadRequestError(code, fmt.Sprintf(format, a...))
}

func ConflictError(code int, message string) *AppError {
	return NewAppError(code, message, http.StatusConflict)
}

func TooManyRequestsError(message string) *AppError {
	return NewAppError(CodeUnknown, message, http.StatusTooManyRequests)
}

func InternalError(message string) *AppError {
	return NewAppError(CodeUnknown, message, http.StatusInternalServerError)
}

// StatusError is returned by Client when the peer answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}
