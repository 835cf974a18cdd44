package pollapi

import (
	"errors"
	"fmt"
	"net/http"

	"PollPulse/internal/domain/models"
)

// SubmitKind classifies a failed vote submission.
type SubmitKind string

const (
	KindExpired       SubmitKind = "expired"
	KindDuplicate     SubmitKind = "duplicate"
	KindInvalidOption SubmitKind = "invalid_option"
	KindClosed        SubmitKind = "closed"
	KindNotFound      SubmitKind = "not_found"
	KindValidation    SubmitKind = "validation"
	KindServer        SubmitKind = "server"
)

// APIError is a non-successful envelope or HTTP status from the backend.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("poll api: status %d code %d", e.Status, e.Code)
	}
	return fmt.Sprintf("poll api: %s (status %d, code %d)", e.Message, e.Status, e.Code)
}

// Unwrap exposes the domain error for the envelope code, if there is one,
// so callers can use errors.Is(err, models.ErrPollNotFound).
func (e *APIError) Unwrap() error { return domainError(e.Code) }

// SubmitError is returned by SubmitVote.
type SubmitError struct {
	Kind    SubmitKind
	Code    int
	Status  int
	Message string
	Err     error
}

func (e *SubmitError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("submit vote: %s: %s", e.Kind, msg)
}

func (e *SubmitError) Unwrap() error { return e.Err }

func domainError(code int) error {
	switch code {
	case models.CodePollNotFound:
		return models.ErrPollNotFound
	case models.CodePollExpired:
		return models.ErrPollExpired
	case models.CodeOptionNotFound:
		return models.ErrOptionNotFound
	case models.CodeDuplicateVote:
		return models.ErrDuplicateVote
	case models.CodePollClosed:
		return models.ErrPollClosed
	case models.CodeValidation:
		return models.ErrInvalidVote
	}
	return nil
}

// Classify maps a submission error to its kind: envelope code first, HTTP
// status second. Transport failures are KindServer.
func Classify(err error) SubmitKind {
	var ae *APIError
	if !errors.As(err, &ae) {
		return KindServer
	}
	switch ae.Code {
	case models.CodePollExpired:
		return KindExpired
	case models.CodeDuplicateVote:
		return KindDuplicate
	case models.CodeOptionNotFound:
		return KindInvalidOption
	case models.CodePollClosed:
		return KindClosed
	case models.CodePollNotFound:
		return KindNotFound
	case models.CodeValidation:
		return KindValidation
	}
	switch {
	case ae.Status == http.StatusNotFound:
		return KindNotFound
	case ae.Status == http.StatusConflict:
		return KindDuplicate
	case ae.Status == http.StatusGone:
		return KindExpired
	case ae.Status == http.StatusBadRequest, ae.Status == http.StatusUnprocessableEntity:
		return KindValidation
	}
	return KindServer
}

func newSubmitError(err error) *SubmitError {
	se := &SubmitError{Kind: Classify(err), Err: err}
	var ae *APIError
	if errors.As(err, &ae) {
		se.Code, se.Status, se.Message = ae.Code, ae.Status, ae.Message
	}
	return se
}
