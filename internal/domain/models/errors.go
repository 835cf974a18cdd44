package models

import (
	"errors"
	"fmt"
)

// Envelope codes for poll errors.
const (
	CodeUnknown        = 10000
	CodeValidation     = 10001
	CodePollNotFound   = 20001
	CodePollExpired    = 20002
	CodeOptionNotFound = 20003
	CodeDuplicateVote  = 20004
	CodePollClosed     = 20005
)

// DomainError is an error with an envelope code.
type DomainError struct {
	Code    int
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// Is matches on code so wrapped copies with other messages still compare equal.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrInvalidPollID  = errors.New("poll id must be a positive integer")
	ErrPollNotFound   = &DomainError{Code: CodePollNotFound, Message: "poll not found"}
	ErrPollExpired    = &DomainError{Code: CodePollExpired, Message: "poll has expired"}
	ErrOptionNotFound = &DomainError{Code: CodeOptionNotFound, Message: "option not found"}
	ErrDuplicateVote  = &DomainError{Code: CodeDuplicateVote, Message: "you have already voted in this poll"}
	ErrPollClosed     = &DomainError{Code: CodePollClosed, Message: "poll is not open for voting"}
	ErrInvalidVote    = &DomainError{Code: CodeValidation, Message: "invalid vote"}
	ErrValidation     = &DomainError{Code: CodeValidation, Message: "validation failed"}
)

// Errorf returns a DomainError with base's code and a formatted message.
func Errorf(base *DomainError, format string, a ...interface{}) error {
	return &DomainError{Code: base.Code, Message: fmt.Sprintf(format, a...)}
}
