package core

import (
	"errors"
	"fmt"
)

// CallFailure classifies a failed model or tool call.
type CallFailure string

const (
	FailTimeout      CallFailure = "timeout"
	FailEmpty        CallFailure = "empty"
	FailRateLimited  CallFailure = "rate_limited"
	FailUnavailable  CallFailure = "unavailable"
	FailAuth         CallFailure = "auth"
	FailInvalidModel CallFailure = "invalid_model"
	FailMalformed    CallFailure = "malformed"
)

// Transient reports whether the failure may succeed on a later attempt.
func (f CallFailure) Transient() bool {
	switch f {
	case FailTimeout, FailEmpty, FailRateLimited, FailUnavailable:
		return true
	}
	return false
}

// CallError is the classified error returned by a backend or tool.
type CallError struct {
	Failure CallFailure
	Message string
	Cause   error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Failure, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Failure, e.Message)
}

func (e *CallError) Unwrap() error { return e.Cause }

// NewCallError builds a CallError.
func NewCallError(f CallFailure, msg string, cause error) *CallError {
	return &CallError{Failure: f, Message: msg, Cause: cause}
}

// IsTransient reports whether err is a retryable call failure.
func IsTransient(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Failure.Transient()
	}
	return false
}

// FailureOf returns the classified failure, if err carries one.
func FailureOf(err error) (CallFailure, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Failure, true
	}
	return "", false
}
