package protocol

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind classifies an execution failure for retry decisions.
type ErrorKind string

const (
	ErrorTransient ErrorKind = "transient"
	ErrorFatal     ErrorKind = "fatal"
)

// AgentError is the structured error carried by an agent result.
type AgentError struct {
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AgentError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}

	return e.Message
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &AgentError{Kind: ErrorTransient, Message: err.Error(), Err: err}
}

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error {
	return &AgentError{Kind: ErrorFatal, Message: err.Error(), Err: err}
}

var transientMarkers = []string{
	"429",
	"rate limit",
	"ratelimit",
	"timeout",
	"timed out",
	"overloaded",
	"connection",
	"throttl",
	"temporarily unavailable",
}

// IsTransient reports whether err should be retried. A structured kind always
// wins; unclassified errors fall back to matching the message text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var agentErr *AgentError
	if errors.As(err, &agentErr) && agentErr.Kind != "" {
		return agentErr.Kind == ErrorTransient
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// IsFatal reports whether err is explicitly classified as fatal.
func IsFatal(err error) bool {
	var agentErr *AgentError

	return errors.As(err, &agentErr) && agentErr.Kind == ErrorFatal
}
