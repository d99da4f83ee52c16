package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned when a job payload is missing or malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnsupportedJobType is returned when a message names a type no step handles
	ErrUnsupportedJobType = errors.New("unsupported job type")

	// ErrNoSuccessfulChildren is recorded on a ROOT whose every transcription failed
	ErrNoSuccessfulChildren = errors.New("all transcription jobs failed")

	// ErrReferenceNotFound is returned when an upload id resolves to nothing
	ErrReferenceNotFound = errors.New("reference not found")
)

// ValidationError reports bad input. It is never retried.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %v", e.Message, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) error {
	return &ValidationError{Message: message, Err: err}
}

// ProviderError reports a failed call to the transcription or generation provider
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, err error) error {
	return &ProviderError{Provider: provider, Err: err}
}

// ParseError reports model output that could not be turned into a SOAP note
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new parse error
func NewParseError(err error) error {
	return &ParseError{Err: err}
}

// StoreError reports a persistence failure. The step is reattempted on redelivery.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new store error
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether redelivering the message could succeed
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}

// IsTerminalStepError reports whether err is a step failure recorded on the job
func IsTerminalStepError(err error) bool {
	var (
		validationErr *ValidationError
		providerErr   *ProviderError
		parseErr      *ParseError
	)
	return errors.As(err, &validationErr) || errors.As(err, &providerErr) || errors.As(err, &parseErr)
}
