package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrServiceUnavailable indicates an upstream service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrOriginalMissing indicates the immutable original is gone from the archive
	ErrOriginalMissing = errors.New("immutable original missing")

	// ErrSuperseded indicates a task belongs to a run that is no longer current
	ErrSuperseded = errors.New("run superseded")

	// ErrStepChanged indicates a conditional step update found the row in
	// another state than expected
	ErrStepChanged = errors.New("step changed concurrently")

	// ErrCredentialUnhealthy indicates a destination credential failed its last probe
	ErrCredentialUnhealthy = errors.New("credential unhealthy")

	// ErrUnknownStep indicates a step name that is neither static nor a destination step
	ErrUnknownStep = errors.New("unknown step")

	// ErrNoExtractor indicates no text extractor handles the MIME type
	ErrNoExtractor = errors.New("no extractor for mime type")
)

// ErrorKind classifies step failures for retry decisions.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
)

// StepError carries the retry classification of a step failure.
type StepError struct {
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable (network, timeouts, rate limits).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Kind: ErrorKindTransient, Err: err}
}

// Permanent marks err as not retryable (corrupt input, unsupported format).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Kind: ErrorKindPermanent, Err: err}
}

// IsTransient reports whether err was marked transient. Unclassified errors are permanent.
func IsTransient(err error) bool {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind == ErrorKindTransient
	}
	return false
}

// OriginalMissingError is returned when a retry is requested but the
// immutable original no longer exists.
type OriginalMissingError struct {
	DocumentID string
	Path       string
}

func (e *OriginalMissingError) Error() string {
	return fmt.Sprintf("document %s: immutable original missing at %q", e.DocumentID, e.Path)
}

// Is matches ErrOriginalMissing.
func (e *OriginalMissingError) Is(target error) bool {
	return target == ErrOriginalMissing
}
