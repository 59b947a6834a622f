// Package llm implements structured expense extraction over a generative-text
// provider. This file defines the extraction error taxonomy shared by the
// client, the retry loop, and the intake pipeline.
//
// The split matters for retry policy:
//   - Transient: network failures, rate limits, provider 5xx, and responses
//     that did not parse. Retrying the same input may succeed.
//   - Permanent: the response parsed but failed semantic validation (missing
//     description, non-positive amount). Retrying a deterministic validation
//     mismatch cannot change the outcome, so these are never retried.
package llm

import (
	"errors"
	"fmt"
)

// ErrKind classifies an ExtractionError for retry decisions.
type ErrKind int

const (
	// KindTransient marks failures worth retrying (network, rate limit,
	// malformed response).
	KindTransient ErrKind = iota
	// KindPermanent marks deterministic failures (semantic validation).
	KindPermanent
)

// ExtractionError is the only error type Extract returns. It wraps the
// underlying cause and carries the retry classification.
type ExtractionError struct {
	Kind ErrKind
	Err  error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	switch e.Kind {
	case KindPermanent:
		return fmt.Sprintf("extraction failed permanently: %v", e.Err)
	default:
		return fmt.Sprintf("extraction failed transiently: %v", e.Err)
	}
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *ExtractionError) Unwrap() error { return e.Err }

// transientErr wraps err as a retryable ExtractionError.
func transientErr(err error) *ExtractionError {
	return &ExtractionError{Kind: KindTransient, Err: err}
}

// permanentErr wraps err as a non-retryable ExtractionError.
func permanentErr(err error) *ExtractionError {
	return &ExtractionError{Kind: KindPermanent, Err: err}
}

// IsTransient reports whether err is a transient extraction failure.
func IsTransient(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Kind == KindTransient
}

// IsPermanent reports whether err is a permanent extraction failure.
func IsPermanent(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Kind == KindPermanent
}
