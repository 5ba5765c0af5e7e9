// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"errors"
	"fmt"
)

// FailureKind classifies a backend error for retry purposes. Every
// backend implementation is responsible for classifying the errors its
// underlying SDK/driver returns into one of these, typically by matching
// known substrings/error codes or switching on the SDK's own error
// type.
type FailureKind int

const (
	// Transient is retryable: throttling, connection reset, timeout.
	Transient FailureKind = iota
	// Conflict means optimistic-concurrency state changed underneath a
	// conditional write; the affected RRset must be refreshed before
	// retrying.
	Conflict
	// Fatal indicates a malformed request this agent itself constructed
	// (a bug). Logged with context and skipped; never retried.
	Fatal
)

func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "Transient"
	case Conflict:
		return "Conflict"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying provider error with its classified kind.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify extracts the FailureKind from err if it (or something it
// wraps) is a *Error; otherwise it defaults to Transient, so an
// unclassified error still makes progress on retry rather than being
// silently dropped.
func Classify(err error) FailureKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Transient
}
