// Package errs defines the error kinds surfaced across pass boundaries.
//
// Inside a pass, pattern mismatch is ordinary control flow (return false),
// never an error. Only the kinds below cross component boundaries.
package errs

import (
	"context"

	"tlog.app/go/errors"
)

var (
	// MalformedMetadata: an upstream handle or signature cannot be decoded.
	MalformedMetadata = errors.New("malformed metadata")

	// InvariantViolation: an internal structural invariant broke.
	// Carried in panics raised by the il mutation API; fatal.
	InvariantViolation = errors.New("invariant violation")

	// ReflectionNameParse: grammar error in a reflection name.
	ReflectionNameParse = errors.New("reflection name parse error")

	// TransformFailure: a pass threw unexpectedly.
	TransformFailure = errors.New("transform failure")

	// Cancelled: cooperative cancellation observed.
	Cancelled = context.Canceled
)

func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
