package tle

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks transport or non-success-status failures
	// fetching the catalog feed. These are transient and safe to retry.
	ErrSourceUnavailable = errors.New("catalog source unavailable")

	// ErrMalformedCatalog marks structural violations in catalog text.
	// Retrying the same input will not help.
	ErrMalformedCatalog = errors.New("malformed catalog")
)

// ParseError describes where catalog text violated the TLE layout.
type ParseError struct {
	Line   int // 1-based line number of the offending line, 0 when not line-specific
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", ErrMalformedCatalog, e.Reason)
	}
	return fmt.Sprintf("%s: line %d: %s", ErrMalformedCatalog, e.Line, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedCatalog) match any ParseError.
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedCatalog
}

// IsTransient reports whether err is a failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}
