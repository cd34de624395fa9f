package propagation

import (
	"errors"
	"fmt"
)

// ErrPropagation marks a single record whose elements are invalid or could
// not be propagated. It never aborts evaluation of the rest of a catalog.
var ErrPropagation = errors.New("propagation error")

// Error is a per-record propagation failure.
type Error struct {
	CatalogID string
	Reason    string
	Err       error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s for %s: %s: %v", ErrPropagation, e.CatalogID, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s for %s: %s", ErrPropagation, e.CatalogID, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPropagation) match any *Error.
func (e *Error) Is(target error) bool {
	return target == ErrPropagation
}

func newError(catalogID, reason string, err error) *Error {
	return &Error{CatalogID: catalogID, Reason: reason, Err: err}
}
