package upstream

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the shared request budget is exhausted.
// Callers should skip or retry after the reset; it is not a hard failure.
var ErrRateLimited = errors.New("upstream request budget exhausted")

// UnavailableError covers transport failures, timeouts and unexpected
// non-2xx responses from the upstream product API. It fails only the key
// being fetched, never sibling items.
type UnavailableError struct {
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream unavailable: %v", e.Err)
	}
	return fmt.Sprintf("upstream unavailable: HTTP %d", e.StatusCode)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// errEmptyResult is the internal marker for the upstream quirk of signaling
// "no results" with an HTTP 500 and a specific body. It never escapes the
// client; callers see an empty result instead.
var errEmptyResult = errors.New("upstream empty result")
