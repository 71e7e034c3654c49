package registry

import (
	"errors"
	"fmt"
)

// TransportError reports a failed registry request: a network failure, a
// non-2xx status, or an unreadable response.
type TransportError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry %s %s: status %d", e.Op, e.URL, e.Status)
	}
	return fmt.Sprintf("registry %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
