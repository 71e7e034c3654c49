package engine

import "errors"

// unavailableError signals that an inference backend cannot be used in this
// process (not compiled in, failed to initialize, or misconfigured), so the
// HTTP layer can return 503 Service Unavailable instead of 500.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err (or an error it wraps) marks a backend
// as unavailable.
func IsUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}
