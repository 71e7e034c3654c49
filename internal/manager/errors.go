package manager

import (
	"errors"

	"ghostd/internal/engine"
)

// ErrCancelled marks a request superseded by a newer generation. It is never
// a user-visible error.
var ErrCancelled = errors.New("completion cancelled: superseded by newer request")

// ErrEmptyContext is returned for manual requests with no text to complete.
var ErrEmptyContext = errors.New("type some text before requesting a completion")

// IsCancelled reports whether err marks a superseded request.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsBackendUnavailable reports whether err means the local backend (or a
// misconfigured remote provider) cannot serve requests, so the HTTP layer can
// return 503 instead of 500.
func IsBackendUnavailable(err error) bool { return engine.IsUnavailable(err) }
