package manager

import (
	"context"
	"fmt"

	"ghostd/internal/modelref"
	"ghostd/pkg/types"
)

// ReadinessState classifies whether a completion can be served without setup.
type ReadinessState string

const (
	ReadinessReady              ReadinessState = "ready"
	ReadinessNeedsDownload      ReadinessState = "needs_download"
	ReadinessNeedsEndpoint      ReadinessState = "needs_endpoint"
	ReadinessBackendUnavailable ReadinessState = "backend_unavailable"
	ReadinessInvalidReference   ReadinessState = "invalid_reference"
)

// Readiness is the result of a pre-flight check.
type Readiness struct {
	State ReadinessState
	// Reference is the model to download for ReadinessNeedsDownload.
	Reference modelref.Reference
	Err       error
}

// DTO converts to the API representation.
func (r Readiness) DTO() types.ReadinessResponse {
	out := types.ReadinessResponse{State: string(r.State)}
	switch r.State {
	case ReadinessNeedsDownload:
		out.Reference = r.Reference.String()
		out.Message = fmt.Sprintf("model %s is not downloaded", out.Reference)
	case ReadinessNeedsEndpoint:
		out.Message = "remote provider has no endpoint configured"
	}
	if r.Err != nil {
		out.Message = r.Err.Error()
	}
	return out
}

// Readiness classifies the current settings without downloading or loading
// anything. A cached default model is re-hashed to confirm it is intact.
func (m *Manager) Readiness(ctx context.Context) Readiness {
	s := m.Settings()
	if s.IsRemote() {
		if isBlank(s.Endpoint) {
			return Readiness{State: ReadinessNeedsEndpoint}
		}
		return Readiness{State: ReadinessReady}
	}
	if err := m.backendOK(); err != nil {
		return Readiness{State: ReadinessBackendUnavailable, Err: err}
	}
	if _, ok := overridePath(s); ok {
		return Readiness{State: ReadinessReady}
	}
	_, gpu := m.selectDevice(ctx, s)
	ref, err := defaultReference(s, gpu)
	if err != nil {
		return Readiness{State: ReadinessInvalidReference, Err: err}
	}
	if m.store != nil {
		if _, ok := m.store.Lookup(ref); ok {
			return Readiness{State: ReadinessReady}
		}
	}
	return Readiness{State: ReadinessNeedsDownload, Reference: ref}
}
