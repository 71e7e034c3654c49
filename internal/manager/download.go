package manager

import (
	"context"
	"errors"

	"ghostd/internal/artifact"
	"ghostd/internal/modelref"
)

// DefaultReference is the default model for the current device class.
func (m *Manager) DefaultReference(ctx context.Context) (modelref.Reference, error) {
	s := m.Settings()
	_, gpu := m.selectDevice(ctx, s)
	return defaultReference(s, gpu)
}

// Download fetches and verifies a model. An empty refText selects
// DefaultReference. It blocks for the whole transfer; onProgress runs on the
// calling goroutine and must only hand data off.
func (m *Manager) Download(ctx context.Context, refText string, onProgress artifact.ProgressFunc) (string, error) {
	if m.store == nil {
		return "", errors.New("no model store configured")
	}
	var (
		ref modelref.Reference
		err error
	)
	if isBlank(refText) {
		ref, err = m.DefaultReference(ctx)
	} else {
		ref, err = modelref.Parse(refText)
	}
	if err != nil {
		return "", err
	}

	gen := m.Generation()
	m.publish("download_start", gen, map[string]any{"reference": ref.String()})
	var last uint64
	path, err := m.store.DownloadWithProgress(ctx, ref, func(p artifact.Progress) {
		if p.Phase == artifact.PhaseDownloading && p.Transferred > last {
			metricDownloadBytes.Add(float64(p.Transferred - last))
			last = p.Transferred
		}
		if onProgress != nil {
			onProgress(p)
		}
	})
	if err != nil {
		metricDownloads.WithLabelValues("error").Inc()
		m.recordError(err)
		m.log.Error().Str("event", "download_error").Str("ref", ref.String()).Err(err).Send()
		m.publish("download_error", gen, map[string]any{"reference": ref.String(), "error": err.Error()})
		return "", err
	}
	metricDownloads.WithLabelValues("ok").Inc()
	m.publish("download_done", gen, map[string]any{"reference": ref.String(), "path": path})
	return path, nil
}
