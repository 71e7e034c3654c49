package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"ghostd/internal/artifact"
	"ghostd/internal/modelref"
	"ghostd/pkg/types"
)

// handleDownload serves POST /download as an NDJSON stream of
// types.DownloadEvent lines. Progress is throttled; phase changes and the
// final line are always written.
func handleDownload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.DownloadRequest
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		req.Reference = strings.TrimSpace(req.Reference)
		if req.Reference != "" {
			if _, err := modelref.Parse(req.Reference); err != nil {
				writeError(w, err)
				return
			}
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		out := io.Writer(w)
		if requestLogLevel(r) >= LevelDebug {
			out = io.MultiWriter(w, &lineLogger{path: r.URL.Path})
		}
		enc := json.NewEncoder(out)
		id := uuid.NewString()
		write := func(ev types.DownloadEvent) {
			ev.ID = id
			if err := enc.Encode(ev); err != nil {
				IncrementProgressDropped("write")
				return
			}
			if flush != nil {
				flush()
			}
		}

		limiter := rate.NewLimiter(rate.Every(progressInterval), 1)
		var lastPhase artifact.Phase
		onProgress := func(p artifact.Progress) {
			allowed := limiter.Allow()
			if p.Phase == lastPhase && !allowed {
				IncrementProgressDropped("throttled")
				return
			}
			lastPhase = p.Phase
			write(types.DownloadEvent{Phase: string(p.Phase), Transferred: p.Transferred, Total: p.Total})
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		zlog.Info().Str("id", id).Str("reference", req.Reference).Msg("download start")
		path, err := svc.Download(ctx, req.Reference, onProgress)
		if err != nil {
			zlog.Error().Str("id", id).Err(err).Msg("download failed")
			if r.Context().Err() != nil {
				return
			}
			write(types.DownloadEvent{Done: true, Error: err.Error()})
			return
		}
		zlog.Info().Str("id", id).Str("path", path).Msg("download done")
		write(types.DownloadEvent{Phase: string(artifact.PhaseFinished), Done: true, Path: path})
	}
}
