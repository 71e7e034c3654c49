package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"ghostd/internal/config"
	"ghostd/internal/manager"
	"ghostd/pkg/types"
)

// handleComplete serves POST /complete. Every call starts a new generation,
// so a later request supersedes an earlier one still in flight; the earlier
// caller receives cancelled=true.
func handleComplete(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CompleteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		trigger := manager.Automatic
		if req.Manual {
			trigger = manager.Manual
		}

		lvl := requestLogLevel(r)
		start := time.Now()
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Complete(ctx, trigger, req.Text, req.Cursor)
		if err != nil {
			// client went away or the server is shutting down
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeError(w, err)
			return
		}
		if lvl >= LevelDebug {
			ev := zlog.Debug().Str("trigger", trigger.String()).Uint64("gen", res.Generation).
				Int("chars", len(res.Text)).Dur("dur", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.AnErr("result_err", res.Err).Msg("complete")
		}

		resp := types.CompleteResponse{Generation: res.Generation, Trigger: res.Trigger.String()}
		switch {
		case manager.IsCancelled(res.Err):
			resp.Cancelled = true
		case res.Err != nil:
			writeError(w, res.Err)
			return
		default:
			resp.Text = res.Text
		}
		writeJSON(w, resp)
	}
}

// handlePutSettings replaces the LLM settings. Sending the redacted API key
// back keeps the stored one. The engine reloads lazily on the next request.
func handlePutSettings(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var d types.Settings
		if !decodeJSON(w, r, &d) {
			return
		}
		if d.APIKey == manager.RedactedAPIKey {
			d.APIKey = svc.Settings().APIKey
		}
		config.NormalizeSettings(&d)
		if err := config.ValidateSettings(d); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		svc.UpdateSettings(manager.SettingsFromDTO(d))
		zlog.Info().Str("provider", d.Provider).Msg("settings updated")
		writeJSON(w, svc.Settings().DTO())
	}
}
