package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ghostd/internal/manager"
	"ghostd/internal/session"
	"ghostd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager implements it.
type Service interface {
	session.Coordinator

	ListModels() ([]types.Model, error)
	Devices(ctx context.Context) ([]types.Device, error)
	Status() types.StatusResponse
	Ready() bool
	Readiness(ctx context.Context) manager.Readiness
	Complete(ctx context.Context, t manager.Trigger, text string, cursor int) (manager.Result, error)
	EnsureLoaded(ctx context.Context) error
	Unload() error
	Settings() manager.Settings
	UpdateSettings(s manager.Settings)
}

var _ Service = (*manager.Manager)(nil)

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	// Streaming and upgraded routes stay uncompressed.
	r.Post("/download", handleDownload(svc))
	r.Get("/ws", handleWS(svc))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			models, err := svc.ListModels()
			if err != nil {
				writeError(w, err)
				return
			}
			if models == nil {
				models = []types.Model{}
			}
			writeJSON(w, types.ModelsResponse{Models: models})
		})

		r.Get("/devices", func(w http.ResponseWriter, r *http.Request) {
			devs, err := svc.Devices(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			if devs == nil {
				devs = []types.Device{}
			}
			writeJSON(w, types.DevicesResponse{Devices: devs})
		})

		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Status())
		})

		r.Get("/readiness", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Readiness(r.Context()).DTO())
		})

		r.Get("/settings", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, svc.Settings().DTO())
		})
		r.Put("/settings", handlePutSettings(svc))

		r.Post("/complete", handleComplete(svc))

		r.Post("/preload", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := joinContexts(serverBaseCtx, r.Context())
			defer cancel()
			if err := svc.EnsureLoaded(ctx); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, svc.Status())
		})

		r.Post("/unload", func(w http.ResponseWriter, r *http.Request) {
			if err := svc.Unload(); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, svc.Status())
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSON enforces the content type and body limit. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// MaxBytesReader errors land here too; keep them as 400
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
