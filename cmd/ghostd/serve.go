package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ghostd/internal/config"
	"ghostd/internal/httpapi"
	"ghostd/internal/manager"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		origins   string
		preload   bool
		noWatch   bool
		debounce  int
		maxWaitMS int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket completion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("addr") {
				a.cfg.Addr = addr
			}
			if flags.Changed("cors-origins") {
				a.cfg.CORS.Enabled = true
				a.cfg.CORS.AllowedOrigins = splitCSV(origins)
			}
			if flags.Changed("debounce-ms") {
				a.cfg.DebounceMS = debounce
			}
			if flags.Changed("max-wait-ms") {
				a.cfg.MaxWaitMS = maxWaitMS
			}
			return a.serve(cmd.Context(), preload, !noWatch)
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", config.DefaultAddr, "HTTP listen address")
	f.StringVar(&origins, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	f.BoolVar(&preload, "preload", false, "Load the model at startup")
	f.BoolVar(&noWatch, "no-watch", false, "Do not reload LLM settings when the config file changes")
	f.IntVar(&debounce, "debounce-ms", 0, "Automatic completion debounce for editor sessions")
	f.IntVar(&maxWaitMS, "max-wait-ms", 0, "Maximum delay of an automatic completion while typing")
	return cmd
}

func (a *app) serve(parent context.Context, preload, watch bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := a.newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(a.cfg.CORS.Enabled, a.cfg.CORS.AllowedOrigins, a.cfg.CORS.AllowedMethods, a.cfg.CORS.AllowedHeaders)
	httpapi.SetSessionTiming(
		time.Duration(a.cfg.DebounceMS)*time.Millisecond,
		time.Duration(a.cfg.MaxWaitMS)*time.Millisecond,
	)

	if watch && a.cfgPath != "" {
		go func() {
			err := config.Watch(ctx, a.cfgPath, a.log, func(c config.Config) {
				m.UpdateSettings(manager.SettingsFromDTO(c.LLM))
				a.log.Info().Str("provider", c.LLM.Provider).Msg("settings reloaded")
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn().Err(err).Msg("config watch stopped")
			}
		}()
	}

	if preload {
		go func() {
			if err := m.EnsureLoaded(ctx); err != nil {
				a.log.Warn().Err(err).Msg("preload failed")
			}
		}()
	}
	startupCheck(ctx, m, a.log)

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           httpapi.NewMux(m),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Str("models_dir", a.cfg.ModelsDir).Msg("ghostd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

type readinessChecker interface {
	Readiness(ctx context.Context) manager.Readiness
}

// startupCheck logs readiness in the background. Verifying a cached model
// hashes the whole file, so it must not delay the listener.
func startupCheck(ctx context.Context, rc readinessChecker, log zerolog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r := rc.Readiness(ctx)
		log.Info().Str("readiness", string(r.State)).Str("reference", r.Reference.String()).Msg("startup check")
	}()
	return done
}
