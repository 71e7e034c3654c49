package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDebounce batches the bursts of events editors produce on save.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and passes each valid configuration
// to onChange. Invalid files are logged and ignored. The parent directory is
// watched so atomic replace-on-save is seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, log zerolog.Logger, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(DefaultReloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Str("event", "config_watch_error").Err(err).Send()
		case <-timer.C:
			cfg, err := LoadAndValidate(abs)
			if err != nil {
				log.Warn().Str("event", "config_reload_failed").Str("path", abs).Err(err).Msg("keeping previous config")
				continue
			}
			log.Info().Str("event", "config_reloaded").Str("path", abs).Send()
			onChange(cfg)
		}
	}
}
