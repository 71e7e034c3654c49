package main

import (
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ghostd/internal/artifact"
	"ghostd/internal/common/fsutil"
	"ghostd/internal/config"
	"ghostd/internal/manager"
	"ghostd/internal/registry"
)

// app carries state shared by all subcommands.
type app struct {
	cfgPath string
	cfg     config.Config
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}
	root := &cobra.Command{
		Use:           "ghostd",
		Short:         "Ghost-text code completion daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags override values from the config file.
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", os.Getenv("GHOSTD_CONFIG"), "Config file (.yaml, .json, .toml); defaults GHOSTD_CONFIG")
	pf.String("log-level", "", "Log level: trace|debug|info|warn|error|off")
	pf.String("log-format", "", "Log format: console|json")
	pf.String("models-dir", "", "Directory for downloaded models")
	pf.String("registry-url", "", "Base URL of the model registry")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.init(cmd)
	}

	root.AddCommand(
		newServeCmd(a),
		newPullCmd(a),
		newCompleteCmd(a),
		newDevicesCmd(a),
		newReadinessCmd(a),
	)
	return root
}

// init loads the config file, applies flag overrides and builds the logger.
func (a *app) init(cmd *cobra.Command) error {
	if a.cfgPath != "" {
		cfg, err := config.LoadAndValidate(a.cfgPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"log-level":    &a.cfg.LogLevel,
		"log-format":   &a.cfg.LogFormat,
		"models-dir":   &a.cfg.ModelsDir,
		"registry-url": &a.cfg.RegistryURL,
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	a.log = newLogger(a.cfg.LogLevel, a.cfg.LogFormat)
	return nil
}

// newLogger writes to stderr. Console output is colored only on a terminal.
func newLogger(level, format string) zerolog.Logger {
	level = strings.ToLower(level)
	if level == "off" {
		level = "disabled"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var l zerolog.Logger
	if format == "json" {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		})
	}
	return l.Level(lvl).With().Timestamp().Logger()
}

// newManager wires the artifact store and registry client from config.
func (a *app) newManager() (*manager.Manager, error) {
	dir, err := fsutil.ExpandHome(a.cfg.ModelsDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	opts := []registry.Option{registry.WithBaseURL(a.cfg.RegistryURL), registry.WithUserAgent("ghostd")}
	if a.cfg.RegistryToken != "" {
		opts = append(opts, registry.WithToken(a.cfg.RegistryToken))
	}
	client := registry.New(opts...)
	store := artifact.New(dir, client, client, artifact.WithLogger(a.log.With().Str("component", "artifact").Logger()))

	mlog := a.log.With().Str("component", "manager").Logger()
	m := manager.NewWithConfig(manager.ManagerConfig{
		Settings:  manager.SettingsFromDTO(a.cfg.LLM),
		Store:     store,
		Publisher: manager.NewLogPublisher(mlog),
		Logger:    &mlog,
	})
	return m, nil
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
