package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thruflo/clave/internal/config"
	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/remote"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	rootDir      string
	rootLogLevel string
	rootLogFile  string
)

var rootCmd = &cobra.Command{
	Use:   "clave",
	Short: "Run and monitor autoclave process sessions",
	Long: `Clave starts, monitors and controls pressure/temperature process sessions
on an autoclave control service. A running session is shown as a live
dashboard with the current step, readings and a pressure/temperature chart,
and can be shared with other devices through the watch server.

Configuration is read from .clave/config.yaml and .clave/.env in the
working directory (or --dir).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("clave version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&rootDir, "dir", "", "project directory holding .clave/ (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&rootLogFile, "log-file", "", "write logs to this file (overrides config)")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newClient builds the remote client. Tests replace it.
var newClient = func(cfg *config.Config) (remote.Client, error) {
	return remote.NewHTTPClient(cfg.API.BaseURL,
		remote.WithToken(cfg.API.Token),
		remote.WithTimeout(cfg.API.Timeout),
		remote.WithMaxPages(cfg.API.MaxPages),
		remote.WithProgramCacheTTL(cfg.API.ProgramCacheTTL),
		remote.WithLogger(logging.With("component", "remote")),
	)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func basePath() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}

// loadConfig reads the project configuration and applies the logging
// flags.
func loadConfig() (string, *config.Config, error) {
	base, err := basePath()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.LoadConfig(base)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	if rootLogLevel != "" {
		cfg.Log.Level = rootLogLevel
	}
	if rootLogFile != "" {
		cfg.Log.File = rootLogFile
	}
	return base, cfg, nil
}

// setupLogging applies the configured level and destination. When the
// dashboard owns the terminal and no file is configured, logs go to
// .clave/clave.log so they do not tear the display.
func setupLogging(base string, cfg *config.Config, dashboard bool) (func(), error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, config.ValidationError{Field: "log.level", Message: err.Error()}
	}
	logging.SetLevel(level)

	path := cfg.Log.File
	if path == "" && dashboard {
		path = filepath.Join(base, config.Dir, "clave.log")
	}
	if path == "" {
		logging.SetWriter(os.Stderr)
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logging.SetWriter(f)
	return func() {
		logging.SetWriter(io.Discard)
		f.Close()
	}, nil
}
