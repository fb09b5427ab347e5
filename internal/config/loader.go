package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thruflo/clave/internal/logging"
)

// Dir is the per-project configuration directory.
const Dir = ".clave"

// Default values for Config.
const (
	DefaultBaseURL           = "http://localhost:5000"
	DefaultTimeout           = 10 * time.Second
	DefaultMaxPages          = 3
	DefaultProgramCacheTTL   = 5 * time.Minute
	DefaultSampleInterval    = time.Second
	DefaultReconcileInterval = 5 * time.Second
	DefaultTickInterval      = time.Second
	DefaultChartCapacity     = 60
	DefaultCommandRetries    = 3
	DefaultRetryBackoff      = 500 * time.Millisecond
	DefaultServerHost        = "127.0.0.1"
	DefaultServerPort        = 8375
	DefaultLogLevel          = "warn"
)

// DefaultAPI returns API settings with sensible default values.
func DefaultAPI() API {
	return API{
		BaseURL:         DefaultBaseURL,
		Timeout:         DefaultTimeout,
		MaxPages:        DefaultMaxPages,
		ProgramCacheTTL: DefaultProgramCacheTTL,
	}
}

// DefaultMonitor returns monitor settings with sensible default values.
func DefaultMonitor() Monitor {
	return Monitor{
		SampleInterval:    DefaultSampleInterval,
		ReconcileInterval: DefaultReconcileInterval,
		TickInterval:      DefaultTickInterval,
		ChartCapacity:     DefaultChartCapacity,
		CommandRetries:    DefaultCommandRetries,
		RetryBackoff:      DefaultRetryBackoff,
	}
}

// DefaultServerConfig returns a ServerConfig with sensible default values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host: DefaultServerHost,
		Port: DefaultServerPort,
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		API:     DefaultAPI(),
		Monitor: DefaultMonitor(),
		Server:  DefaultServerConfig(),
		Log:     Log{Level: DefaultLogLevel},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Path returns the config file path under basePath.
func Path(basePath string) string {
	return filepath.Join(basePath, Dir, "config.yaml")
}

// LoadConfig reads and parses .clave/config.yaml from the given base path,
// then applies .clave/.env and process environment overrides.
// If the file doesn't exist, defaults are used.
// Applies defaults for any missing fields.
func LoadConfig(basePath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(Path(basePath))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	env, err := LoadEnvFile(basePath)
	if err != nil {
		return nil, err
	}
	ApplyEnv(&cfg, env)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnv overlays values from the env file and then the process
// environment. Process variables win.
func ApplyEnv(cfg *Config, fileEnv map[string]string) {
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok && v != ""
	}

	if v, ok := lookup(EnvAPIURL); ok {
		cfg.API.BaseURL = v
	}
	if v, ok := lookup(EnvAPIToken); ok {
		cfg.API.Token = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = v
	}
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ValidationError{Field: "api.base_url", Message: "must be an absolute URL"}
	}
	if cfg.API.Timeout <= 0 {
		return ValidationError{Field: "api.timeout", Message: "must be positive"}
	}
	if cfg.API.MaxPages <= 0 {
		return ValidationError{Field: "api.max_pages", Message: "must be positive"}
	}
	if cfg.API.ProgramCacheTTL < 0 {
		return ValidationError{Field: "api.program_cache_ttl", Message: "must not be negative"}
	}

	if err := ValidateMonitor(&cfg.Monitor); err != nil {
		return err
	}
	if err := ValidateServerConfig(&cfg.Server); err != nil {
		return err
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return ValidationError{Field: "log.level", Message: err.Error()}
	}

	return nil
}

// ValidateMonitor checks that monitor intervals and limits are usable.
func ValidateMonitor(m *Monitor) error {
	if m.SampleInterval <= 0 {
		return ValidationError{Field: "monitor.sample_interval", Message: "must be positive"}
	}
	if m.ReconcileInterval <= 0 {
		return ValidationError{Field: "monitor.reconcile_interval", Message: "must be positive"}
	}
	if m.TickInterval <= 0 {
		return ValidationError{Field: "monitor.tick_interval", Message: "must be positive"}
	}
	if m.ChartCapacity <= 0 {
		return ValidationError{Field: "monitor.chart_capacity", Message: "must be positive"}
	}
	if m.CommandRetries < 1 {
		return ValidationError{Field: "monitor.command_retries", Message: "must be at least 1"}
	}
	if m.RetryBackoff < 0 {
		return ValidationError{Field: "monitor.retry_backoff", Message: "must not be negative"}
	}
	return nil
}

// ValidateServerConfig checks that server config values are valid.
func ValidateServerConfig(cfg *ServerConfig) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return ValidationError{Field: "server.port", Message: "must be between 0 and 65535"}
	}
	return nil
}

// SaveConfig writes cfg to .clave/config.yaml under basePath, creating the
// directory if needed. The API token is not written; it belongs in .env.
func SaveConfig(basePath string, cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	out := *cfg
	out.API.Token = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(basePath, Dir), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(Path(basePath), data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadEnvFile parses a .clave/.env file into a map of key-value pairs.
// The file format is KEY=VALUE per line. Lines starting with # are comments.
// Empty lines are ignored.
func LoadEnvFile(basePath string) (map[string]string, error) {
	envPath := filepath.Join(basePath, Dir, ".env")

	file, err := os.Open(envPath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		idx := strings.Index(line, "=")
		if idx == -1 {
			return nil, fmt.Errorf("invalid env file line %d: missing '='", lineNum)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// Strip surrounding quotes (single or double)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if key == "" {
			return nil, fmt.Errorf("invalid env file line %d: empty key", lineNum)
		}

		env[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return env, nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
