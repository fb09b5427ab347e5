package config

import "time"

// API configures the connection to the remote control service.
type API struct {
	BaseURL         string        `yaml:"base_url"`
	Token           string        `yaml:"token,omitempty"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxPages        int           `yaml:"max_pages"`
	ProgramCacheTTL time.Duration `yaml:"program_cache_ttl"`
}

// Monitor configures the periodic tasks of a running session.
type Monitor struct {
	SampleInterval    time.Duration `yaml:"sample_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	ChartCapacity     int           `yaml:"chart_capacity"`
	CommandRetries    int           `yaml:"command_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
}

// ServerConfig configures the watch server.
type ServerConfig struct {
	Host         string `yaml:"host,omitempty"`
	Port         int    `yaml:"port"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Config represents the .clave/config.yaml file.
type Config struct {
	API     API          `yaml:"api"`
	Monitor Monitor      `yaml:"monitor"`
	Server  ServerConfig `yaml:"server"`
	Log     Log          `yaml:"log"`
}

// Environment variables that override file values.
const (
	EnvAPIURL   = "CLAVE_API_URL"
	EnvAPIToken = "CLAVE_API_TOKEN"
	EnvLogLevel = "CLAVE_LOG_LEVEL"
)
