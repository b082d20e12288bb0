package config

import (
	"errors"
	"fmt"
	"time"
)

// UploadConfig holds configuration for the upload pipeline
type UploadConfig struct {
	// BatchSize is the number of pending steps that triggers an immediate batch
	BatchSize int `yaml:"batch_size"`
	// BatchMaxWait is how long the oldest pending step may wait before a partial batch is sent
	BatchMaxWait time.Duration `yaml:"batch_max_wait"`
	// FlushTimeout bounds the drain performed on stop
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// DefaultUploadConfig returns default configuration for the upload pipeline
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		BatchSize:    DefaultBatchSize,
		BatchMaxWait: DefaultBatchMaxWait,
		FlushTimeout: DefaultFlushTimeout,
	}
}

// RetryConfig holds configuration for batch retries
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns default configuration for retry operations
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialDelay:      DefaultRetryInitialDelay,
		MaxDelay:          DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultRetryMultiplier,
	}
}

// SessionConfig holds configuration for the session controller
type SessionConfig struct {
	// SettleDelay is the minimum time spent in initializing before capture begins
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// DefaultSessionConfig returns default configuration for the session controller
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SettleDelay: DefaultSettleDelay,
	}
}

// BackendConfig holds configuration for the ingestion backend client
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultBackendConfig returns default configuration for the backend client
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		BaseURL:        "http://localhost:5001",
		RequestTimeout: DefaultRequestTimeout,
	}
}

// StorageConfig holds configuration for the durable step queue
type StorageConfig struct {
	// Backend is "bolt" (durable) or "memory"
	Backend string `yaml:"backend"`
	// Path is the bolt database file
	Path string `yaml:"path"`
}

// DefaultStorageConfig returns default configuration for the step queue
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend: "bolt",
		Path:    "recorder.db",
	}
}

// ServerConfig holds configuration for the recorder's listeners
type ServerConfig struct {
	// HTTPAddr serves the MCP SSE transport when enabled
	HTTPAddr string `yaml:"http_addr"`
	// AgentAddr serves the page-agent websocket bridge
	AgentAddr string `yaml:"agent_addr"`
	// HealthAddr serves the gRPC health service
	HealthAddr string `yaml:"health_addr"`
	// AgentCommandTimeout bounds a single page-agent command round trip
	AgentCommandTimeout time.Duration `yaml:"agent_command_timeout"`
}

// DefaultServerConfig returns default configuration for the listeners
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		AgentAddr:           ":8420",
		HealthAddr:          ":50051",
		AgentCommandTimeout: DefaultAgentCommandTimeout,
	}
}

// Config is the full recorder configuration
type Config struct {
	Upload  UploadConfig  `yaml:"upload"`
	Retry   RetryConfig   `yaml:"retry"`
	Session SessionConfig `yaml:"session"`
	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
}

// Default returns the full default configuration
func Default() Config {
	return Config{
		Upload:  DefaultUploadConfig(),
		Retry:   DefaultRetryConfig(),
		Session: DefaultSessionConfig(),
		Backend: DefaultBackendConfig(),
		Storage: DefaultStorageConfig(),
		Server:  DefaultServerConfig(),
	}
}

// Validate checks the configuration for values the recorder cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Upload.BatchSize <= 0 {
		errs = append(errs, errors.New("upload.batch_size must be positive"))
	}
	if c.Upload.BatchMaxWait <= 0 {
		errs = append(errs, errors.New("upload.batch_max_wait must be positive"))
	}
	if c.Upload.FlushTimeout <= 0 {
		errs = append(errs, errors.New("upload.flush_timeout must be positive"))
	}
	if c.Session.SettleDelay < 0 {
		errs = append(errs, errors.New("session.settle_delay must not be negative"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	switch c.Storage.Backend {
	case "bolt":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the bolt backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}
