package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file
const (
	EnvBackendURL     = "RECORDER_BACKEND_URL"
	EnvStorageBackend = "RECORDER_STORAGE_BACKEND"
	EnvStoragePath    = "RECORDER_STORAGE_PATH"
	EnvFlushTimeout   = "RECORDER_FLUSH_TIMEOUT"
	EnvBatchSize      = "RECORDER_BATCH_SIZE"
	EnvHTTPAddr       = "RECORDER_HTTP_ADDR"
	EnvAgentAddr      = "RECORDER_AGENT_ADDR"
	EnvHealthAddr     = "RECORDER_HEALTH_ADDR"
)

// Load reads the YAML config at path (optional), applies environment overrides and validates the result
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with values found through lookup
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBackendURL); ok && v != "" {
		cfg.Backend.BaseURL = v
	}
	if v, ok := lookup(EnvStorageBackend); ok && v != "" {
		cfg.Storage.Backend = v
	}
	if v, ok := lookup(EnvStoragePath); ok && v != "" {
		cfg.Storage.Path = v
	}
	if v, ok := lookup(EnvFlushTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFlushTimeout, err)
		}
		cfg.Upload.FlushTimeout = d
	}
	if v, ok := lookup(EnvBatchSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBatchSize, err)
		}
		cfg.Upload.BatchSize = n
	}
	if v, ok := lookup(EnvHTTPAddr); ok && v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v, ok := lookup(EnvAgentAddr); ok && v != "" {
		cfg.Server.AgentAddr = v
	}
	if v, ok := lookup(EnvHealthAddr); ok && v != "" {
		cfg.Server.HealthAddr = v
	}
	return nil
}
