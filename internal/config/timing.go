package config

import "time"

// Default timing configurations used throughout the recorder
const (
	// DefaultBatchSize is the number of pending steps that triggers an immediate batch
	DefaultBatchSize = 5

	// DefaultBatchMaxWait is how long the oldest pending step may wait before a partial batch is sent
	DefaultBatchMaxWait = 10 * time.Second

	// DefaultFlushTimeout bounds the drain performed on stop. It must cover one full retry cycle (1s+2s+4s plus sends).
	DefaultFlushTimeout = 15 * time.Second

	// DefaultSettleDelay covers the entry animation played by the page UI before capture begins
	DefaultSettleDelay = 500 * time.Millisecond

	// DefaultRetryInitialDelay is the delay before the first retry of a failed batch
	DefaultRetryInitialDelay = 1 * time.Second

	// DefaultRetryMaxDelay caps the backoff delay
	DefaultRetryMaxDelay = 4 * time.Second

	// DefaultRetryMultiplier is the backoff multiplier between retries
	DefaultRetryMultiplier = 2.0

	// DefaultMaxRetries is the number of retries after the first failed attempt
	DefaultMaxRetries = 3

	// DefaultRequestTimeout bounds a single backend HTTP request
	DefaultRequestTimeout = 30 * time.Second

	// DefaultAgentCommandTimeout bounds a single page-agent command round trip
	DefaultAgentCommandTimeout = 5 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown of the servers
	DefaultShutdownTimeout = 5 * time.Second
)
