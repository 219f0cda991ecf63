package genqueue

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// MaxConcurrent is the maximum number of jobs executing at once.
	MaxConcurrent int

	// JobTimeout is the wall clock limit for a single execution.
	JobTimeout time.Duration

	// DefaultPriority is used when a submission carries no priority.
	// Lower values dispatch first.
	DefaultPriority int

	// ShutdownTimeout is the maximum time to wait for running jobs on Stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   2,
		JobTimeout:      300 * time.Second,
		DefaultPriority: 5,
		ShutdownTimeout: 30 * time.Second,
	}
}
