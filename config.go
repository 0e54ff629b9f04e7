package skein

import "time"

// Config holds configuration for the Runtime.
type Config struct {
	// Concurrency is the number of worker goroutines driving script
	// instances. Instances run in parallel across workers; a single
	// instance is never driven by more than one worker at a time.
	Concurrency int

	// PeerAckTimeout bounds how long a checkpoint waits for the
	// replication peer before degrading to local-only durability.
	PeerAckTimeout time.Duration

	// SliceTimeout is the maximum wall-clock time a single run slice
	// (one resume to the next suspend point) may take. Zero disables it.
	SliceTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// RecoveryPullRetries is how many times the startup peer pull is
	// retried with backoff before giving up. Pull failure never blocks
	// serving new requests.
	RecoveryPullRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         8,
		PeerAckTimeout:      2 * time.Second,
		SliceTimeout:        0,
		ShutdownTimeout:     30 * time.Second,
		RecoveryPullRetries: 5,
	}
}
