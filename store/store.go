// Package store defines the aggregate persistence interface. Each
// subsystem (checkpoint, quarantine) defines its own store interface
// and the composite Store composes them; a single backend (Postgres,
// SQLite, Redis, Memory) implements all of them.
package store

import (
	"context"

	"github.com/skeinlabs/skein/checkpoint"
	"github.com/skeinlabs/skein/quarantine"
)

// Store is the aggregate persistence interface.
type Store interface {
	checkpoint.Store
	quarantine.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
