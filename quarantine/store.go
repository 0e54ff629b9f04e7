package quarantine

import (
	"context"
	"time"

	"github.com/skeinlabs/skein/id"
)

// ListOpts controls pagination for quarantine list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for quarantined records.
type Store interface {
	// PushQuarantine adds an undecodable record to the quarantine.
	PushQuarantine(ctx context.Context, entry *Entry) error

	// ListQuarantine returns entries matching the given options,
	// newest first.
	ListQuarantine(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetQuarantine retrieves an entry by ID.
	GetQuarantine(ctx context.Context, entryID id.QuarantineID) (*Entry, error)

	// RequeueQuarantine marks an entry as requeued. The actual
	// re-admission into the checkpoint store is handled at the service
	// layer.
	RequeueQuarantine(ctx context.Context, entryID id.QuarantineID) error

	// PurgeQuarantine removes entries quarantined before the given
	// time. Returns the number of entries removed.
	PurgeQuarantine(ctx context.Context, before time.Time) (int64, error)

	// CountQuarantine returns the total number of quarantined entries.
	CountQuarantine(ctx context.Context) (int64, error)
}
