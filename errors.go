package skein

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("skein: no store configured")
	ErrStoreClosed = errors.New("skein: store closed")

	// Not found errors.
	ErrInstanceNotFound   = errors.New("skein: instance not found")
	ErrCheckpointNotFound = errors.New("skein: checkpoint not found")
	ErrFunctionNotFound   = errors.New("skein: function not registered")
	ErrQuarantineNotFound = errors.New("skein: quarantine entry not found")

	// Conflict errors.
	ErrInstanceExists = errors.New("skein: instance already exists")
	// ErrStaleSequence is returned when a checkpoint write carries a
	// sequence lower than or equal to the one already stored for the key.
	// Writes for the same instance key are linearized by sequence.
	ErrStaleSequence = errors.New("skein: stale checkpoint sequence")

	// State errors.
	ErrInvalidState      = errors.New("skein: invalid state transition")
	ErrInstanceCancelled = errors.New("skein: instance cancelled")

	// ErrNotBuilt is returned by Runtime.Start before engine.Build has
	// wired a scheduler into the runtime.
	ErrNotBuilt = errors.New("skein: runtime not built")

	// Codec errors.
	// ErrUnsupportedVersion is returned when a checkpoint record carries
	// a format version this decoder does not understand. Such records are
	// quarantined, never silently dropped.
	ErrUnsupportedVersion = errors.New("skein: unsupported checkpoint format version")
	ErrCorruptCheckpoint  = errors.New("skein: corrupt checkpoint record")

	// Capture errors. A local that cannot be encoded is fatal to the
	// capture and distinct from any script-level failure.
	ErrUnencodableValue = errors.New("skein: local value cannot be encoded")

	// Replication errors.
	ErrPeerUnavailable = errors.New("skein: replication peer unavailable")
	ErrNoPeer          = errors.New("skein: no replication peer configured")
)
