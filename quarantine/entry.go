// Package quarantine holds checkpoint records that could not be
// decoded during recovery. A quarantined record is moved aside, never
// deleted: losing an in-flight instance silently would be a
// correctness violation, so undecodable records stay inspectable and
// can be requeued once the operator resolves the cause (typically a
// format version mismatch after a partial upgrade).
package quarantine

import (
	"time"

	"github.com/skeinlabs/skein/id"
)

// Entry is one quarantined checkpoint record with the decode failure
// that sidelined it.
type Entry struct {
	ID            id.QuarantineID `json:"id"`
	InstanceKey   string          `json:"instance_key"`
	Sequence      uint64          `json:"sequence"`
	Data          []byte          `json:"data"`
	Reason        string          `json:"reason"`
	QuarantinedAt time.Time       `json:"quarantined_at"`
	RequeuedAt    *time.Time      `json:"requeued_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
