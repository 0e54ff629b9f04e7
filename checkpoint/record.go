// Package checkpoint implements the durable side of suspension: the
// versioned codec that turns a continuation chain into bytes, the
// persistence and replication ports, and the lifecycle manager that
// decides when a checkpoint is acknowledged and drives recovery at
// startup.
package checkpoint

import (
	"time"

	"github.com/skeinlabs/skein/frame"
)

// Record is one persisted checkpoint: the replication key, the
// sequence, and the encoded chain bytes. For a given instance key the
// store retains at most the record with the highest sequence.
type Record struct {
	InstanceKey string    `json:"instance_key"`
	Sequence    uint64    `json:"sequence"`
	Data        []byte    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
}

// Recovered is a decoded record handed to the scheduler during
// recovery.
type Recovered struct {
	InstanceKey string
	Sequence    uint64
	Chain       *frame.Chain
}
