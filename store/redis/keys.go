package redis

// Redis key naming conventions for skein data.
// All keys are prefixed with "skein:" to avoid collisions.

const keyPrefix = "skein:"

// ── Checkpoint keys ──

// checkpointKey returns the Hash key for an instance's retained
// checkpoint: skein:checkpoint:{instanceKey}
func checkpointKey(instanceKey string) string { return keyPrefix + "checkpoint:" + instanceKey }

// checkpointKeysKey is the Set tracking all instance keys with a
// retained checkpoint, for recovery enumeration.
const checkpointKeysKey = keyPrefix + "checkpoint_keys"

// ── Quarantine keys ──

// quarantineKey returns the Hash key for a quarantine entry:
// skein:quarantine:{id}
func quarantineKey(id string) string { return keyPrefix + "quarantine:" + id }

// quarantineIDsKey is the Set tracking all quarantine entry IDs for
// enumeration.
const quarantineIDsKey = keyPrefix + "quarantine_ids"
