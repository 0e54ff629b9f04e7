package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/checkpoint"
)

// putCheckpointScript applies the per-key sequence guard atomically: a
// write whose sequence is not strictly greater than the stored one is
// refused and leaves the stored record untouched.
var putCheckpointScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'sequence')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'sequence', ARGV[1], 'data', ARGV[2], 'created_at', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`)

// PutCheckpoint persists a record, superseding any earlier record for
// the same key.
func (s *Store) PutCheckpoint(ctx context.Context, key string, seq uint64, data []byte) error {
	res, err := putCheckpointScript.Run(ctx, s.client,
		[]string{checkpointKey(key), checkpointKeysKey},
		seq, data, time.Now().UTC().Format(time.RFC3339Nano), key,
	).Int()
	if err != nil {
		return fmt.Errorf("skein/redis: put checkpoint: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("%w: key %s seq %d", skein.ErrStaleSequence, key, seq)
	}
	return nil
}

// GetAllPending returns every retained checkpoint record.
func (s *Store) GetAllPending(ctx context.Context) ([]*checkpoint.Record, error) {
	keys, err := s.client.SMembers(ctx, checkpointKeysKey).Result()
	if err != nil {
		return nil, fmt.Errorf("skein/redis: get pending smembers: %w", err)
	}

	records := make([]*checkpoint.Record, 0, len(keys))
	for _, key := range keys {
		vals, getErr := s.client.HGetAll(ctx, checkpointKey(key)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}

		seq, _ := strconv.ParseUint(vals["sequence"], 10, 64)           //nolint:errcheck // best-effort parse from trusted Redis data
		createdAt, _ := time.Parse(time.RFC3339Nano, vals["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

		records = append(records, &checkpoint.Record{
			InstanceKey: key,
			Sequence:    seq,
			Data:        []byte(vals["data"]),
			CreatedAt:   createdAt,
		})
	}
	return records, nil
}

// DeleteCheckpoint removes the record for key. Deleting an absent key
// is not an error.
func (s *Store) DeleteCheckpoint(ctx context.Context, key string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, checkpointKey(key))
	pipe.SRem(ctx, checkpointKeysKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("skein/redis: delete checkpoint: %w", err)
	}
	return nil
}
