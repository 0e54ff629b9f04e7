package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/id"
	"github.com/skeinlabs/skein/quarantine"
)

// PushQuarantine adds an undecodable record to the quarantine.
func (s *Store) PushQuarantine(ctx context.Context, entry *quarantine.Entry) error {
	eID := entry.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, quarantineKey(eID), quarantineToMap(entry))
	pipe.SAdd(ctx, quarantineIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("skein/redis: push quarantine: %w", err)
	}
	return nil
}

// ListQuarantine returns quarantine entries, newest first.
func (s *Store) ListQuarantine(ctx context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	ids, err := s.client.SMembers(ctx, quarantineIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("skein/redis: list quarantine: %w", err)
	}

	entries := make([]*quarantine.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, quarantineKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToQuarantine(vals)
		if convErr != nil {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].QuarantinedAt.After(entries[j].QuarantinedAt)
	})

	if opts.Offset > 0 && opts.Offset < len(entries) {
		entries = entries[opts.Offset:]
	} else if opts.Offset >= len(entries) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetQuarantine retrieves a quarantine entry by ID.
func (s *Store) GetQuarantine(ctx context.Context, entryID id.QuarantineID) (*quarantine.Entry, error) {
	vals, err := s.client.HGetAll(ctx, quarantineKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("skein/redis: get quarantine: %w", err)
	}
	if len(vals) == 0 {
		return nil, skein.ErrQuarantineNotFound
	}
	return mapToQuarantine(vals)
}

// RequeueQuarantine marks an entry as requeued.
func (s *Store) RequeueQuarantine(ctx context.Context, entryID id.QuarantineID) error {
	key := quarantineKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("skein/redis: requeue quarantine exists: %w", err)
	}
	if exists == 0 {
		return skein.ErrQuarantineNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"requeued_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("skein/redis: requeue quarantine: %w", err)
	}
	return nil
}

// PurgeQuarantine removes entries quarantined before the given time.
func (s *Store) PurgeQuarantine(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, quarantineIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("skein/redis: purge quarantine smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := quarantineKey(eID)
		atStr, getErr := s.client.HGet(ctx, key, "quarantined_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("skein/redis: purge quarantine get: %w", getErr)
		}

		quarantinedAt, _ := time.Parse(time.RFC3339Nano, atStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if quarantinedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, quarantineIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("skein/redis: purge quarantine del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountQuarantine returns the total number of quarantined entries.
func (s *Store) CountQuarantine(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, quarantineIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("skein/redis: count quarantine: %w", err)
	}
	return count, nil
}

// ── helpers ──

func quarantineToMap(e *quarantine.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":             e.ID.String(),
		"instance_key":   e.InstanceKey,
		"sequence":       strconv.FormatUint(e.Sequence, 10),
		"data":           string(e.Data),
		"reason":         e.Reason,
		"quarantined_at": e.QuarantinedAt.Format(time.RFC3339Nano),
		"created_at":     e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.RequeuedAt != nil {
		m["requeued_at"] = e.RequeuedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToQuarantine(m map[string]string) (*quarantine.Entry, error) {
	eID, err := id.ParseQuarantineID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("skein/redis: parse quarantine id: %w", err)
	}
	seq, _ := strconv.ParseUint(m["sequence"], 10, 64)                      //nolint:errcheck // best-effort parse from trusted Redis data
	quarantinedAt, _ := time.Parse(time.RFC3339Nano, m["quarantined_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])           //nolint:errcheck // best-effort parse from trusted Redis data

	e := &quarantine.Entry{
		ID:            eID,
		InstanceKey:   m["instance_key"],
		Sequence:      seq,
		Data:          []byte(m["data"]),
		Reason:        m["reason"],
		QuarantinedAt: quarantinedAt,
		CreatedAt:     createdAt,
	}

	if v := m["requeued_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.RequeuedAt = &t
	}
	return e, nil
}
