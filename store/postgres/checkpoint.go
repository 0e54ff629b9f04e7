package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/checkpoint"
)

// PutCheckpoint persists a record, superseding any earlier record for
// the same key. The upsert's update clause requires a strictly greater
// sequence, so a stale writer affects zero rows and loses inside the
// database regardless of client-side interleaving.
func (s *Store) PutCheckpoint(ctx context.Context, key string, seq uint64, data []byte) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO skein_checkpoints (instance_key, seq, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instance_key) DO UPDATE SET
			seq        = EXCLUDED.seq,
			data       = EXCLUDED.data,
			created_at = EXCLUDED.created_at
		WHERE EXCLUDED.seq > skein_checkpoints.seq`,
		key, int64(seq), data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("skein/postgres: put checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: key %s seq %d", skein.ErrStaleSequence, key, seq)
	}
	return nil
}

// GetAllPending returns every retained checkpoint record.
func (s *Store) GetAllPending(ctx context.Context) ([]*checkpoint.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instance_key, seq, data, created_at
		FROM skein_checkpoints
		ORDER BY instance_key`)
	if err != nil {
		return nil, fmt.Errorf("skein/postgres: get pending: %w", err)
	}
	defer rows.Close()

	var records []*checkpoint.Record
	for rows.Next() {
		var (
			rec checkpoint.Record
			seq int64
		)
		if err := rows.Scan(&rec.InstanceKey, &seq, &rec.Data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("skein/postgres: scan checkpoint: %w", err)
		}
		rec.Sequence = uint64(seq)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("skein/postgres: get pending rows: %w", err)
	}
	return records, nil
}

// DeleteCheckpoint removes the record for key. Deleting an absent key
// is not an error.
func (s *Store) DeleteCheckpoint(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM skein_checkpoints WHERE instance_key = $1`, key,
	); err != nil {
		return fmt.Errorf("skein/postgres: delete checkpoint: %w", err)
	}
	return nil
}
