package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/checkpoint"
)

// PutCheckpoint persists a record, superseding any earlier record for
// the same key. The update clause of the upsert requires a strictly
// greater sequence, so a stale writer affects zero rows and loses.
func (s *Store) PutCheckpoint(ctx context.Context, key string, seq uint64, data []byte) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO skein_checkpoints (instance_key, seq, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_key) DO UPDATE SET
			seq        = excluded.seq,
			data       = excluded.data,
			created_at = excluded.created_at
		WHERE excluded.seq > skein_checkpoints.seq`,
		key, int64(seq), data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("skein/sqlite: put checkpoint: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("skein/sqlite: put checkpoint rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: key %s seq %d", skein.ErrStaleSequence, key, seq)
	}
	return nil
}

// GetAllPending returns every retained checkpoint record.
func (s *Store) GetAllPending(ctx context.Context) ([]*checkpoint.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_key, seq, data, created_at
		FROM skein_checkpoints
		ORDER BY instance_key`)
	if err != nil {
		return nil, fmt.Errorf("skein/sqlite: get pending: %w", err)
	}
	defer rows.Close()

	var records []*checkpoint.Record
	for rows.Next() {
		var (
			rec       checkpoint.Record
			seq       int64
			createdAt string
		)
		if err := rows.Scan(&rec.InstanceKey, &seq, &rec.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("skein/sqlite: scan checkpoint: %w", err)
		}
		rec.Sequence = uint64(seq)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // best-effort parse of our own format
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("skein/sqlite: get pending rows: %w", err)
	}
	return records, nil
}

// DeleteCheckpoint removes the record for key. Deleting an absent key
// is not an error.
func (s *Store) DeleteCheckpoint(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM skein_checkpoints WHERE instance_key = ?`, key,
	); err != nil {
		return fmt.Errorf("skein/sqlite: delete checkpoint: %w", err)
	}
	return nil
}
