package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/id"
	"github.com/skeinlabs/skein/quarantine"
)

// PushQuarantine adds an undecodable record to the quarantine.
func (s *Store) PushQuarantine(ctx context.Context, entry *quarantine.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO skein_quarantine (
			id, instance_key, seq, data, reason,
			quarantined_at, requeued_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID.String(), entry.InstanceKey, int64(entry.Sequence),
		entry.Data, entry.Reason,
		entry.QuarantinedAt, entry.RequeuedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("skein/postgres: push quarantine: %w", err)
	}
	return nil
}

// ListQuarantine returns quarantine entries, newest first.
func (s *Store) ListQuarantine(ctx context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	query := `
		SELECT id, instance_key, seq, data, reason,
		       quarantined_at, requeued_at, created_at
		FROM skein_quarantine
		ORDER BY quarantined_at DESC`
	args := []interface{}{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("skein/postgres: list quarantine: %w", err)
	}
	defer rows.Close()

	var entries []*quarantine.Entry
	for rows.Next() {
		e, scanErr := scanQuarantine(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("skein/postgres: list quarantine rows: %w", err)
	}
	return entries, nil
}

// GetQuarantine retrieves a quarantine entry by ID.
func (s *Store) GetQuarantine(ctx context.Context, entryID id.QuarantineID) (*quarantine.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, instance_key, seq, data, reason,
		       quarantined_at, requeued_at, created_at
		FROM skein_quarantine
		WHERE id = $1`,
		entryID.String(),
	)

	e, err := scanQuarantine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, skein.ErrQuarantineNotFound
		}
		return nil, err
	}
	return e, nil
}

// RequeueQuarantine marks an entry as requeued.
func (s *Store) RequeueQuarantine(ctx context.Context, entryID id.QuarantineID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE skein_quarantine SET requeued_at = $1 WHERE id = $2`,
		time.Now().UTC(), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("skein/postgres: requeue quarantine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return skein.ErrQuarantineNotFound
	}
	return nil
}

// PurgeQuarantine removes entries quarantined before the given time.
func (s *Store) PurgeQuarantine(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM skein_quarantine WHERE quarantined_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("skein/postgres: purge quarantine: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountQuarantine returns the total number of quarantined entries.
func (s *Store) CountQuarantine(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM skein_quarantine`,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("skein/postgres: count quarantine: %w", err)
	}
	return count, nil
}

// ── helpers ──

func scanQuarantine(row pgx.Row) (*quarantine.Entry, error) {
	var (
		e     quarantine.Entry
		rawID string
		seq   int64
	)
	if err := row.Scan(&rawID, &e.InstanceKey, &seq, &e.Data, &e.Reason,
		&e.QuarantinedAt, &e.RequeuedAt, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("skein/postgres: scan quarantine: %w", err)
	}

	eID, err := id.ParseQuarantineID(rawID)
	if err != nil {
		return nil, fmt.Errorf("skein/postgres: parse quarantine id: %w", err)
	}
	e.ID = eID
	e.Sequence = uint64(seq)
	return &e, nil
}
