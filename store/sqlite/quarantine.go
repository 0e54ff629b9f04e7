package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skeinlabs/skein"
	"github.com/skeinlabs/skein/id"
	"github.com/skeinlabs/skein/quarantine"
)

// PushQuarantine adds an undecodable record to the quarantine.
func (s *Store) PushQuarantine(ctx context.Context, entry *quarantine.Entry) error {
	var requeuedAt any
	if entry.RequeuedAt != nil {
		requeuedAt = entry.RequeuedAt.Format(time.RFC3339Nano)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO skein_quarantine
			(id, instance_key, seq, data, reason, quarantined_at, requeued_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(),
		entry.InstanceKey,
		int64(entry.Sequence),
		entry.Data,
		entry.Reason,
		entry.QuarantinedAt.Format(time.RFC3339Nano),
		requeuedAt,
		entry.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("skein/sqlite: push quarantine: %w", err)
	}
	return nil
}

// ListQuarantine returns quarantine entries, newest first.
func (s *Store) ListQuarantine(ctx context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_key, seq, data, reason, quarantined_at, requeued_at, created_at
		FROM skein_quarantine
		ORDER BY quarantined_at DESC
		LIMIT ? OFFSET ?`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("skein/sqlite: list quarantine: %w", err)
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
		return nil, fmt.Errorf("skein/sqlite: list quarantine rows: %w", err)
	}
	return entries, nil
}

// GetQuarantine retrieves a quarantine entry by ID.
func (s *Store) GetQuarantine(ctx context.Context, entryID id.QuarantineID) (*quarantine.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, instance_key, seq, data, reason, quarantined_at, requeued_at, created_at
		FROM skein_quarantine
		WHERE id = ?`,
		entryID.String(),
	)

	e, err := scanQuarantine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, skein.ErrQuarantineNotFound
		}
		return nil, err
	}
	return e, nil
}

// RequeueQuarantine marks an entry as requeued.
func (s *Store) RequeueQuarantine(ctx context.Context, entryID id.QuarantineID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE skein_quarantine SET requeued_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("skein/sqlite: requeue quarantine: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("skein/sqlite: requeue quarantine rows: %w", err)
	}
	if affected == 0 {
		return skein.ErrQuarantineNotFound
	}
	return nil
}

// PurgeQuarantine removes entries quarantined before the given time.
func (s *Store) PurgeQuarantine(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM skein_quarantine WHERE quarantined_at < ?`,
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("skein/sqlite: purge quarantine: %w", err)
	}
	return res.RowsAffected()
}

// CountQuarantine returns the total number of quarantined entries.
func (s *Store) CountQuarantine(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skein_quarantine`,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("skein/sqlite: count quarantine: %w", err)
	}
	return count, nil
}

// ── helpers ──

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuarantine(row rowScanner) (*quarantine.Entry, error) {
	var (
		e             quarantine.Entry
		rawID         string
		seq           int64
		quarantinedAt string
		requeuedAt    sql.NullString
		createdAt     string
	)
	if err := row.Scan(&rawID, &e.InstanceKey, &seq, &e.Data, &e.Reason, &quarantinedAt, &requeuedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("skein/sqlite: scan quarantine: %w", err)
	}

	eID, err := id.ParseQuarantineID(rawID)
	if err != nil {
		return nil, fmt.Errorf("skein/sqlite: parse quarantine id: %w", err)
	}
	e.ID = eID
	e.Sequence = uint64(seq)
	e.QuarantinedAt, _ = time.Parse(time.RFC3339Nano, quarantinedAt) //nolint:errcheck // best-effort parse of our own format
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)         //nolint:errcheck // best-effort parse of our own format
	if requeuedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, requeuedAt.String) //nolint:errcheck // best-effort parse of our own format
		e.RequeuedAt = &t
	}
	return &e, nil
}
