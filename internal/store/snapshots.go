package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetSnapshot writes a durable cache snapshot, replacing any existing one
// for the key.
func (d *DB) SetSnapshot(ctx context.Context, key string, payload []byte, storedAt, expiresAt time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, payload, stored_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at
	`, key, payload, storedAt.UTC().Format(time.RFC3339), expiresAt.UTC().Format(time.RFC3339))
	return err
}

// GetSnapshot retrieves a durable cache snapshot, expired or not; the cache
// layer decides whether an expired payload may still be served stale.
func (d *DB) GetSnapshot(ctx context.Context, key string) (*Snapshot, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT key, payload, stored_at, expires_at
		FROM snapshots
		WHERE key = ?
	`, key)

	var s Snapshot
	var storedAt, expiresAt string
	err := row.Scan(&s.Key, &s.Payload, &storedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	s.StoredAt, err = time.Parse(time.RFC3339, storedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing stored_at %q: %w", storedAt, err)
	}
	s.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at %q: %w", expiresAt, err)
	}
	return &s, nil
}

// DeleteExpiredSnapshots removes snapshots whose expiry is older than the
// retention horizon. Expired-but-recent snapshots are kept for
// stale-while-revalidate serving.
func (d *DB) DeleteExpiredSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE expires_at < ?`, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
