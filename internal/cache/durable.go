package cache

import (
	"context"
	"errors"
	"time"

	"vitals/internal/store"
)

// SnapshotStore is the slice of the persistent store the durable tier uses.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, key string) (*store.Snapshot, error)
	SetSnapshot(ctx context.Context, key string, payload []byte, storedAt, expiresAt time.Time) error
}

// Durable is the default tier-2 implementation over the SQLite snapshot
// table.
type Durable struct {
	snapshots SnapshotStore
}

// NewDurable creates the SQLite-backed durable tier.
func NewDurable(snapshots SnapshotStore) *Durable {
	return &Durable{snapshots: snapshots}
}

// Get returns the stored snapshot for key or ErrMiss.
func (d *Durable) Get(ctx context.Context, key string) (Entry, error) {
	s, err := d.snapshots.GetSnapshot(ctx, key)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Payload:   s.Payload,
		StoredAt:  s.StoredAt,
		ExpiresAt: s.ExpiresAt,
	}, nil
}

// Set persists the entry for key.
func (d *Durable) Set(ctx context.Context, key string, e Entry) error {
	return d.snapshots.SetSnapshot(ctx, key, e.Payload, e.StoredAt, e.ExpiresAt)
}
