// Package cache implements the tiered snapshot cache: a fast in-process
// tier backed by a durable tier that survives restarts, with per-kind TTLs
// and single-flight deduplication of concurrent computations.
package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"vitals/internal/metrics"
)

// Kind partitions cached payloads and selects their TTL.
type Kind string

const (
	KindScores    Kind = "scores"
	KindBaselines Kind = "baselines"
	KindRaw       Kind = "raw"
)

// DefaultTTLs returns the standard per-kind TTLs.
func DefaultTTLs() map[Kind]time.Duration {
	return map[Kind]time.Duration{
		KindScores:    time.Hour,
		KindBaselines: 24 * time.Hour,
		KindRaw:       5 * time.Minute,
	}
}

// ErrMiss is returned by a tier when no entry exists for a key
var ErrMiss = errors.New("cache miss")

// Entry is a cached payload with its logical expiry. Tiers return expired
// entries; the tiered cache decides whether they may be served stale.
type Entry struct {
	Payload   []byte    `json:"payload"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry's TTL has passed.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Tier is a single cache level.
type Tier interface {
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, key string, e Entry) error
}

// Tiered is the two-level cache. Reads hit the memory tier first and fall
// through to the durable tier; writes go to both. At most one computation
// per key runs concurrently.
type Tiered struct {
	memory  *Memory
	durable Tier // nil when no durable tier is configured
	ttls    map[Kind]time.Duration
	group   singleflight.Group
	logger  *zap.Logger
	clock   func() time.Time
}

// New creates a tiered cache over an optional durable tier.
func New(durable Tier, ttls map[Kind]time.Duration, logger *zap.Logger) *Tiered {
	if ttls == nil {
		ttls = DefaultTTLs()
	}
	return &Tiered{
		memory:  NewMemory(),
		durable: durable,
		ttls:    ttls,
		logger:  logger,
		clock:   time.Now,
	}
}

// Key builds the canonical (kind, date) cache key.
func Key(kind Kind, day string) string {
	return string(kind) + ":" + day
}

// Get returns the cached payload for (kind, day) along with whether it was
// found and whether it is past its TTL.
func (c *Tiered) Get(ctx context.Context, kind Kind, day string) (payload []byte, ok, stale bool) {
	e, err := c.lookup(ctx, Key(kind, day))
	if err != nil {
		metrics.CacheMisses.WithLabelValues(string(kind)).Inc()
		return nil, false, false
	}
	metrics.CacheHits.WithLabelValues(string(kind)).Inc()
	return e.Payload, true, e.Expired(c.clock())
}

// Set writes the payload to both tiers with the kind's TTL.
func (c *Tiered) Set(ctx context.Context, kind Kind, day string, payload []byte) error {
	now := c.clock()
	e := Entry{
		Payload:   payload,
		StoredAt:  now,
		ExpiresAt: now.Add(c.ttls[kind]),
	}
	key := Key(kind, day)

	if err := c.memory.Set(ctx, key, e); err != nil {
		return err
	}
	if c.durable != nil {
		if err := c.durable.Set(ctx, key, e); err != nil {
			return err
		}
	}
	return nil
}

// GetOrCompute returns a fresh cached payload when one exists; otherwise it
// runs compute under single-flight and caches the result. When compute
// fails and an expired entry is available, the stale payload is served
// instead of the error (stale-while-revalidate).
func (c *Tiered) GetOrCompute(ctx context.Context, kind Kind, day string, compute func(ctx context.Context) ([]byte, error)) (payload []byte, stale bool, err error) {
	key := Key(kind, day)
	now := c.clock()

	if e, lookupErr := c.lookup(ctx, key); lookupErr == nil && !e.Expired(now) {
		metrics.CacheHits.WithLabelValues(string(kind)).Inc()
		return e.Payload, false, nil
	}
	metrics.CacheMisses.WithLabelValues(string(kind)).Inc()

	type outcome struct {
		payload []byte
		stale   bool
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have refreshed the entry already.
		if e, lookupErr := c.lookup(ctx, key); lookupErr == nil && !e.Expired(c.clock()) {
			return outcome{payload: e.Payload}, nil
		}

		payload, computeErr := compute(ctx)
		if computeErr != nil {
			if e, lookupErr := c.lookup(ctx, key); lookupErr == nil {
				c.logger.Warn("serving stale cache entry after compute failure",
					zap.String("key", key),
					zap.Time("stored_at", e.StoredAt),
					zap.Error(computeErr))
				return outcome{payload: e.Payload, stale: true}, nil
			}
			return nil, computeErr
		}

		if setErr := c.Set(ctx, kind, day, payload); setErr != nil {
			c.logger.Warn("caching computed payload failed",
				zap.String("key", key), zap.Error(setErr))
		}
		return outcome{payload: payload}, nil
	})
	if err != nil {
		return nil, false, err
	}

	o := v.(outcome)
	return o.payload, o.stale, nil
}

// lookup reads tier 1 then tier 2, promoting durable hits into memory.
func (c *Tiered) lookup(ctx context.Context, key string) (Entry, error) {
	if e, err := c.memory.Get(ctx, key); err == nil {
		return e, nil
	}
	if c.durable == nil {
		return Entry{}, ErrMiss
	}
	e, err := c.durable.Get(ctx, key)
	if err != nil {
		return Entry{}, ErrMiss
	}
	_ = c.memory.Set(ctx, key, e)
	return e, nil
}
