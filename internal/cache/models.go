package cache

import (
	"context"
	"hash/fnv"
	"time"
)

// Entry is one cached upstream response.
type Entry struct {
	Fingerprint string        `json:"fingerprint"`
	Namespace   string        `json:"namespace"`
	Payload     []byte        `json:"payload"`
	StoredAt    time.Time     `json:"stored_at"`
	TTL         time.Duration `json:"ttl"`
}

// ExpiresAt is the first instant at which the entry must not be served.
func (e Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// Expired reports whether the entry is past its time-to-live at now.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL <= 0 || !now.Before(e.ExpiresAt())
}

// Stats summarizes a store.
type Stats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
	Size    int64 `json:"size_bytes"`
}

// Store persists entries. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, fingerprint string) error
	Prune(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// TTLRange is a time-to-live policy. The TTL of a fingerprint is picked
// deterministically inside [Min, Max] so that entries written together
// do not expire together.
type TTLRange struct {
	Min time.Duration
	Max time.Duration
}

// Fixed returns a range with a single value.
func Fixed(d time.Duration) TTLRange { return TTLRange{Min: d, Max: d} }

// For returns the TTL for fingerprint. Zero disables storage.
func (r TTLRange) For(fingerprint string) time.Duration {
	if r.Min <= 0 && r.Max <= 0 {
		return 0
	}
	if r.Max <= r.Min {
		return r.Min
	}
	h := fnv.New64a()
	h.Write([]byte(fingerprint))
	span := uint64((r.Max - r.Min) / time.Second)
	if span == 0 {
		return r.Min
	}
	return r.Min + time.Duration(h.Sum64()%(span+1))*time.Second
}
