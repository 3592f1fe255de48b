package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultFlightTimeout bounds a fill that no caller is waiting on anymore.
const DefaultFlightTimeout = 30 * time.Second

// FetchFunc retrieves a payload from upstream on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

type Options struct {
	FlightTimeout time.Duration
	Logger        *slog.Logger
}

// Counters reports cache traffic since startup.
type Counters struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Shared int64 `json:"shared"`
}

// Cache fronts a Store with a per-namespace single-flight policy: at most
// one upstream fetch runs per fingerprint, and concurrent callers share its
// result.
type Cache struct {
	store   Store
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	groups map[string]*singleflight.Group

	hits, misses, shared atomic.Int64
	now                  func() time.Time
}

func New(store Store, opts Options) *Cache {
	if opts.FlightTimeout <= 0 {
		opts.FlightTimeout = DefaultFlightTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		store:   store,
		timeout: opts.FlightTimeout,
		log:     opts.Logger,
		groups:  make(map[string]*singleflight.Group),
		now:     time.Now,
	}
}

func (c *Cache) group(namespace string) *singleflight.Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[namespace]
	if !ok {
		g = &singleflight.Group{}
		c.groups[namespace] = g
	}
	return g
}

// Fetch returns the cached payload for fingerprint or runs fn to fill it.
// A ttl of zero still de-duplicates concurrent fetches but stores nothing.
//
// The fill runs detached from ctx: a caller that gives up gets ctx.Err()
// while the fetch completes and populates the entry for later callers.
func (c *Cache) Fetch(ctx context.Context, namespace, fingerprint string, ttl time.Duration, fn FetchFunc) ([]byte, error) {
	if payload, ok := c.Lookup(ctx, fingerprint); ok {
		c.hits.Add(1)
		return payload, nil
	}

	fill := context.WithoutCancel(ctx)
	ch := c.group(namespace).DoChan(fingerprint, func() (any, error) {
		// another flight may have filled the entry between lookup and here
		if payload, ok := c.Lookup(fill, fingerprint); ok {
			c.hits.Add(1)
			return payload, nil
		}
		c.misses.Add(1)

		fctx, cancel := context.WithTimeout(fill, c.timeout)
		defer cancel()
		payload, err := fn(fctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			e := Entry{
				Fingerprint: fingerprint,
				Namespace:   namespace,
				Payload:     payload,
				StoredAt:    c.now(),
				TTL:         ttl,
			}
			if err := c.store.Put(fill, e); err != nil {
				c.log.Warn("cache write failed", "namespace", namespace, "error", err)
			}
		}
		return payload, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup returns a live entry's payload without triggering a fetch.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) ([]byte, bool) {
	e, ok, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Warn("cache read failed", "error", err)
		}
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

// Put stores payload outside of a flight, for responses that carry
// several independently cached records.
func (c *Cache) Put(ctx context.Context, namespace, fingerprint string, ttl time.Duration, payload []byte) error {
	if ttl <= 0 {
		return nil
	}
	return c.store.Put(ctx, Entry{
		Fingerprint: fingerprint,
		Namespace:   namespace,
		Payload:     payload,
		StoredAt:    c.now(),
		TTL:         ttl,
	})
}

func (c *Cache) Counters() Counters {
	return Counters{Hits: c.hits.Load(), Misses: c.misses.Load(), Shared: c.shared.Load()}
}

func (c *Cache) Store() Store { return c.store }

func (c *Cache) Close() error { return c.store.Close() }
