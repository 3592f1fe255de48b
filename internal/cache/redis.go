package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "medsearch:cache:"

// RedisStore shares cached responses between server replicas. Expiry is
// delegated to redis key TTLs, so Prune has nothing to do.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions selects the redis instance.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func OpenRedis(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStore wraps an existing client without pinging it.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) key(fingerprint string) string {
	return redisKeyPrefix + fingerprint
}

func (r *RedisStore) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// unreadable entries are treated as a miss and dropped
		r.client.Del(ctx, r.key(fingerprint))
		return Entry{}, false, nil
	}
	if e.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (r *RedisStore) Put(ctx context.Context, e Entry) error {
	if e.TTL <= 0 {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	if err := r.client.Set(ctx, r.key(e.Fingerprint), data, e.TTL).Err(); err != nil {
		return fmt.Errorf("writing entry %s: %w", e.Fingerprint, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	return r.client.Del(ctx, r.key(fingerprint)).Err()
}

func (r *RedisStore) Prune(context.Context) (int64, error) { return 0, nil }

// Stats counts the keys under the cache prefix. Size is the summed
// memory usage as reported by redis.
func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		st.Entries++
		if n, err := r.client.MemoryUsage(ctx, iter.Val()).Result(); err == nil {
			st.Size += n
		}
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("scanning keys: %w", err)
	}
	return st, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
