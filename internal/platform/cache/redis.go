package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Versioned namespaces keys under a counter so a single INCR invalidates every cached entry.
type Versioned struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewVersioned builds a Versioned cache. A non-positive ttl disables expiry.
func NewVersioned(client *redis.Client, prefix string, ttl time.Duration) *Versioned {
	return &Versioned{client: client, prefix: prefix, ttl: ttl}
}

func (v *Versioned) versionKey() string { return v.prefix + ":version" }

func (v *Versioned) version(ctx context.Context) (int64, error) {
	ver, err := v.client.Get(ctx, v.versionKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return ver, err
}

// Key returns the versioned key for name.
func (v *Versioned) Key(ctx context.Context, name string) (string, error) {
	ver, err := v.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d:%s", v.prefix, ver, name), nil
}

// Get returns the cached bytes and whether they were found.
func (v *Versioned) Get(ctx context.Context, name string) ([]byte, bool, error) {
	key, err := v.Key(ctx, name)
	if err != nil {
		return nil, false, err
	}
	raw, err := v.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set stores payload under the current version.
func (v *Versioned) Set(ctx context.Context, name string, payload []byte) error {
	key, err := v.Key(ctx, name)
	if err != nil {
		return err
	}
	ttl := v.ttl
	if ttl < 0 {
		ttl = 0
	}
	return v.client.Set(ctx, key, payload, ttl).Err()
}

// Bump invalidates all entries written under earlier versions.
func (v *Versioned) Bump(ctx context.Context) error {
	return v.client.Incr(ctx, v.versionKey()).Err()
}
