package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "analytics:version"

// Cache stores computed summaries in Redis under a global version. Bumping
// the version orphans every older entry; they expire by TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, starting at 1.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
		return 0, err
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		return 1, c.client.Set(ctx, cacheVersionKey, 1, 0).Err()
	}
	return ver, nil
}

// Key appends the current version to name.
func (c *Cache) Key(ctx context.Context, name string) (string, error) {
	if !c.enabled() {
		return name, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", name, ver), nil
}

// Load decodes the entry at key into dest. On a miss loader runs once per key
// across concurrent callers and its result is stored. Loader errors are
// never cached.
func (c *Cache) Load(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("analytics: cache loader required")
	}
	if c.enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			return json.Unmarshal(payload, dest)
		case !errors.Is(err, redis.Nil):
			return err
		}
	}

	raw, err := c.fill(ctx, key, loader)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (c *Cache) fill(ctx context.Context, key string, loader func(context.Context) (any, error)) ([]byte, error) {
	run := func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if c.enabled() {
			if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				return nil, err
			}
		}
		return raw, nil
	}
	var (
		v   any
		err error
	)
	if c == nil {
		v, err = run()
	} else {
		v, err, _ = c.group.Do(key, run)
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Bump invalidates every cached entry.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	if _, err := c.Version(ctx); err != nil {
		return err
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func keySummary(days int) string {
	return "analytics:summary:" + strconv.Itoa(days)
}
