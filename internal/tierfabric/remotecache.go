package tierfabric

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ardriveapp/turbo-upload-core/internal/breaker"
	"github.com/ardriveapp/turbo-upload-core/internal/errs"
)

// remoteCache is the networked key-value cache tier (§4.C tier 2): a
// clustered cache guarded by a circuit breaker. Raw payload bytes are
// stored verbatim under their key so GetRange can use Redis's native
// GETRANGE without a full-value fetch; metadata and offset records, which
// are always small, round-trip as JSON.
type remoteCache struct {
	client   *redis.Client
	breakers *breaker.Registry
	ttl      time.Duration
	quarTTL  time.Duration
}

func newRemoteCache(client *redis.Client, breakers *breaker.Registry, ttl, quarantineTTL time.Duration) *remoteCache {
	return &remoteCache{client: client, breakers: breakers, ttl: ttl, quarTTL: quarantineTTL}
}

func (c *remoteCache) Name() string { return "remoteCache" }

func (c *remoteCache) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	err := c.breakers.Do(ctx, "remoteCache", 5*time.Second, fn)
	if err == breaker.ErrOpen {
		return errs.ErrUnavailable
	}
	return err
}

func (c *remoteCache) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := c.guarded(ctx, func(ctx context.Context) error {
		var ferr error
		n, ferr = c.client.Exists(ctx, key).Result()
		return ferr
	})
	if err != nil {
		return false, errs.ErrUnavailable
	}
	return n > 0, nil
}

func (c *remoteCache) GetRaw(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := c.guarded(ctx, func(ctx context.Context) error {
		var ferr error
		raw, ferr = c.client.Get(ctx, key).Bytes()
		return ferr
	})
	if err == redis.Nil {
		return nil, errNotFound(key)
	}
	if err != nil {
		return nil, errs.ErrUnavailable
	}
	return raw, nil
}

// GetRange reads [start, end] (inclusive) of the raw bytes stored at key
// using GETRANGE, avoiding a full-value fetch for large payloads.
func (c *remoteCache) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	var raw []byte
	err := c.guarded(ctx, func(ctx context.Context) error {
		var ferr error
		raw, ferr = c.client.GetRange(ctx, key, start, end).Bytes()
		return ferr
	})
	if err == redis.Nil || (err == nil && len(raw) == 0) {
		return nil, errNotFound(key)
	}
	if err != nil {
		return nil, errs.ErrUnavailable
	}
	return raw, nil
}

func (c *remoteCache) PutRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, raw, ttl).Err()
	})
}

func (c *remoteCache) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	raw, err := c.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errs.ErrParse
	}
	return &m, nil
}

func (c *remoteCache) PutMetadata(ctx context.Context, key string, m *Metadata, ttl time.Duration) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.PutRaw(ctx, key, raw, ttl)
}

func (c *remoteCache) GetOffsets(ctx context.Context, key string) (*NestedOffset, error) {
	raw, err := c.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var o NestedOffset
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, errs.ErrParse
	}
	return &o, nil
}

func (c *remoteCache) PutOffsets(ctx context.Context, key string, o *NestedOffset, ttl time.Duration) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.PutRaw(ctx, key, raw, ttl)
}

func (c *remoteCache) Delete(ctx context.Context, key string) error {
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, key).Err()
	})
}

// Quarantine atomically renames key to its quarantine_ counterpart and
// re-arms a longer TTL. A missing key is not an error: quarantine must
// proceed even if this tier never held the entry.
func (c *remoteCache) Quarantine(ctx context.Context, key string) error {
	qkey := quarantine(key)
	err := c.guarded(ctx, func(ctx context.Context) error {
		return c.client.Rename(ctx, key, qkey).Err()
	})
	// RENAME replies "ERR no such key" (not redis.Nil) when key is absent.
	if err == redis.Nil || (err != nil && strings.Contains(err.Error(), "no such key")) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.client.Expire(ctx, qkey, c.quarTTL).Err()
	})
}
