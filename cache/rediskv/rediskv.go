// Package rediskv implements cache.Backend on top of Redis/Valkey/
// DragonflyDB, keyed on a URL-driven connection.
package rediskv

import (
	"context"
	"errors"
	"time"

	"corekit.dev/cache"
	"corekit.dev/errs"
	"github.com/redis/go-redis/v9"
)

func init() {
	cache.RegisterBackend("remote-kv", func(url string) (cache.Backend, error) {
		return New(url)
	})
}

// Backend is a Redis-protocol implementation of cache.Backend. It is
// compatible with DragonflyDB and Valkey, which speak the same wire
// protocol.
type Backend struct {
	client *redis.Client
}

// New parses url (redis://...) and returns a Backend with a client for it.
// No connection is checked here; Connect pings the server.
func New(url string) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "parse redis url", err)
	}
	return &Backend{client: redis.NewClient(opts)}, nil
}

func (b *Backend) Connect(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errs.Wrap(errs.BackendUnavailable, "ping redis", err)
	}
	return nil
}

func (b *Backend) Disconnect(context.Context) error {
	return b.client.Close()
}

func (b *Backend) RawGet(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *Backend) RawSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *Backend) RawDelete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *Backend) RawClearScope(ctx context.Context, prefix string) error {
	pattern := "*"
	if prefix != "" {
		pattern = prefix + ":*"
	}
	keys, err := b.scanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}

func (b *Backend) RawIterateKeys(ctx context.Context, prefix, pattern string) ([]string, error) {
	glob := prefix
	if glob != "" {
		glob += ":"
	}
	if pattern == "" {
		glob += "*"
	} else {
		glob += pattern
	}
	return b.scanKeys(ctx, glob)
}

// scanKeys walks the keyspace with SCAN rather than KEYS, so RawClearScope
// and RawIterateKeys don't block the server on a large dataset.
func (b *Backend) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := b.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (b *Backend) RawTTL(ctx context.Context, key string) (time.Duration, bool, bool, error) {
	ttl, err := b.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, false, err
	}
	// go-redis surfaces TTL's two sentinels as unscaled negative durations
	// (-2ns and -1ns, not seconds): -2 means the key does not exist, -1
	// means it exists with no expiry.
	switch ttl {
	case -2:
		return 0, false, false, nil
	case -1:
		return 0, true, true, nil
	default:
		return ttl, false, true, nil
	}
}

func (b *Backend) RawExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := b.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
