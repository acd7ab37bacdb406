// Package slotcache implements cache.Backend on top of Memcached via
// bradfitz/gomemcache, for the "remote-fixed-slot-cache" variant of §4.1.
// Memcached has no scan/keys primitive, so RawIterateKeys and
// RawClearScope maintain a side index of live keys per prefix rather than
// asking the server to enumerate its slots.
package slotcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"corekit.dev/cache"
	"corekit.dev/errs"
	"github.com/bradfitz/gomemcache/memcache"
)

func init() {
	cache.RegisterBackend("remote-slot", func(url string) (cache.Backend, error) {
		return New(strings.Split(url, ",")...), nil
	})
}

// Backend is a Memcached-backed implementation of cache.Backend.
type Backend struct {
	client *memcache.Client

	mu    sync.Mutex
	index map[string]struct{} // keys Set and not since deleted or seen missing, for RawIterateKeys/RawClearScope
}

// New constructs a Backend against one or more memcached servers
// (host:port).
func New(servers ...string) *Backend {
	return &Backend{
		client: memcache.New(servers...),
		index:  make(map[string]struct{}),
	}
}

func (b *Backend) Connect(context.Context) error {
	return nil
}

func (b *Backend) Disconnect(context.Context) error {
	return nil
}

func (b *Backend) RawGet(_ context.Context, key string) ([]byte, bool, error) {
	item, err := b.client.Get(key)
	if err == memcache.ErrCacheMiss {
		b.forget(key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

func (b *Backend) RawSet(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := &memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(ttl.Seconds()),
	}
	if err := b.client.Set(item); err != nil {
		return err
	}
	b.remember(key)
	return nil
}

func (b *Backend) RawDelete(_ context.Context, key string) (bool, error) {
	err := b.client.Delete(key)
	b.forget(key)
	if err == memcache.ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) RawClearScope(ctx context.Context, prefix string) error {
	for _, key := range b.keysUnder(prefix) {
		if _, err := b.RawDelete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) RawIterateKeys(_ context.Context, prefix, pattern string) ([]string, error) {
	candidates := b.keysUnder(prefix)
	if pattern == "" || pattern == "*" {
		return candidates, nil
	}
	re := cache.CompiledPattern(pattern)
	full := prefix
	if full != "" {
		full += ":"
	}
	var out []string
	for _, k := range candidates {
		if re.MatchString(strings.TrimPrefix(k, full)) {
			out = append(out, k)
		}
	}
	return out, nil
}

// RawTTL is unsupported: the memcached wire protocol has no command to
// read back a key's remaining expiry. Callers needing TTL introspection
// should use the Redis or in-memory backend.
func (b *Backend) RawTTL(context.Context, string) (time.Duration, bool, bool, error) {
	return 0, false, false, errs.New(errs.Configuration, "slotcache: RawTTL is not supported by memcached")
}

func (b *Backend) RawExpire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	item, err := b.client.Get(key)
	if err == memcache.ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	item.Expiration = int32(ttl.Seconds())
	if err := b.client.Set(item); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) remember(key string) {
	b.mu.Lock()
	b.index[key] = struct{}{}
	b.mu.Unlock()
}

func (b *Backend) forget(key string) {
	b.mu.Lock()
	delete(b.index, key)
	b.mu.Unlock()
}

func (b *Backend) keysUnder(prefix string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	full := prefix
	if full != "" {
		full += ":"
	}
	var out []string
	for k := range b.index {
		if full == "" || strings.HasPrefix(k, full) {
			out = append(out, k)
		}
	}
	return out
}
