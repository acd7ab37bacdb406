// Package membackend implements an in-process cache.Backend: a bounded
// LRU with per-entry TTL, for single-instance deployments and tests. A
// single lock covers every operation, since the cache workload here is
// key lookups rather than a hot work-stealing loop that would need
// sharding.
package membackend

import (
	"context"
	"strings"
	"sync"
	"time"

	"corekit.dev/cache"
	lru "github.com/hashicorp/golang-lru/v2"
)

func init() {
	cache.RegisterBackend("memory", func(string) (cache.Backend, error) {
		return New(), nil
	})
}

const (
	defaultMaxEntries    = 10000
	defaultMaxBytes      = 64 << 20 // 64MiB
	defaultSweepInterval = time.Minute
)

type entry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// SizeFunc computes the byte cost charged against a Backend's max-bytes
// bound for a stored value. The default charges len(value).
type SizeFunc func(value []byte) int64

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithMaxEntries bounds the number of live entries. Exceeding it evicts
// the least-recently-used entry.
func WithMaxEntries(n int) Option {
	return func(b *Backend) { b.maxEntries = n }
}

// WithMaxBytes bounds the total size (per sizeFunc) of live entries.
// Exceeding it evicts least-recently-used entries until satisfied.
func WithMaxBytes(n int64) Option {
	return func(b *Backend) { b.maxBytes = n }
}

// WithSizeFunc overrides the default len(value) size accounting.
func WithSizeFunc(fn SizeFunc) Option {
	return func(b *Backend) { b.sizeFunc = fn }
}

// WithSweepInterval overrides the default periodic-sweep interval.
func WithSweepInterval(d time.Duration) Option {
	return func(b *Backend) { b.sweepInterval = d }
}

// Backend is an in-memory implementation of cache.Backend, per §4.1.3's
// in-memory eviction algorithm: a recency list bounded by max entries and
// max total size, evicting least-recently-used entries on overflow until
// both bounds are satisfied, plus a periodic sweeper for TTL expiry
// independent of access.
type Backend struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, entry]
	totalBytes int64

	maxEntries    int
	maxBytes      int64
	sizeFunc      SizeFunc
	sweepInterval time.Duration
}

// New constructs an empty Backend with the given options, defaulting to
// 10000 max entries, a 64MiB max size, and a one-minute sweep interval.
func New(opts ...Option) *Backend {
	b := &Backend{
		maxEntries:    defaultMaxEntries,
		maxBytes:      defaultMaxBytes,
		sizeFunc:      func(value []byte) int64 { return int64(len(value)) },
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(b)
	}

	entries, err := lru.NewWithEvict(b.maxEntries, func(_ string, e entry) {
		b.totalBytes -= b.sizeFunc(e.value)
	})
	if err != nil {
		// maxEntries <= 0 from a misconfigured Option; fall back to the default
		// rather than returning a nil Backend from New.
		entries, _ = lru.NewWithEvict(defaultMaxEntries, func(_ string, e entry) {
			b.totalBytes -= b.sizeFunc(e.value)
		})
	}
	b.entries = entries

	go b.sweep(b.sweepInterval)
	return b
}

func (b *Backend) sweep(interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		b.mu.Lock()
		for _, k := range b.entries.Keys() {
			if e, ok := b.entries.Peek(k); ok && e.expired(now) {
				b.entries.Remove(k)
			}
		}
		b.mu.Unlock()
	}
}

func (b *Backend) Connect(context.Context) error    { return nil }
func (b *Backend) Disconnect(context.Context) error { return nil }

func (b *Backend) RawGet(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		b.entries.Remove(key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (b *Backend) RawSet(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	e := entry{value: stored}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Remove any existing entry first so its size is released through the
	// same onEvict accounting path the LRU's own capacity eviction uses.
	b.entries.Remove(key)
	b.entries.Add(key, e)
	b.totalBytes += b.sizeFunc(stored)

	for b.totalBytes > b.maxBytes && b.entries.Len() > 0 {
		if _, _, ok := b.entries.RemoveOldest(); !ok {
			break
		}
	}
	return nil
}

func (b *Backend) RawDelete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.entries.Remove(key), nil
}

func (b *Backend) RawClearScope(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prefix == "" {
		b.entries.Purge()
		b.totalBytes = 0
		return nil
	}
	full := prefix + ":"
	for _, k := range b.entries.Keys() {
		if strings.HasPrefix(k, full) {
			b.entries.Remove(k)
		}
	}
	return nil
}

func (b *Backend) RawIterateKeys(_ context.Context, prefix, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	full := prefix
	if full != "" {
		full += ":"
	}
	var re matcher
	if pattern != "" && pattern != "*" {
		re = cache.CompiledPattern(pattern)
	}

	var out []string
	for _, k := range b.entries.Keys() {
		e, ok := b.entries.Peek(k)
		if !ok || e.expired(now) {
			continue
		}
		if full != "" && !strings.HasPrefix(k, full) {
			continue
		}
		suffix := k[len(full):]
		if re != nil && !re.MatchString(suffix) {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

// matcher is the subset of *regexp.Regexp used here, so RawIterateKeys
// doesn't need to import regexp directly.
type matcher interface {
	MatchString(string) bool
}

func (b *Backend) RawTTL(_ context.Context, key string) (time.Duration, bool, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries.Peek(key)
	if !ok || e.expired(time.Now()) {
		return 0, false, false, nil
	}
	if e.expireAt.IsZero() {
		return 0, true, true, nil
	}
	return time.Until(e.expireAt), false, true, nil
}

func (b *Backend) RawExpire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries.Peek(key)
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	e.expireAt = time.Now().Add(ttl)
	b.entries.Add(key, e)
	return true, nil
}
