// Package cache implements the toolkit's key/value cache facade: a thin,
// backend-agnostic layer that adds namespacing, TTL defaults, typed
// get/set helpers and single-flight get-or-compute on top of a Backend.
//
// The facade never talks to a store directly. It resolves the caller's key
// against its namespace prefix, serializes the value, and delegates to the
// Backend the Cache was built with.
package cache

import (
	"context"
	"fmt"
	"time"

	"corekit.dev/errs"
	"corekit.dev/logging"
	"corekit.dev/serializer"
	"golang.org/x/sync/singleflight"
)

// shared holds the state every namespaced view of a Cache shares: the
// backend connection, the serializer, the single-flight group keyed by
// fully-resolved key, and defaults. Namespace() returns a new Cache with
// its own prefix but the same shared state, so GetOrSet calls that resolve
// to the same full key coalesce even when made through separate view
// values, while the same raw key under two different namespaces never
// collides, because the namespace prefix is folded into the key before it
// ever reaches sf.Do.
type shared struct {
	backend    Backend
	ser        serializer.Serializer
	sf         singleflight.Group
	defaultTTL time.Duration
	log        *logging.ContextLogger
}

// Cache is a namespaced view over a Backend. The zero value is not usable;
// construct one with New.
type Cache struct {
	s      *shared
	prefix string
}

// Option configures a Cache at construction time.
type Option func(*shared)

// WithSerializer overrides the default JSON serializer.
func WithSerializer(s serializer.Serializer) Option {
	return func(sh *shared) { sh.ser = s }
}

// WithDefaultTTL sets the TTL used when Set is called with a nil ttl. Zero
// means no expiry.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(sh *shared) { sh.defaultTTL = ttl }
}

// WithLogger attaches a context logger for cache operations.
func WithLogger(log *logging.ContextLogger) Option {
	return func(sh *shared) { sh.log = log }
}

// New builds a Cache over backend with an empty namespace prefix.
func New(backend Backend, opts ...Option) *Cache {
	sh := &shared{
		backend: backend,
		ser:     serializer.NewJSON(),
	}
	for _, opt := range opts {
		opt(sh)
	}
	return &Cache{s: sh}
}

// Namespace returns a view of c whose keys are all prefixed with
// "prefix:". Namespaces compose: c.Namespace("a").Namespace("b") resolves
// keys under "a:b:".
func (c *Cache) Namespace(prefix string) *Cache {
	resolved := prefix
	if c.prefix != "" {
		resolved = c.prefix + ":" + prefix
	}
	return &Cache{s: c.s, prefix: resolved}
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *Cache) resolveTTL(ttl *time.Duration) (time.Duration, error) {
	if ttl == nil {
		return c.s.defaultTTL, nil
	}
	if *ttl <= 0 {
		return 0, errs.New(errs.InvalidArgument, "ttl must be positive when provided explicitly")
	}
	return *ttl, nil
}

// Get decodes the value stored under key into out. found is false if the
// key is absent or expired; out is left untouched in that case.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, found, err := c.s.backend.RawGet(ctx, c.key(key))
	if err != nil {
		return false, errs.Wrap(errs.BackendUnavailable, fmt.Sprintf("get %q", key), err)
	}
	if !found {
		return false, nil
	}
	if err := c.s.ser.Decode(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// Has reports whether key is present and unexpired, without decoding it.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	_, found, err := c.s.backend.RawGet(ctx, c.key(key))
	if err != nil {
		return false, errs.Wrap(errs.BackendUnavailable, fmt.Sprintf("has %q", key), err)
	}
	return found, nil
}

// Set stores value under key. ttl == nil falls back to the Cache's default
// TTL (no expiry if none was configured); a non-nil ttl that is <= 0 is
// rejected rather than silently treated as "no expiry", per §4.1.1.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl *time.Duration) error {
	resolved, err := c.resolveTTL(ttl)
	if err != nil {
		return err
	}
	data, err := c.s.ser.Encode(value)
	if err != nil {
		return err
	}
	if err := c.s.backend.RawSet(ctx, c.key(key), data, resolved); err != nil {
		return errs.Wrap(errs.BackendUnavailable, fmt.Sprintf("set %q", key), err)
	}
	return nil
}

// Delete removes key. removed is false if no live entry existed.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := c.s.backend.RawDelete(ctx, c.key(key))
	if err != nil {
		return false, errs.Wrap(errs.BackendUnavailable, fmt.Sprintf("delete %q", key), err)
	}
	return removed, nil
}

// Clear removes every key in the Cache's current namespace. Calling Clear
// on the root (unnamespaced) Cache clears the entire backend.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.s.backend.RawClearScope(ctx, c.prefix); err != nil {
		return errs.Wrap(errs.BackendUnavailable, "clear scope", err)
	}
	return nil
}

// Keys lists keys in the current namespace matching pattern ("*"/"?"
// glob). Returned keys have the namespace prefix stripped.
func (c *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	raw, err := c.s.backend.RawIterateKeys(ctx, c.prefix, pattern)
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnavailable, "iterate keys", err)
	}
	if c.prefix == "" {
		return raw, nil
	}
	out := make([]string, 0, len(raw))
	cut := len(c.prefix) + 1
	for _, k := range raw {
		if len(k) >= cut {
			out = append(out, k[cut:])
		}
	}
	return out, nil
}

// DeletePattern deletes every key in the current namespace matching
// pattern and returns how many were removed.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		removed, err := c.Delete(ctx, k)
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}
	return n, nil
}

// TTL returns the remaining time-to-live for key. found is false if the
// key is absent; noExpiry is true if the key exists but never expires.
func (c *Cache) TTL(ctx context.Context, key string) (ttl time.Duration, noExpiry bool, found bool, err error) {
	ttl, noExpiry, found, err = c.s.backend.RawTTL(ctx, c.key(key))
	if err != nil {
		return 0, false, false, errs.Wrap(errs.BackendUnavailable, fmt.Sprintf("ttl %q", key), err)
	}
	return ttl, noExpiry, found, nil
}

// Expire updates key's TTL without touching its value. ok is false if key
// is absent.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errs.New(errs.InvalidArgument, "ttl must be positive")
	}
	ok, err := c.s.backend.RawExpire(ctx, c.key(key), ttl)
	if err != nil {
		return false, errs.Wrap(errs.BackendUnavailable, fmt.Sprintf("expire %q", key), err)
	}
	return ok, nil
}

// ManyResult is one key's outcome from GetMany, in the same order as the
// keys argument, per §4.1.1's "ordered list of (value | absent)" contract.
type ManyResult struct {
	Key   string
	Value any
	Found bool
}

// GetMany decodes every key in keys into an ordered slice of results
// matching the input order. An absent key's result has Found=false and a
// zero Value, rather than being dropped from the output.
func (c *Cache) GetMany(ctx context.Context, keys []string, newOut func() any) ([]ManyResult, error) {
	out := make([]ManyResult, len(keys))
	for i, k := range keys {
		v := newOut()
		found, err := c.Get(ctx, k, v)
		if err != nil {
			return nil, err
		}
		out[i] = ManyResult{Key: k}
		if found {
			out[i].Value = v
			out[i].Found = true
		}
	}
	return out, nil
}

// SetMany stores every entry in values under the same ttl policy as Set.
// It is best-effort per §4.1.1: every entry is attempted even if earlier
// ones fail, and any failures surface together as a single typed error
// once the whole batch has been attempted.
func (c *Cache) SetMany(ctx context.Context, values map[string]any, ttl *time.Duration) error {
	failures := make(map[string]string)
	for k, v := range values {
		if err := c.Set(ctx, k, v, ttl); err != nil {
			failures[k] = err.Error()
		}
	}
	if len(failures) > 0 {
		return errs.Newf(errs.BackendUnavailable, "setMany: %d of %d keys failed", len(failures), len(values)).
			WithDetails(map[string]any{"failures": failures})
	}
	return nil
}

// DeleteMany removes every key in keys and returns how many were actually
// present.
func (c *Cache) DeleteMany(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, k := range keys {
		removed, err := c.Delete(ctx, k)
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}
	return n, nil
}

// GetOrSet returns the cached value for key if present, decoding it into
// out. On a miss it invokes factory exactly once even under concurrent
// callers for the same resolved key — singleflight.Group collapses the
// concurrent misses into a single backend round trip, the way
// request-coalescing cache managers avoid a thundering herd recomputing
// the same value. Every waiting caller still gets its own decode into its
// own out.
func (c *Cache) GetOrSet(ctx context.Context, key string, out any, ttl *time.Duration, factory func(ctx context.Context) (any, error)) error {
	found, err := c.Get(ctx, key, out)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	resolvedKey := c.key(key)
	raw, err, _ := c.s.sf.Do(resolvedKey, func() (any, error) {
		// Re-check under the single-flight key in case another goroutine
		// populated the value while this one was queued to run factory.
		var existing any
		found, err := c.Get(ctx, key, &existing)
		if err == nil && found {
			return c.s.ser.Encode(existing)
		}

		value, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		resolved, err := c.resolveTTL(ttl)
		if err != nil {
			return nil, err
		}
		data, err := c.s.ser.Encode(value)
		if err != nil {
			return nil, err
		}
		if err := c.s.backend.RawSet(ctx, resolvedKey, data, resolved); err != nil {
			return nil, errs.Wrap(errs.BackendUnavailable, fmt.Sprintf("set %q", key), err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return c.s.ser.Decode(raw.([]byte), out)
}
