package cache

import (
	"context"
	"time"
)

// Backend is the capability set a cache storage engine must provide. The
// facade never touches a store directly — it always goes through one of
// these.
//
// Keys passed to a Backend are already namespace-resolved (the facade has
// prepended any namespace prefix); values are already serialized to bytes.
type Backend interface {
	// Connect establishes the backend connection, if any. In-memory backends
	// may treat this as a no-op.
	Connect(ctx context.Context) error

	// Disconnect releases backend resources.
	Disconnect(ctx context.Context) error

	// RawGet returns the stored bytes for key. found is false if the key is
	// absent or has expired.
	RawGet(ctx context.Context, key string) (value []byte, found bool, err error)

	// RawSet stores value under key. ttl == 0 means no expiry.
	RawSet(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// RawDelete removes key. removed is false if no live entry existed.
	RawDelete(ctx context.Context, key string) (removed bool, err error)

	// RawClearScope removes every key under prefix. An empty prefix clears
	// every key the backend can see.
	RawClearScope(ctx context.Context, prefix string) error

	// RawIterateKeys returns every stored key under prefix matching pattern
	// (glob-style: "*" and "?"). An empty pattern matches every key.
	RawIterateKeys(ctx context.Context, prefix, pattern string) ([]string, error)

	// RawTTL returns the remaining time-to-live for key. found is false if
	// the key is absent. A zero duration with found=true and noExpiry=true
	// indicates the key never expires.
	RawTTL(ctx context.Context, key string) (ttl time.Duration, noExpiry bool, found bool, err error)

	// RawExpire updates key's TTL without touching its value. ok is false if
	// the key is absent.
	RawExpire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error)
}

// Factory constructs a Backend from a connection URL, as registered by
// RegisterBackend.
type Factory func(url string) (Backend, error)

var registry = map[string]Factory{}

// RegisterBackend adds name to the backend registry, per §9's "small
// registry keyed by backend name" strategy for the cache's duck-typed
// backend variants.
func RegisterBackend(name string, factory Factory) {
	registry[name] = factory
}

// NewBackend constructs the backend registered under name. It returns an
// error if name was never registered (typically because the importing
// program never imported the corresponding backend package for its
// RegisterBackend side effect — the same pattern database/sql drivers use).
func NewBackend(name, url string) (Backend, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, ErrUnknownBackend(name)
	}
	return factory(url)
}
