package cache

import (
	"context"
	"time"

	"corekit.dev/corecfg"
)

// Config is the resolved environment configuration for a Cache, per §6.1:
// CACHE_BACKEND selects the registered backend, CACHE_URL is its
// connection string, CACHE_KEY_PREFIX becomes the root namespace, and
// CACHE_DEFAULT_TTL_S seeds the default TTL applied when Set is called
// with a nil ttl.
type Config struct {
	Backend    string
	URL        string
	KeyPrefix  string
	DefaultTTL time.Duration
}

// ConfigFromEnv resolves a Config from the environment, falling back to an
// in-memory backend with no namespace and no default TTL.
func ConfigFromEnv() Config {
	env := corecfg.NewEnvConfig("CACHE")
	return Config{
		Backend:    env.GetString("BACKEND", "memory"),
		URL:        env.GetString("URL", ""),
		KeyPrefix:  env.GetString("KEY_PREFIX", ""),
		DefaultTTL: time.Duration(env.GetInt("DEFAULT_TTL_S", 0)) * time.Second,
	}
}

// NewFromConfig builds a Cache from cfg: it resolves the backend by name
// through the package registry, connects it, and wraps it with the
// configured default TTL and key prefix.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Cache, error) {
	backend, err := NewBackend(cfg.Backend, cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := backend.Connect(ctx); err != nil {
		return nil, err
	}
	allOpts := append([]Option{WithDefaultTTL(cfg.DefaultTTL)}, opts...)
	c := New(backend, allOpts...)
	if cfg.KeyPrefix != "" {
		c = c.Namespace(cfg.KeyPrefix)
	}
	return c, nil
}
