package queue

import (
	"context"
	"time"

	"corekit.dev/corecfg"
)

// Config is the resolved environment configuration for a Manager, per
// §6.1.
type Config struct {
	Backend         string
	URL             string
	Concurrency     int
	MaxAttempts     int
	BackoffBaseMs   int64
	ShutdownTimeout time.Duration
}

// ConfigFromEnv resolves a Config from the environment.
func ConfigFromEnv() Config {
	env := corecfg.NewEnvConfig("QUEUE")
	return Config{
		Backend:         env.GetString("BACKEND", "memory"),
		URL:             env.GetString("URL", ""),
		Concurrency:     env.GetInt("CONCURRENCY", 1),
		MaxAttempts:     env.GetInt("MAX_ATTEMPTS", 3),
		BackoffBaseMs:   int64(env.GetInt("BACKOFF_BASE_MS", 1000)),
		ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT_MS", 30*time.Second),
	}
}

// NewFromConfig builds a Manager from cfg, resolving and connecting its
// backend through the package registry.
func NewFromConfig(ctx context.Context, cfg Config, opts ...ManagerOption) (*Manager, error) {
	backend, err := NewBackend(cfg.Backend, cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := backend.Connect(ctx); err != nil {
		return nil, err
	}
	allOpts := append([]ManagerOption{
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithDefaultMaxAttempts(cfg.MaxAttempts),
		WithDefaultBackoff(Backoff{Type: BackoffFixed, BaseDelayMs: cfg.BackoffBaseMs, MaxDelayMs: 30000}),
		WithDefaultConcurrency(cfg.Concurrency),
	}, opts...)
	return NewManager(backend, allOpts...), nil
}
