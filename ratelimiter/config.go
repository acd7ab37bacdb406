package ratelimiter

import "corekit.dev/corecfg"

// EnvConfig mirrors the RATE_LIMIT_* environment surface of §6.1.
type EnvConfig struct {
	MaxRequests int
	WindowMs    int64
}

// ConfigFromEnv resolves EnvConfig from RATE_LIMIT_MAX and
// RATE_LIMIT_WINDOW_MS, defaulting to 100 requests per 900000ms (15
// minutes).
func ConfigFromEnv() EnvConfig {
	env := corecfg.NewEnvConfig("RATE_LIMIT")
	return EnvConfig{
		MaxRequests: env.GetInt("MAX", 100),
		WindowMs:    int64(env.GetInt("WINDOW_MS", 900000)),
	}
}
