// Package corecfg resolves the environment-variable configuration surface
// described by the core's external interface contract: every subsystem
// reads its defaults through an EnvConfig, and every constructor accepts an
// explicit options struct that wins over the environment, which in turn wins
// over the built-in default.
package corecfg

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig reads configuration from environment variables under an
// optional prefix. It never panics on a missing value unless a Must* method
// is used.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a loader that looks up PREFIX_KEY when prefix is
// non-empty, or KEY otherwise.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix == "" {
		return key
	}
	return ec.prefix + "_" + key
}

// GetString returns the environment value for key, or defaultValue if unset.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetInt returns the parsed integer environment value for key, or
// defaultValue if unset or unparsable.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetBool returns the parsed boolean environment value for key, or
// defaultValue if unset or unparsable.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDuration parses the environment value as a Go duration string
// ("30s", "1h") or, failing that, as a bare integer count of milliseconds —
// the core's own variables (e.g. QUEUE_BACKOFF_BASE_MS) are specified in ms.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// GetStringSlice splits a comma-separated environment value, trimming
// whitespace around each element.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// GetHexBytes decodes a hex-encoded environment value (e.g. ENCRYPTION_KEY)
// into raw bytes. ok is false if the variable is unset or not valid hex.
func (ec *EnvConfig) GetHexBytes(key string) (value []byte, ok bool) {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return nil, false
	}
	decoded, err := hex.DecodeString(v)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// MaskSecret masks a sensitive string for safe logging, showing only the
// first and last four characters of sufficiently long values.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
