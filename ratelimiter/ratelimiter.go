package ratelimiter

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"corekit.dev/corecfg"
	"corekit.dev/errs"
	"github.com/labstack/echo/v4"
)

// KeyFunc derives the bucket key for a request. The default is the
// client's real IP (proxy-header-aware via echo.Context.RealIP), falling
// back to "unknown" when no address is available at all, per §9's Open
// Question: such requests share a single bucket rather than bypassing the
// limiter.
type KeyFunc func(c echo.Context) string

// Config configures Middleware, per §4.3.1.
type Config struct {
	MaxRequests int
	WindowMs    int64
	Message     string
	KeyFunc     KeyFunc
	Store       Store
	// Skipper lets callers exempt specific requests (health checks,
	// internal routes) from rate limiting.
	Skipper func(c echo.Context) bool
}

func defaultKeyFunc(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// Middleware builds an echo.MiddlewareFunc enforcing a fixed-window rate
// limit. Construction fails if windowMs <= 0 or maxRequests < 0, per
// §4.3.3.
func Middleware(cfg Config) (echo.MiddlewareFunc, error) {
	v := corecfg.NewValidator()
	v.RequirePositiveInt("windowMs", int(cfg.WindowMs))
	v.RequireNonNegativeInt("maxRequests", cfg.MaxRequests)
	if !v.IsValid() {
		return nil, errs.Wrap(errs.InvalidArgument, "invalid rate limiter configuration", v.Validate())
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKeyFunc
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(time.Duration(cfg.WindowMs) * time.Millisecond)
	}
	if cfg.Message == "" {
		cfg.Message = "too many requests"
	}
	window := time.Duration(cfg.WindowMs) * time.Millisecond
	var mu sync.Mutex // serializes the Store read-modify-write below

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			key := cfg.KeyFunc(c)
			now := time.Now()

			mu.Lock()
			rec, ok := cfg.Store.Get(key)
			if !ok || now.After(rec.ResetAt) {
				rec = Record{Count: 0, ResetAt: now.Add(window)}
			}
			rec.Count++
			cfg.Store.Set(key, rec)
			mu.Unlock()

			remaining := cfg.MaxRequests - rec.Count
			if remaining < 0 {
				remaining = 0
			}
			header := c.Response().Header()
			header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
			header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			header.Set("X-RateLimit-Reset", strconv.FormatInt(rec.ResetAt.Unix(), 10))

			if rec.Count > cfg.MaxRequests {
				retryAfter := int(math.Ceil(rec.ResetAt.Sub(now).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				header.Set("Retry-After", strconv.Itoa(retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, cfg.Message)
			}

			return next(c)
		}
	}, nil
}

// RateLimitedError builds the typed-error form of a rejection for non-HTTP
// callers that wrap this package's decision logic directly, per §7's
// "non-HTTP callers receive a typed error."
func RateLimitedError(retryAfterSeconds int) error {
	return errs.Newf(errs.RateLimited, "rate limit exceeded, retry after %ds", retryAfterSeconds).
		WithDetails(map[string]any{"retryAfterSeconds": retryAfterSeconds})
}
