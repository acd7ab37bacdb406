package ratelimiter_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"corekit.dev/errs"
	"corekit.dev/ratelimiter"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(remoteAddr string) (*httptest.ResponseRecorder, echo.Context) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	return rec, e.NewContext(req, rec)
}

func TestMiddlewareRejectsNonPositiveWindow(t *testing.T) {
	_, err := ratelimiter.Middleware(ratelimiter.Config{MaxRequests: 10, WindowMs: 0})
	assert.Error(t, err)
}

func TestMiddlewareRejectsNegativeMax(t *testing.T) {
	_, err := ratelimiter.Middleware(ratelimiter.Config{MaxRequests: -1, WindowMs: 1000})
	assert.Error(t, err)
}

// TestBoundaryScenario exercises §8 scenario 5 exactly: max=2, window=60s,
// three requests from the same IP.
func TestBoundaryScenario(t *testing.T) {
	mw, err := ratelimiter.Middleware(ratelimiter.Config{MaxRequests: 2, WindowMs: 60000})
	require.NoError(t, err)

	handler := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec1, c1 := newRequest("1.2.3.4:5555")
	require.NoError(t, handler(c1))
	assert.Equal(t, http.StatusOK, rec1.Code)
	assert.Equal(t, "2", rec1.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec1.Header().Get("X-RateLimit-Remaining"))

	rec2, c2 := newRequest("1.2.3.4:5555")
	require.NoError(t, handler(c2))
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "0", rec2.Header().Get("X-RateLimit-Remaining"))

	rec3, c3 := newRequest("1.2.3.4:5555")
	err = handler(c3)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)

	retryAfter := rec3.Header().Get("Retry-After")
	require.NotEmpty(t, retryAfter)
}

func TestDifferentKeysHaveIndependentBuckets(t *testing.T) {
	mw, err := ratelimiter.Middleware(ratelimiter.Config{MaxRequests: 1, WindowMs: 60000})
	require.NoError(t, err)
	handler := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	recA, cA := newRequest("1.1.1.1:1")
	require.NoError(t, handler(cA))
	assert.Equal(t, http.StatusOK, recA.Code)

	recB, cB := newRequest("2.2.2.2:1")
	require.NoError(t, handler(cB))
	assert.Equal(t, http.StatusOK, recB.Code)
}

func TestSkipperBypassesLimiter(t *testing.T) {
	mw, err := ratelimiter.Middleware(ratelimiter.Config{
		MaxRequests: 1, WindowMs: 60000,
		Skipper: func(c echo.Context) bool { return true },
	})
	require.NoError(t, err)
	handler := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for i := 0; i < 5; i++ {
		rec, c := newRequest("9.9.9.9:1")
		require.NoError(t, handler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitedErrorCarriesRetryAfter(t *testing.T) {
	err := ratelimiter.RateLimitedError(30)
	require.Error(t, err)

	var typed *errs.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, errs.RateLimited, typed.Code)
	assert.Equal(t, 30, typed.Details["retryAfterSeconds"])
}
