package cache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"corekit.dev/cache"
	"corekit.dev/cache/membackend"
	"corekit.dev/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache() *cache.Cache {
	return cache.New(membackend.New())
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCache()

	require.NoError(t, c.Set(ctx, "greeting", "hello", nil))

	var out string
	found, err := c.Get(ctx, "greeting", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "hello", out)
}

func TestGetMissReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	c := newCache()

	var out string
	found, err := c.Get(ctx, "missing", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetRejectsNonPositiveExplicitTTL(t *testing.T) {
	ctx := context.Background()
	c := newCache()

	zero := time.Duration(0)
	err := c.Set(ctx, "k", "v", &zero)
	require.Error(t, err)
	code, ok := errs.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.InvalidArgument, code)
}

func TestNamespaceIsolatesKeys(t *testing.T) {
	ctx := context.Background()
	c := newCache()

	users := c.Namespace("users")
	orders := c.Namespace("orders")

	require.NoError(t, users.Set(ctx, "1", "alice", nil))
	require.NoError(t, orders.Set(ctx, "1", "widget", nil))

	var u string
	found, err := users.Get(ctx, "1", &u)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", u)

	var o string
	found, err = orders.Get(ctx, "1", &o)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "widget", o)
}

func TestDeletePatternRemovesMatchingKeys(t *testing.T) {
	ctx := context.Background()
	c := newCache().Namespace("session")

	require.NoError(t, c.Set(ctx, "user:1", "a", nil))
	require.NoError(t, c.Set(ctx, "user:2", "b", nil))
	require.NoError(t, c.Set(ctx, "order:1", "c", nil))

	n, err := c.DeletePattern(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	found, err := c.Has(ctx, "order:1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestGetOrSetInvokesFactoryOnceOnMiss(t *testing.T) {
	ctx := context.Background()
	c := newCache()

	var calls int32
	factory := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "computed", nil
	}

	var out string
	require.NoError(t, c.GetOrSet(ctx, "k", &out, nil, factory))
	assert.Equal(t, "computed", out)
	assert.Equal(t, int32(1), calls)

	var out2 string
	require.NoError(t, c.GetOrSet(ctx, "k", &out2, nil, factory))
	assert.Equal(t, "computed", out2)
	assert.Equal(t, int32(1), calls, "factory must not run again once the value is cached")
}

func TestGetOrSetCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := newCache()

	var calls int32
	release := make(chan struct{})
	factory := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "computed", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out string
			if err := c.GetOrSet(ctx, "shared", &out, nil, factory); err == nil {
				results[i] = out
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls, "concurrent misses for the same key must coalesce into one factory call")
	for _, r := range results {
		assert.Equal(t, "computed", r)
	}
}

func TestExpireUpdatesTTL(t *testing.T) {
	ctx := context.Background()
	c := newCache()

	require.NoError(t, c.Set(ctx, "k", "v", nil))
	ok, err := c.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, noExpiry, found, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, noExpiry)
	assert.Greater(t, ttl, time.Duration(0))
}
