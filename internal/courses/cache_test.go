package courses

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/backend/internal/pricing"
)

type fakeRedis struct {
	data    map[string]string
	failGet bool
	failSet bool
	ttl     time.Duration
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.failSet {
		return redis.NewStatusResult("", errors.New("read only replica"))
	}
	f.ttl = expiration
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type countingPromos struct {
	codes map[string]float64
	err   error
	calls int
}

func (c *countingPromos) LookupPromoCode(_ context.Context, code string) (pricing.PromoMatch, error) {
	c.calls++
	if c.err != nil {
		return pricing.PromoMatch{}, c.err
	}
	p, ok := c.codes[code]
	if !ok {
		return pricing.PromoMatch{}, pricing.ErrNoMatch
	}
	return pricing.PromoMatch{Code: code, DiscountPercent: p}, nil
}

func TestCachedPromoAuthorityReadThrough(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	promos := &countingPromos{codes: map[string]float64{"TEST_100": 100}}
	cache := NewCachedPromoAuthority(promos, rdb, time.Minute, nil)

	for i := 0; i < 3; i++ {
		m, err := cache.LookupPromoCode(ctx, "TEST_100")
		require.NoError(t, err)
		assert.Equal(t, 100.0, m.DiscountPercent)
		assert.Equal(t, "TEST_100", m.Code)
	}
	assert.Equal(t, 1, promos.calls)
	assert.Equal(t, time.Minute, rdb.ttl)
}

func TestCachedPromoAuthorityCachesMisses(t *testing.T) {
	ctx := context.Background()
	promos := &countingPromos{codes: map[string]float64{}}
	cache := NewCachedPromoAuthority(promos, newFakeRedis(), time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := cache.LookupPromoCode(ctx, "NOPE")
		assert.ErrorIs(t, err, pricing.ErrNoMatch)
	}
	assert.Equal(t, 1, promos.calls)
}

func TestCachedPromoAuthorityDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	promos := &countingPromos{err: errors.New("db down")}
	cache := NewCachedPromoAuthority(promos, rdb, time.Minute, nil)

	_, err := cache.LookupPromoCode(ctx, "SPRING")
	require.Error(t, err)
	assert.NotErrorIs(t, err, pricing.ErrNoMatch)
	assert.Empty(t, rdb.data)
}

func TestCachedPromoAuthorityFallsThroughOnCacheErrors(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	rdb.failGet, rdb.failSet = true, true
	promos := &countingPromos{codes: map[string]float64{"SPRING": 25}}
	cache := NewCachedPromoAuthority(promos, rdb, time.Minute, nil)

	for i := 0; i < 2; i++ {
		m, err := cache.LookupPromoCode(ctx, "SPRING")
		require.NoError(t, err)
		assert.Equal(t, 25.0, m.DiscountPercent)
	}
	assert.Equal(t, 2, promos.calls)
}

func TestCachedPromoAuthorityInvalidate(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	promos := &countingPromos{codes: map[string]float64{"SPRING": 25}}
	cache := NewCachedPromoAuthority(promos, rdb, time.Minute, nil)

	_, err := cache.LookupPromoCode(ctx, "SPRING")
	require.NoError(t, err)
	delete(promos.codes, "SPRING")
	cache.Invalidate(ctx, "SPRING")

	_, err = cache.LookupPromoCode(ctx, "SPRING")
	assert.ErrorIs(t, err, pricing.ErrNoMatch)
	assert.Equal(t, 2, promos.calls)
}
