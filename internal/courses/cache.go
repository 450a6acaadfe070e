package courses

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/pricing"
)

const promoCachePrefix = "promo:"

// CacheClient is the subset of redis.Cmdable the promo cache uses.
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type cachedPromo struct {
	Found   bool    `json:"found"`
	Percent float64 `json:"percent,omitempty"`
}

// CachedPromoAuthority is a read-through redis cache in front of a PromoAuthority.
// Misses are cached too. Cache failures fall through to the wrapped authority.
type CachedPromoAuthority struct {
	next   pricing.PromoAuthority
	client CacheClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedPromoAuthority wraps next with a cache of the given TTL.
func NewCachedPromoAuthority(next pricing.PromoAuthority, client CacheClient, ttl time.Duration, logger *zap.Logger) *CachedPromoAuthority {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedPromoAuthority{next: next, client: client, ttl: ttl, logger: logger}
}

// LookupPromoCode implements pricing.PromoAuthority.
func (c *CachedPromoAuthority) LookupPromoCode(ctx context.Context, code string) (pricing.PromoMatch, error) {
	key := promoCachePrefix + code
	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var v cachedPromo
		if jsonErr := json.Unmarshal([]byte(raw), &v); jsonErr == nil {
			if !v.Found {
				return pricing.PromoMatch{}, pricing.ErrNoMatch
			}
			return pricing.PromoMatch{Code: code, DiscountPercent: v.Percent}, nil
		}
		c.logger.Warn("discarding malformed promo cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("promo cache read failed", zap.String("key", key), zap.Error(err))
	}

	m, err := c.next.LookupPromoCode(ctx, code)
	var entry cachedPromo
	switch {
	case err == nil:
		entry = cachedPromo{Found: true, Percent: m.DiscountPercent}
	case errors.Is(err, pricing.ErrNoMatch):
		entry = cachedPromo{Found: false}
	default:
		return m, err
	}
	if b, jsonErr := json.Marshal(entry); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, b, c.ttl).Err(); setErr != nil {
			c.logger.Warn("promo cache write failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return m, err
}

// Invalidate drops the cached entry for code.
func (c *CachedPromoAuthority) Invalidate(ctx context.Context, code string) {
	if err := c.client.Del(ctx, promoCachePrefix+code).Err(); err != nil {
		c.logger.Warn("promo cache invalidate failed", zap.String("code", code), zap.Error(err))
	}
}
