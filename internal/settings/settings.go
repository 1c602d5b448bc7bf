// Package settings provides typed, hot-read configuration for the auction
// engine. Values live in the `settings` table and are fronted by a short-TTL
// Redis cache, so operational changes (bid bounds, window lengths) take
// effect within seconds without a restart. Callers must read per use and
// never hold a value across a full job lifecycle.
package settings

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ─── Keys ───────────────────────────────────────────────────

const (
	// KeyDefaultBiddingWindowHours is the bidding window for one-way and
	// outbound jobs.
	KeyDefaultBiddingWindowHours = "DEFAULT_BIDDING_WINDOW_HOURS"
	// KeyReturnBiddingWindowHours is the (much shorter) window for return legs.
	KeyReturnBiddingWindowHours = "RETURN_BIDDING_WINDOW_HOURS"
	// KeyAcceptanceWindowMinutes is the per-offer response window.
	KeyAcceptanceWindowMinutes = "ACCEPTANCE_WINDOW_MINUTES"
	// KeyMinBidPercent is the lower bid bound as a percent of customer price.
	KeyMinBidPercent = "MIN_BID_PERCENT"
	// KeyMaxBidPercent is the displayed bid ceiling (advisory, not enforced).
	KeyMaxBidPercent = "MAX_BID_PERCENT"
	// KeyEnablePostcodeFiltering toggles the geographic eligibility rule.
	KeyEnablePostcodeFiltering = "ENABLE_POSTCODE_FILTERING"
)

// defaults apply when a key is absent or unparsable.
var defaults = map[string]string{
	KeyDefaultBiddingWindowHours: "24",
	KeyReturnBiddingWindowHours:  "2",
	KeyAcceptanceWindowMinutes:   "30",
	KeyMinBidPercent:             "50",
	KeyMaxBidPercent:             "75",
	KeyEnablePostcodeFiltering:   "true",
}

const (
	cacheKeyPrefix = "settings:"
	cacheTTL       = 15 * time.Second
)

// ─── Provider ───────────────────────────────────────────────

// Store is the persistent backend for settings values.
type Store interface {
	// Get returns the raw value for key, with found=false when absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set upserts the raw value for key.
	Set(ctx context.Context, key, value string) error
}

// Provider resolves typed settings values with a Redis fast path.
// A nil cache client disables caching (every read hits the store).
type Provider struct {
	store Store
	cache *redis.Client
}

// New creates a settings provider.
func New(store Store, cache *redis.Client) *Provider {
	return &Provider{store: store, cache: cache}
}

// raw resolves the string value for key: cache → store → default.
func (p *Provider) raw(ctx context.Context, key string) string {
	def, ok := defaults[key]
	if !ok {
		log.Printf("[settings] WARNING: unknown key %q requested", key)
	}

	// ── Fast path: Redis cache ──────────────────────────
	if p.cache != nil {
		if v, err := p.cache.Get(ctx, cacheKeyPrefix+key).Result(); err == nil {
			return v
		}
	}

	// ── Slow path: settings table ───────────────────────
	v, found, err := p.store.Get(ctx, key)
	if err != nil {
		log.Printf("[settings] WARNING: read %q failed: %v — using default %q", key, err, def)
		return def
	}
	if !found {
		v = def
	}

	// Cache the resolved value (fire-and-forget).
	if p.cache != nil {
		_ = p.cache.Set(ctx, cacheKeyPrefix+key, v, cacheTTL).Err()
	}
	return v
}

// Int returns the integer value for key, falling back to the default on
// parse failure.
func (p *Provider) Int(ctx context.Context, key string) int {
	v := p.raw(ctx, key)
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		def, _ := strconv.Atoi(defaults[key])
		log.Printf("[settings] WARNING: %s=%q is not an integer — using default %d", key, v, def)
		return def
	}
	return n
}

// Percent returns the integer value for key clamped to [1, 100].
func (p *Provider) Percent(ctx context.Context, key string) int {
	n := p.Int(ctx, key)
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}

// Bool returns the boolean value for key, falling back to the default on
// parse failure.
func (p *Provider) Bool(ctx context.Context, key string) bool {
	v := p.raw(ctx, key)
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		def, _ := strconv.ParseBool(defaults[key])
		log.Printf("[settings] WARNING: %s=%q is not a boolean — using default %v", key, v, def)
		return def
	}
	return b
}

// Update writes a value and invalidates its cache entry so the change is
// visible within the cache TTL everywhere and immediately on this node.
func (p *Provider) Update(ctx context.Context, key, value string) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("settings: unknown key %q", key)
	}
	if err := p.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	p.Invalidate(ctx, key)
	return nil
}

// Invalidate drops the cached value for key.
func (p *Provider) Invalidate(ctx context.Context, key string) {
	if p.cache != nil {
		_ = p.cache.Del(ctx, cacheKeyPrefix+key).Err()
	}
}
