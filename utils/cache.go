package utils

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-site/projectstats/models"
)

const (
	totalsKeyPrefix  = "projectstats:total:"
	totalsGenKey     = "projectstats:total-gen"
	defaultTotalsTTL = 30 * time.Second
	cacheOpTimeout   = 2 * time.Second
)

// setIfGeneration stores a total only while the generation counter still holds the value read
// before the total was computed. Invalidate bumps the counter, so a fill that raced a write is dropped.
var setIfGeneration = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '0') == ARGV[1] then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
	return 1
end
return 0
`)

// TotalsCache keeps aggregate counter totals in Redis. A nil cache or nil client disables it;
// Redis failures are logged and treated as misses.
//
// Filling follows Generation, then the database read, then Set with that generation.
type TotalsCache struct {
	rc  *redis.Client
	ttl time.Duration
}

// NewTotalsCache creates a cache over rc.
func NewTotalsCache(rc *redis.Client, ttl time.Duration) *TotalsCache {
	if ttl <= 0 {
		ttl = defaultTotalsTTL
	}
	return &TotalsCache{rc: rc, ttl: ttl}
}

func (c *TotalsCache) enabled() bool {
	return c != nil && c.rc != nil
}

func totalsKey(counter models.Counter) string {
	return totalsKeyPrefix + counter.Column()
}

// Get returns the cached total for counter.
func (c *TotalsCache) Get(ctx context.Context, counter models.Counter) (int64, bool) {
	if !c.enabled() {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	n, err := c.rc.Get(ctx, totalsKey(counter)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			Sugar.Warnw("totals cache get failed", "counter", counter.String(), "error", err)
		}
		return 0, false
	}
	return n, true
}

// Generation returns the current invalidation generation. ok is false when the cache is disabled
// or unreachable, in which case nothing should be stored.
func (c *TotalsCache) Generation(ctx context.Context) (gen string, ok bool) {
	if !c.enabled() {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	gen, err := c.rc.Get(ctx, totalsGenKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	if err != nil {
		Sugar.Warnw("totals cache generation read failed", "error", err)
		return "", false
	}
	return gen, true
}

// Set stores total for counter with the cache TTL, unless the cache was invalidated after gen was read.
func (c *TotalsCache) Set(ctx context.Context, counter models.Counter, total int64, gen string) {
	if !c.enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	err := setIfGeneration.Run(ctx, c.rc,
		[]string{totalsGenKey, totalsKey(counter)},
		gen, strconv.FormatInt(total, 10), c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		Sugar.Warnw("totals cache set failed", "counter", counter.String(), "error", err)
	}
}

// Invalidate drops every cached total and bumps the generation so in-flight fills are discarded.
func (c *TotalsCache) Invalidate(ctx context.Context) {
	if !c.enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()

	keys := make([]string, 0, len(models.Counters()))
	for _, counter := range models.Counters() {
		keys = append(keys, totalsKey(counter))
	}
	_, err := c.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, totalsGenKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		Sugar.Warnw("totals cache invalidate failed", "error", err)
	}
}
