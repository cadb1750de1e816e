package distributed

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/crawlqos/pkg/common/errors"
	"github.com/vnykmshr/crawlqos/pkg/metrics"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/bucket"
)

// Bucket is a token bucket whose state lives in Redis, so every process
// using the same key draws from one budget. It has the same Consume/Delay
// contract as bucket.TokenBucket and can be plugged into a gate.
//
// Refill is lazy and computed inside a Lua script from the caller's clock,
// so instances sharing a key should have reasonably synchronized clocks.
type Bucket struct {
	config  Config
	keys    keys
	consume *redis.Script
	local   *bucket.TokenBucket
	logger  *slog.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	observed float64 // token level returned by the last script run
	degraded bool    // last Redis round trip failed
}

// NewBucket creates a Redis-backed bucket. No Redis round trip is made until
// the first Consume; the shared bucket starts full.
func NewBucket(config Config) (*Bucket, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	config = applyConfigDefaults(config)

	local, err := bucket.NewWithConfig(bucket.Config{
		Name:     config.Name,
		Capacity: config.Capacity,
		FillRate: config.FillRate,
		Clock:    config.Clock,
	})
	if err != nil {
		return nil, err
	}

	return &Bucket{
		config:   config,
		keys:     redisKeys(config.Key),
		consume:  redis.NewScript(luaConsume),
		local:    local,
		logger:   config.Logger.With("bucket", config.Name, "key", config.Key),
		metrics:  config.Metrics,
		observed: config.Capacity,
	}, nil
}

// Name returns the bucket label.
func (b *Bucket) Name() string {
	return b.config.Name
}

// Capacity returns the maximum number of tokens.
func (b *Bucket) Capacity() float64 {
	return b.config.Capacity
}

// FillRate returns the tokens added per second.
func (b *Bucket) FillRate() float64 {
	return b.config.FillRate
}

// InstanceID returns the identifier this process registers under.
func (b *Bucket) InstanceID() string {
	return b.config.InstanceID
}

// Tokens returns the token level seen by the last Consume, or the local
// fallback level while Redis is unavailable.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.degraded && b.config.FallbackToLocal {
		return b.local.Tokens()
	}
	return b.observed
}

// Degraded reports whether the last Redis round trip failed.
func (b *Bucket) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

// Consume atomically takes amount tokens from the shared bucket.
//
// If Redis fails, the error is logged and the call is answered by the local
// fallback bucket when FallbackToLocal is set, or denied otherwise.
func (b *Bucket) Consume(amount float64) bool {
	if amount <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.RedisTimeout)
	defer cancel()

	allowed, tokens, err := b.run(ctx, amount)
	if err != nil {
		b.markDegraded(err)
		if b.config.FallbackToLocal {
			return b.local.Consume(amount)
		}
		return false
	}

	b.mu.Lock()
	if b.degraded {
		b.logger.Info("redis available again")
	}
	b.degraded = false
	b.observed = tokens
	b.mu.Unlock()
	return allowed
}

// Delay estimates the wait until amount tokens could be available, based on
// the level observed by the last Consume. While Redis is unavailable it
// defers to the local fallback, or returns RetryBackoff.
func (b *Bucket) Delay(amount float64) time.Duration {
	b.mu.Lock()
	degraded, tokens := b.degraded, b.observed
	b.mu.Unlock()

	if degraded {
		if b.config.FallbackToLocal {
			return b.local.Delay(amount)
		}
		return b.config.RetryBackoff
	}
	if tokens > amount {
		return 0
	}
	return time.Duration(math.Ceil((amount - tokens) / b.config.FillRate * float64(time.Second)))
}

func (b *Bucket) run(ctx context.Context, amount float64) (bool, float64, error) {
	now := b.config.Clock.Now()
	res, err := b.consume.Run(ctx, b.config.Redis, b.keys.list(),
		strconv.FormatFloat(amount, 'g', -1, 64),
		strconv.FormatInt(now.UnixMicro(), 10),
		strconv.FormatFloat(b.config.FillRate, 'g', -1, 64),
		strconv.FormatFloat(b.config.Capacity, 'g', -1, 64),
		b.config.KeyTTL.Milliseconds(),
		b.config.InstanceID,
	).Result()
	if err != nil {
		return false, 0, errors.NewOperationError("distributed", "Consume", err)
	}

	// [allowed, tokens_after]
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, errors.NewOperationError("distributed", "Consume",
			fmt.Errorf("unexpected script result %v", res))
	}
	allowed, _ := values[0].(int64)
	raw, _ := values[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, errors.NewOperationError("distributed", "Consume", err)
	}
	return allowed == 1, tokens, nil
}

func (b *Bucket) markDegraded(err error) {
	b.mu.Lock()
	first := !b.degraded
	b.degraded = true
	b.mu.Unlock()

	if first {
		b.logger.Warn("redis unavailable", "error", err, "fallback", b.config.FallbackToLocal)
	} else {
		b.logger.Debug("redis still unavailable", "error", err)
	}
	if b.metrics != nil {
		b.metrics.DistributedFallbacks.WithLabelValues(b.config.Key).Inc()
	}
}

// Stats reads the shared state from Redis.
func (b *Bucket) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.RedisTimeout)
	defer cancel()

	pipe := b.config.Redis.Pipeline()
	tokensCmd := pipe.Get(ctx, b.keys.tokens)
	lastCmd := pipe.Get(ctx, b.keys.last)
	statsCmd := pipe.HGetAll(ctx, b.keys.stats)
	instancesCmd := pipe.SMembers(ctx, b.keys.instances)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.NewOperationError("distributed", "Stats", err)
	}

	stats := &Stats{
		Capacity:        b.config.Capacity,
		FillRate:        b.config.FillRate,
		Tokens:          b.config.Capacity,
		ActiveInstances: instancesCmd.Val(),
	}
	if v, err := strconv.ParseFloat(tokensCmd.Val(), 64); err == nil {
		stats.Tokens = v
	}
	if v, err := strconv.ParseInt(lastCmd.Val(), 10, 64); err == nil {
		stats.LastRefill = time.UnixMicro(v)
	}
	counters := statsCmd.Val()
	stats.TotalRequests, _ = strconv.ParseInt(counters["total_requests"], 10, 64)
	stats.AllowedRequests, _ = strconv.ParseInt(counters["allowed_requests"], 10, 64)
	stats.DeniedRequests, _ = strconv.ParseInt(counters["denied_requests"], 10, 64)
	return stats, nil
}

// Reset deletes the shared state; the next Consume sees a full bucket.
func (b *Bucket) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.RedisTimeout)
	defer cancel()

	if err := b.config.Redis.Del(ctx, b.keys.list()...).Err(); err != nil {
		return errors.NewOperationError("distributed", "Reset", err)
	}

	b.mu.Lock()
	b.observed = b.config.Capacity
	b.mu.Unlock()
	return nil
}

// Close deregisters this instance. The Redis client is left open.
func (b *Bucket) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.RedisTimeout)
	defer cancel()

	if err := b.config.Redis.SRem(ctx, b.keys.instances, b.config.InstanceID).Err(); err != nil {
		return errors.NewOperationError("distributed", "Close", err)
	}
	return nil
}
