package distributed

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/crawlqos/pkg/common/errors"
	"github.com/vnykmshr/crawlqos/pkg/common/validation"
	"github.com/vnykmshr/crawlqos/pkg/metrics"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/bucket"
)

// Stats holds the shared bucket state as stored in Redis.
type Stats struct {
	Capacity        float64
	FillRate        float64
	Tokens          float64
	LastRefill      time.Time
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	ActiveInstances []string
}

// Config holds configuration for a Redis-backed bucket.
type Config struct {
	// Redis client for coordination
	Redis redis.UniversalClient

	// Key is the Redis key prefix for this bucket
	Key string

	// Name labels the bucket in logs and metrics. Defaults to Key.
	Name string

	// Capacity is the maximum number of tokens the shared bucket holds
	Capacity float64

	// FillRate is the number of tokens added per second
	FillRate float64

	// InstanceID uniquely identifies this process. Defaults to a random UUID.
	InstanceID string

	// FallbackToLocal switches to an in-process bucket with the same
	// capacity and rate while Redis is unavailable
	FallbackToLocal bool

	// RetryBackoff is the delay hint returned while Redis is unavailable
	// and FallbackToLocal is off (defaults to 1 second)
	RetryBackoff time.Duration

	// RedisTimeout bounds every Redis round trip (defaults to 500ms)
	RedisTimeout time.Duration

	// KeyTTL is how long idle Redis keys live (defaults to 1 hour)
	KeyTTL time.Duration

	// Clock provides the current time. If nil, bucket.SystemClock is used.
	Clock bucket.Clock

	// Logger receives Redis failures. If nil, logs are discarded.
	Logger *slog.Logger

	// Metrics counts fallbacks. If nil, nothing is recorded.
	Metrics *metrics.Registry
}

// DefaultConfig returns a default distributed bucket configuration.
// Redis, Key, Capacity and FillRate must still be set.
func DefaultConfig() Config {
	return Config{
		InstanceID:      uuid.NewString(),
		FallbackToLocal: true,
		RetryBackoff:    time.Second,
		RedisTimeout:    500 * time.Millisecond,
		KeyTTL:          time.Hour,
	}
}

func validateConfig(config Config) error {
	if config.Redis == nil {
		return errors.NewValidationError("distributed", "redis", nil, "client is required").
			WithHint("pass a redis.NewClient or redis.NewUniversalClient")
	}
	if err := validation.ValidateNotEmpty("distributed", "key", config.Key); err != nil {
		return err
	}
	if err := validation.ValidatePositiveFloat("distributed", "capacity", config.Capacity); err != nil {
		return err
	}
	return validation.ValidatePositiveFloat("distributed", "fill_rate", config.FillRate)
}

func applyConfigDefaults(config Config) Config {
	if config.Name == "" {
		config.Name = config.Key
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}
	if config.RedisTimeout <= 0 {
		config.RedisTimeout = 500 * time.Millisecond
	}
	if config.KeyTTL <= 0 {
		config.KeyTTL = time.Hour
	}
	if config.Clock == nil {
		config.Clock = bucket.SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return config
}
