package bucket

import (
	"sync"
	"time"

	"github.com/vnykmshr/crawlqos/pkg/common/validation"
)

// Clock provides the current time. It can be mocked for testing.
// time.Now carries a monotonic reading, so elapsed-time arithmetic is
// immune to wall clock jumps.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config holds configuration options for creating a new TokenBucket.
type Config struct {
	// Name labels the bucket in logs and metrics (e.g. "iops", "bps").
	Name string

	// Capacity is the maximum number of tokens the bucket can hold.
	Capacity float64

	// FillRate is the number of tokens added per second.
	FillRate float64

	// Clock provides the current time. If nil, SystemClock is used.
	Clock Clock
}

// TokenBucket is a continuously refilled counter of tokens.
//
// Refill is lazy: tokens are recomputed on access as
// min(capacity, tokens + fillRate*elapsed). Tokens never exceed capacity.
//
// Requests for more than Capacity tokens can never be satisfied; callers
// must keep amount <= Capacity. The bucket does not clamp such requests.
//
// TokenBucket is safe for concurrent use.
type TokenBucket struct {
	mu        sync.Mutex
	name      string
	capacity  float64
	tokens    float64
	fillRate  float64
	timestamp time.Time
	clock     Clock
}

// New creates a full bucket holding capacity tokens and refilling at
// fillRate tokens per second.
func New(name string, capacity, fillRate float64) (*TokenBucket, error) {
	return NewWithConfig(Config{
		Name:     name,
		Capacity: capacity,
		FillRate: fillRate,
	})
}

// NewWithConfig creates a full bucket from config, validating capacity and
// fill rate.
func NewWithConfig(config Config) (*TokenBucket, error) {
	if err := validation.ValidatePositiveFloat("bucket", "capacity", config.Capacity); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveFloat("bucket", "fill_rate", config.FillRate); err != nil {
		return nil, err
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}
	if config.Name == "" {
		config.Name = "bucket"
	}

	return &TokenBucket{
		name:      config.Name,
		capacity:  config.Capacity,
		tokens:    config.Capacity,
		fillRate:  config.FillRate,
		timestamp: config.Clock.Now(),
		clock:     config.Clock,
	}, nil
}
