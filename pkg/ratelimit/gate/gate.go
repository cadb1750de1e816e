package gate

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/crawlqos/pkg/common/errors"
	"github.com/vnykmshr/crawlqos/pkg/common/validation"
	"github.com/vnykmshr/crawlqos/pkg/metrics"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/bucket"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/estimator"
)

// Bucket is the consume/delay contract the gate waits on. It is satisfied
// by *bucket.TokenBucket and by the Redis-backed distributed.Bucket.
type Bucket interface {
	// Name labels the bucket in logs and metrics.
	Name() string

	// Capacity is the largest amount Consume can ever grant.
	Capacity() float64

	// Consume takes amount tokens if available and reports whether it did.
	// It must not block.
	Consume(amount float64) bool

	// Delay hints how long until amount tokens could be available.
	Delay(amount float64) time.Duration
}

// tokenReporter is implemented by buckets that can report their level.
type tokenReporter interface {
	Tokens() float64
}

// Config holds configuration options for creating a Gate.
type Config struct {
	// Name labels the gate in logs and metrics. Defaults to "default".
	Name string

	// IOPSEnabled turns on the request-rate bucket.
	IOPSEnabled bool
	// IOPSCapacity is the maximum burst of requests. Must be >= 1.
	IOPSCapacity float64
	// IOPSLimit is the sustained requests per second.
	IOPSLimit float64

	// BPSEnabled turns on the bandwidth bucket.
	BPSEnabled bool
	// BPSCapacity is the maximum burst of bytes.
	BPSCapacity float64
	// BPSLimit is the sustained bytes per second.
	BPSLimit float64

	// SmallResponseSize is the size in bytes below which recorded
	// responses do not update the estimate.
	SmallResponseSize int64

	// InitialEstimate seeds the response size estimate. Defaults to 1 MiB.
	InitialEstimate float64

	// SmoothingFactor weights new observations. Defaults to 0.8.
	SmoothingFactor float64

	// IOPSBucket and BPSBucket replace the locally built buckets, e.g. with
	// a shared Redis bucket. Setting one implies the bucket is enabled.
	IOPSBucket Bucket
	BPSBucket  Bucket

	// Clock provides the current time. If nil, bucket.SystemClock is used.
	Clock bucket.Clock

	// Sleeper performs the waits. If nil, TimerSleeper is used.
	Sleeper Sleeper

	// Logger receives debug output about waits. If nil, logs are discarded.
	Logger *slog.Logger

	// Metrics records gate metrics. If nil, nothing is recorded.
	Metrics *metrics.Registry
}

// DefaultConfig returns a gate with both buckets disabled and the default
// estimator settings. Every Admit succeeds immediately.
func DefaultConfig() Config {
	return Config{
		Name:            "default",
		InitialEstimate: estimator.DefaultInitialGuess,
		SmoothingFactor: estimator.DefaultSmoothingFactor,
	}
}

// Stats holds counters describing gate activity.
type Stats struct {
	Admitted      uint64
	Waits         uint64
	Errors        uint64
	Capped        uint64
	WaitTime      time.Duration
	BytesReserved float64
	Estimate      float64
}

// Gate admits outbound requests against zero, one or two token buckets:
// one request-rate bucket (iops) and one bandwidth bucket (bps) charged
// with the current response size estimate.
//
// Gate is safe for concurrent use. Admission order between competing
// callers is not guaranteed: whichever caller retries first after a refill
// wins.
type Gate struct {
	name      string
	iops      Bucket
	bps       Bucket
	estimator *estimator.Estimator
	clock     bucket.Clock
	sleeper   Sleeper
	logger    *slog.Logger
	metrics   *metrics.Registry

	admitted      atomic.Uint64
	waits         atomic.Uint64
	failures      atomic.Uint64
	capped        atomic.Uint64
	waitNanos     atomic.Int64
	bytesReserved atomic.Uint64 // float64 bits
}

// New creates a Gate from config.
func New(config Config) (*Gate, error) {
	if config.Name == "" {
		config.Name = "default"
	}
	if config.InitialEstimate == 0 {
		config.InitialEstimate = estimator.DefaultInitialGuess
	}
	if config.SmoothingFactor == 0 {
		config.SmoothingFactor = estimator.DefaultSmoothingFactor
	}
	if config.Clock == nil {
		config.Clock = bucket.SystemClock{}
	}
	if config.Sleeper == nil {
		config.Sleeper = TimerSleeper{}
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if err := validation.ValidateNonNegative("gate", "small_response_size", float64(config.SmallResponseSize)); err != nil {
		return nil, err
	}

	est, err := estimator.New(estimator.Config{
		InitialGuess:    config.InitialEstimate,
		SmoothingFactor: config.SmoothingFactor,
		Threshold:       config.SmallResponseSize,
	})
	if err != nil {
		return nil, err
	}

	g := &Gate{
		name:      config.Name,
		estimator: est,
		clock:     config.Clock,
		sleeper:   config.Sleeper,
		logger:    config.Logger.With("gate", config.Name),
		metrics:   config.Metrics,
	}

	g.iops = config.IOPSBucket
	if g.iops == nil && config.IOPSEnabled {
		if err := validation.ValidateAtLeast("gate", "iops_capacity", config.IOPSCapacity, 1); err != nil {
			return nil, err
		}
		if g.iops, err = bucket.NewWithConfig(bucket.Config{
			Name:     "iops",
			Capacity: config.IOPSCapacity,
			FillRate: config.IOPSLimit,
			Clock:    config.Clock,
		}); err != nil {
			return nil, err
		}
	}

	g.bps = config.BPSBucket
	if g.bps == nil && config.BPSEnabled {
		if g.bps, err = bucket.NewWithConfig(bucket.Config{
			Name:     "bps",
			Capacity: config.BPSCapacity,
			FillRate: config.BPSLimit,
			Clock:    config.Clock,
		}); err != nil {
			return nil, err
		}
	}
	if g.bps != nil && config.InitialEstimate > g.bps.Capacity() {
		return nil, errors.NewValidationError("gate", "initial_estimate", config.InitialEstimate,
			fmt.Sprintf("exceeds bps capacity %g", g.bps.Capacity())).
			WithHint("raise bps_capacity or lower initial_estimate")
	}

	if g.metrics != nil {
		g.metrics.EstimateBytes.WithLabelValues(g.name).Set(config.InitialEstimate)
	}
	return g, nil
}

// Name returns the gate label.
func (g *Gate) Name() string {
	return g.name
}

// IOPS returns the request-rate bucket, or nil if disabled.
func (g *Gate) IOPS() Bucket {
	return g.iops
}

// BPS returns the bandwidth bucket, or nil if disabled.
func (g *Gate) BPS() Bucket {
	return g.bps
}

// Estimator returns the response size estimator.
func (g *Gate) Estimator() *estimator.Estimator {
	return g.estimator
}

// Estimate returns the number of bytes the next admission will reserve.
func (g *Gate) Estimate() float64 {
	return g.estimator.CurrentEstimate()
}

// Stats returns a snapshot of the gate counters.
func (g *Gate) Stats() Stats {
	return Stats{
		Admitted:      g.admitted.Load(),
		Waits:         g.waits.Load(),
		Errors:        g.failures.Load(),
		Capped:        g.capped.Load(),
		WaitTime:      time.Duration(g.waitNanos.Load()),
		BytesReserved: loadFloat(&g.bytesReserved),
		Estimate:      g.estimator.CurrentEstimate(),
	}
}
