// Package estimator predicts the byte size of a response before it arrives.
//
// The estimate is an exponentially weighted moving average of observed
// response sizes, seeded with a configurable guess. Responses smaller than
// a threshold (errors, redirects, empty bodies) are ignored so they do not
// drag the estimate toward zero and under-reserve bandwidth for the next
// real download.
package estimator

import (
	"sync"

	"github.com/VividCortex/ewma"

	"github.com/vnykmshr/crawlqos/pkg/common/validation"
)

// DefaultInitialGuess is the starting estimate: 1 MiB.
const DefaultInitialGuess = 1 << 20

// DefaultSmoothingFactor weights each new observation at 80%.
const DefaultSmoothingFactor = 0.8

// Config holds configuration options for creating an Estimator.
type Config struct {
	// InitialGuess seeds the estimate in bytes. Must be positive.
	InitialGuess float64

	// SmoothingFactor is the weight of a new observation, in (0, 1].
	SmoothingFactor float64

	// Threshold is the minimum size in bytes an observation needs to
	// update the estimate.
	Threshold int64
}

// DefaultConfig returns a 1 MiB guess, 0.8 smoothing and no threshold.
func DefaultConfig() Config {
	return Config{
		InitialGuess:    DefaultInitialGuess,
		SmoothingFactor: DefaultSmoothingFactor,
		Threshold:       0,
	}
}

// Estimator tracks a moving average of response sizes.
// It is safe for concurrent use.
type Estimator struct {
	mu        sync.Mutex
	avg       ewma.MovingAverage
	smoothing float64
	threshold int64
	observed  uint64
	ignored   uint64
}

// New creates an Estimator from config.
func New(config Config) (*Estimator, error) {
	if err := validation.ValidatePositiveFloat("estimator", "initial_guess", config.InitialGuess); err != nil {
		return nil, err
	}
	if err := validation.ValidateFraction("estimator", "smoothing_factor", config.SmoothingFactor); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("estimator", "threshold", float64(config.Threshold)); err != nil {
		return nil, err
	}

	// ewma weighs samples by 2/(age+1); invert that for the requested factor.
	avg := ewma.NewMovingAverage(2/config.SmoothingFactor - 1)
	avg.Set(config.InitialGuess)

	return &Estimator{
		avg:       avg,
		smoothing: config.SmoothingFactor,
		threshold: config.Threshold,
	}, nil
}

// CurrentEstimate returns the current byte-size estimate.
func (e *Estimator) CurrentEstimate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.avg.Value()
}

// Observe folds size into the estimate when size >= threshold and reports
// whether it did. Non-positive sizes are always ignored so the estimate
// stays strictly positive.
func (e *Estimator) Observe(size int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if size < e.threshold || size <= 0 {
		e.ignored++
		return false
	}
	e.avg.Add(float64(size))
	e.observed++
	return true
}

// Threshold returns the minimum size that updates the estimate.
func (e *Estimator) Threshold() int64 {
	return e.threshold
}

// SmoothingFactor returns the weight given to each new observation.
func (e *Estimator) SmoothingFactor() float64 {
	return e.smoothing
}

// Counts returns how many observations were applied and ignored.
func (e *Estimator) Counts() (observed, ignored uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observed, e.ignored
}
