package gate

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/vnykmshr/crawlqos/pkg/common/errors"
)

// Admit blocks until the request may proceed.
//
// It first takes one token from the iops bucket, then the current response
// size estimate from the bps bucket, re-reading the estimate on every retry
// since other responses may have refined it meanwhile. Each step loops:
// consume, and on failure sleep for the bucket's delay hint and retry.
//
// Tokens are only taken by a successful consume, so cancelling ctx while
// waiting never loses tokens for the cancelled step. A token already taken
// from the iops bucket is kept if the bps step is then cancelled.
//
// An estimate larger than the bps capacity reserves a full bucket instead,
// so one oversized response cannot lock the gate. A fixed amount larger than
// its bucket's capacity makes Admit fail fast with an error wrapping
// errors.ErrCapacityExceeded instead of waiting forever.
func (g *Gate) Admit(ctx context.Context) error {
	// Check if context is already canceled
	select {
	case <-ctx.Done():
		return g.fail(ctx.Err(), "canceled")
	default:
	}

	start := g.clock.Now()

	if g.iops != nil {
		if _, err := g.acquire(ctx, g.iops, one); err != nil {
			return g.fail(err, reason(err))
		}
	}

	if g.bps != nil {
		var capped bool
		reserved, err := g.acquire(ctx, g.bps, func() float64 {
			est, limit := g.estimator.CurrentEstimate(), g.bps.Capacity()
			capped = est > limit
			return min(est, limit)
		})
		if err != nil {
			return g.fail(err, reason(err))
		}
		if capped {
			g.capped.Add(1)
			g.logger.Warn("estimate exceeds bps capacity, reserving full bucket",
				"estimate", g.estimator.CurrentEstimate(), "capacity", g.bps.Capacity())
			if g.metrics != nil {
				g.metrics.GateCapped.WithLabelValues(g.name).Inc()
			}
		}
		addFloat(&g.bytesReserved, reserved)
		if g.metrics != nil {
			g.metrics.GateBytesReserved.WithLabelValues(g.name).Add(reserved)
		}
	}

	waited := g.clock.Now().Sub(start)
	if waited < 0 {
		waited = 0
	}
	g.admitted.Add(1)
	g.waitNanos.Add(int64(waited))
	if g.metrics != nil {
		g.metrics.GateAdmissions.WithLabelValues(g.name).Inc()
		g.metrics.GateWaitTime.WithLabelValues(g.name).Observe(waited.Seconds())
	}
	return nil
}

// RecordResponse feeds the observed response size to the estimator.
// Sizes below the small-response threshold are ignored.
func (g *Gate) RecordResponse(size int64) {
	applied := g.estimator.Observe(size)

	if g.metrics == nil {
		return
	}
	outcome := "ignored"
	if applied {
		outcome = "applied"
		g.metrics.EstimateBytes.WithLabelValues(g.name).Set(g.estimator.CurrentEstimate())
	}
	g.metrics.ResponsesObserved.WithLabelValues(g.name, outcome).Inc()
	if size > 0 {
		g.metrics.ResponseBytes.WithLabelValues(g.name).Add(float64(size))
	}
}

func one() float64 { return 1 }

// acquire runs the consume/delay/sleep loop against b and returns the
// amount consumed.
func (g *Gate) acquire(ctx context.Context, b Bucket, amount func() float64) (float64, error) {
	for {
		n := amount()
		if n > b.Capacity() {
			return 0, errors.NewOperationError("gate", "Admit", errors.ErrCapacityExceeded).
				WithContext(fmt.Sprintf("%s requested %g > capacity %g", b.Name(), n, b.Capacity()))
		}

		if b.Consume(n) {
			g.reportTokens(b)
			return n, nil
		}

		delay := b.Delay(n)
		g.waits.Add(1)
		if g.metrics != nil {
			g.metrics.GateWaits.WithLabelValues(g.name, b.Name()).Inc()
		}
		g.logger.Debug("waiting for tokens", "bucket", b.Name(), "amount", n, "delay", delay)

		if err := g.sleeper.Sleep(ctx, delay); err != nil {
			return 0, err
		}
	}
}

func (g *Gate) reportTokens(b Bucket) {
	if g.metrics == nil {
		return
	}
	if r, ok := b.(tokenReporter); ok {
		g.metrics.BucketTokens.WithLabelValues(g.name, b.Name()).Set(r.Tokens())
	}
}

func (g *Gate) fail(err error, why string) error {
	g.failures.Add(1)
	if g.metrics != nil {
		g.metrics.GateErrors.WithLabelValues(g.name, why).Inc()
	}
	return err
}

func reason(err error) string {
	switch {
	case errors.IsCapacityExceeded(err):
		return "capacity_exceeded"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	default:
		return "canceled"
	}
}

func addFloat(addr *atomic.Uint64, delta float64) {
	for {
		old := addr.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if addr.CompareAndSwap(old, next) {
			return
		}
	}
}

func loadFloat(addr *atomic.Uint64) float64 {
	return math.Float64frombits(addr.Load())
}
