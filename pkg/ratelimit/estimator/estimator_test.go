package estimator

import (
	"sync"
	"testing"

	"github.com/vnykmshr/crawlqos/internal/testutil"
	"github.com/vnykmshr/crawlqos/pkg/common/errors"
)

const epsilon = 1e-6

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"full weight", Config{InitialGuess: 10, SmoothingFactor: 1}, false},
		{"zero guess", Config{InitialGuess: 0, SmoothingFactor: 0.8}, true},
		{"negative guess", Config{InitialGuess: -1, SmoothingFactor: 0.8}, true},
		{"zero smoothing", Config{InitialGuess: 10, SmoothingFactor: 0}, true},
		{"smoothing above one", Config{InitialGuess: 10, SmoothingFactor: 1.2}, true},
		{"negative threshold", Config{InitialGuess: 10, SmoothingFactor: 0.8, Threshold: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := New(tt.config)
			if tt.wantErr {
				if !errors.IsValidationError(err) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertInDelta(t, est.CurrentEstimate(), tt.config.InitialGuess, epsilon)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	testutil.AssertEqual(t, cfg.InitialGuess, float64(1048576))
	testutil.AssertEqual(t, cfg.SmoothingFactor, 0.8)
	testutil.AssertEqual(t, cfg.Threshold, int64(0))
}

func TestObserveMovingAverage(t *testing.T) {
	est, err := New(Config{InitialGuess: 1048576, SmoothingFactor: 0.8, Threshold: 0})
	testutil.AssertNoError(t, err)

	if !est.Observe(100000) {
		t.Fatal("observation above threshold should be applied")
	}
	// 0.2*1048576 + 0.8*100000
	testutil.AssertInDelta(t, est.CurrentEstimate(), 289715.2, epsilon)

	est.Observe(100000)
	testutil.AssertInDelta(t, est.CurrentEstimate(), 0.2*289715.2+0.8*100000, epsilon)
}

func TestFullWeightTracksLastObservation(t *testing.T) {
	est, err := New(Config{InitialGuess: 1048576, SmoothingFactor: 1, Threshold: 10})
	testutil.AssertNoError(t, err)

	for _, size := range []int64{5000, 12, 777777, 10} {
		est.Observe(size)
		testutil.AssertEqual(t, est.CurrentEstimate(), float64(size))
	}
}

func TestBelowThresholdIgnored(t *testing.T) {
	est, err := New(Config{InitialGuess: 4096, SmoothingFactor: 0.5, Threshold: 1000})
	testutil.AssertNoError(t, err)

	for _, size := range []int64{0, 1, 50, 999} {
		if est.Observe(size) {
			t.Errorf("Observe(%d) below threshold should be ignored", size)
		}
		testutil.AssertEqual(t, est.CurrentEstimate(), 4096.0)
	}

	if !est.Observe(1000) {
		t.Fatal("Observe at the threshold should be applied")
	}
	testutil.AssertInDelta(t, est.CurrentEstimate(), 2548, epsilon)

	observed, ignored := est.Counts()
	testutil.AssertEqual(t, observed, uint64(1))
	testutil.AssertEqual(t, ignored, uint64(4))
}

func TestEstimateStaysPositive(t *testing.T) {
	est, err := New(Config{InitialGuess: 100, SmoothingFactor: 1, Threshold: 0})
	testutil.AssertNoError(t, err)

	if est.Observe(0) {
		t.Fatal("zero-size observation should be ignored")
	}
	if est.Observe(-5) {
		t.Fatal("negative observation should be ignored")
	}
	if est.CurrentEstimate() <= 0 {
		t.Fatalf("estimate must stay positive, got %v", est.CurrentEstimate())
	}
}

func TestConcurrentObserve(t *testing.T) {
	est, err := New(Config{InitialGuess: 1000, SmoothingFactor: 0.3})
	testutil.AssertNoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				est.Observe(1000)
				_ = est.CurrentEstimate()
			}
		}()
	}
	wg.Wait()

	testutil.AssertInDelta(t, est.CurrentEstimate(), 1000, epsilon)
	observed, _ := est.Counts()
	testutil.AssertEqual(t, observed, uint64(2000))
}
