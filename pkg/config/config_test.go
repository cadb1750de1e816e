package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/vnykmshr/crawlqos/internal/testutil"
	qerrors "github.com/vnykmshr/crawlqos/pkg/common/errors"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/gate"
)

func TestLoad(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "crawl.yaml"))
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, s.Name, "docs-mirror")
	testutil.AssertEqual(t, s.IOPSEnabled, true)
	testutil.AssertEqual(t, s.IOPSCapacity, 10.0)
	testutil.AssertEqual(t, s.IOPSLimit, 2.5)
	testutil.AssertEqual(t, s.BPSEnabled, true)
	testutil.AssertEqual(t, s.BPSCapacity, Bytes(8<<20))
	testutil.AssertEqual(t, s.BPSLimit, Bytes(1<<20))
	testutil.AssertEqual(t, s.SmallResponseSize, Bytes(1024))
	testutil.AssertEqual(t, s.SmoothingFactor, 0.5)

	// Not in the file: defaults survive.
	testutil.AssertEqual(t, s.InitialEstimate, Bytes(1<<20))
	testutil.AssertEqual(t, s.Fetch.UserAgent, "crawlqos/1.0")
	testutil.AssertEqual(t, s.Fetch.PerHostRPS, 0.0)

	testutil.AssertEqual(t, s.Fetch.Concurrency, 16)
	testutil.AssertEqual(t, s.Fetch.Timeout, 5*time.Second)

	if s.Redis == nil {
		t.Fatal("redis block should be set")
	}
	testutil.AssertEqual(t, s.Redis.Addr, "redis.internal:6379")
	testutil.AssertEqual(t, s.Redis.Key, "crawlqos:docs-mirror")
	testutil.AssertEqual(t, s.Redis.DB, 2)
	testutil.AssertEqual(t, s.Redis.FallbackToLocal, true)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	s, err := Parse(nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, *s == *Default(), true)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name       string
		yaml       string
		validation bool
	}{
		{"unknown option", "iops_burst: 3\n", false},
		{"bad byte string", "bps_capacity: lots\n", false},
		{"negative bytes", "bps_capacity: -5\n", false},
		{"iops capacity below one", "iops_enabled: true\niops_capacity: 0.5\n", true},
		{"zero iops limit", "iops_enabled: true\niops_limit: 0\n", true},
		{"zero bps limit", "bps_enabled: true\nbps_limit: 0\n", true},
		{"estimate above capacity", "bps_enabled: true\nbps_capacity: 1 KiB\n", true},
		{"smoothing out of range", "smoothing_factor: 1.5\n", true},
		{"no workers", "fetch:\n  concurrency: 0\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := qerrors.IsValidationError(err); got != tt.validation {
				t.Errorf("IsValidationError = %v for %v", got, err)
			}
		})
	}
}

func TestDisabledBucketsSkipValidation(t *testing.T) {
	_, err := Parse([]byte("iops_capacity: 0\nbps_capacity: 0\n"))
	testutil.AssertNoError(t, err)
}

func TestGateConfig(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "crawl.yaml"))
	testutil.AssertNoError(t, err)

	cfg := s.GateConfig()
	testutil.AssertEqual(t, cfg.Name, "docs-mirror")
	testutil.AssertEqual(t, cfg.BPSCapacity, float64(8<<20))
	testutil.AssertEqual(t, cfg.SmallResponseSize, int64(1024))

	g, err := gate.New(cfg)
	testutil.AssertNoError(t, err)
	if g.IOPS() == nil || g.BPS() == nil {
		t.Fatal("both buckets should be enabled")
	}
	testutil.AssertEqual(t, g.Estimator().Threshold(), int64(1024))
}

func TestBytesUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Bytes
	}{
		{"v: 1024", 1024},
		{"v: 512KB", 512000},
		{"v: 512 KiB", 512 << 10},
		{`v: "2MiB"`, 2 << 20},
		{"v: 1 GB", 1000000000},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var out struct {
				V Bytes `yaml:"v"`
			}
			testutil.AssertNoError(t, yaml.Unmarshal([]byte(tt.in), &out))
			testutil.AssertEqual(t, out.V, tt.want)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	s := Default()
	s.BPSEnabled = true
	s.BPSLimit = 1500000
	s.Redis = &RedisSettings{Addr: "localhost:6379", Key: "crawlqos:default"}

	out, err := s.Marshal()
	testutil.AssertNoError(t, err)
	text := string(out)
	if !strings.Contains(text, "8.0 MiB") {
		t.Errorf("expected humanized capacity in:\n%s", text)
	}
	if !strings.Contains(text, "bps_limit: 1500000") {
		t.Errorf("expected raw limit in:\n%s", text)
	}

	back, err := Parse(out)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, back.BPSLimit, s.BPSLimit)
	testutil.AssertEqual(t, back.BPSCapacity, s.BPSCapacity)
	testutil.AssertEqual(t, back.Fetch.Timeout, s.Fetch.Timeout)
	testutil.AssertEqual(t, *back.Redis, *s.Redis)
}
