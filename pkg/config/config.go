// Package config loads throttle and fetch settings from YAML.
//
// Option names match the settings used by the throttle itself:
//
//	name: example
//	iops_enabled: true
//	iops_capacity: 10
//	iops_limit: 5
//	bps_enabled: true
//	bps_capacity: 8 MiB
//	bps_limit: 2 MiB
//	small_response_size: 1 KiB
//	redis:
//	  addr: localhost:6379
//	  key: crawlqos:example
//	fetch:
//	  concurrency: 8
//	  per_host_rps: 2
//	  timeout: 30s
//
// Byte-valued options accept numbers or humanized strings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/vnykmshr/crawlqos/pkg/common/errors"
	"github.com/vnykmshr/crawlqos/pkg/common/validation"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/estimator"
	"github.com/vnykmshr/crawlqos/pkg/ratelimit/gate"
)

// Settings is the full configuration file.
type Settings struct {
	Name string `yaml:"name"`

	IOPSEnabled  bool    `yaml:"iops_enabled"`
	IOPSCapacity float64 `yaml:"iops_capacity"`
	IOPSLimit    float64 `yaml:"iops_limit"`

	BPSEnabled  bool  `yaml:"bps_enabled"`
	BPSCapacity Bytes `yaml:"bps_capacity"`
	BPSLimit    Bytes `yaml:"bps_limit"`

	SmallResponseSize Bytes   `yaml:"small_response_size"`
	InitialEstimate   Bytes   `yaml:"initial_estimate"`
	SmoothingFactor   float64 `yaml:"smoothing_factor"`

	Redis *RedisSettings `yaml:"redis,omitempty"`
	Fetch FetchSettings  `yaml:"fetch"`
}

// RedisSettings enables shared buckets. Each enabled bucket uses Key with
// ":iops" or ":bps" appended.
type RedisSettings struct {
	Addr            string `yaml:"addr"`
	Key             string `yaml:"key"`
	DB              int    `yaml:"db"`
	FallbackToLocal bool   `yaml:"fallback_to_local"`
}

// FetchSettings controls the fetch driver.
type FetchSettings struct {
	Concurrency int           `yaml:"concurrency"`
	PerHostRPS  float64       `yaml:"per_host_rps"`
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"user_agent"`
}

// Default returns settings with both buckets disabled.
func Default() *Settings {
	return &Settings{
		Name:            "default",
		IOPSCapacity:    10,
		IOPSLimit:       5,
		BPSCapacity:     8 << 20,
		BPSLimit:        1 << 20,
		InitialEstimate: estimator.DefaultInitialGuess,
		SmoothingFactor: estimator.DefaultSmoothingFactor,
		Fetch: FetchSettings{
			Concurrency: 4,
			Timeout:     30 * time.Second,
			UserAgent:   "crawlqos/1.0",
		},
	}
}

// Load reads path over the defaults and validates the result. Options
// missing from the file keep their default values.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.UnmarshalWithOptions(data, s, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if s.Redis != nil {
		s.Redis = withRedisDefaults(s.Redis, s.Name)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func withRedisDefaults(r *RedisSettings, name string) *RedisSettings {
	out := *r
	if out.Addr == "" {
		out.Addr = "localhost:6379"
	}
	if out.Key == "" {
		out.Key = "crawlqos:" + name
	}
	return &out
}

// Validate checks the settings for values the throttle would reject.
func (s *Settings) Validate() error {
	if s.IOPSEnabled {
		if err := validation.ValidateAtLeast("config", "iops_capacity", s.IOPSCapacity, 1); err != nil {
			return err
		}
		if err := validation.ValidatePositiveFloat("config", "iops_limit", s.IOPSLimit); err != nil {
			return err
		}
	}
	if s.BPSEnabled {
		if err := validation.ValidatePositiveFloat("config", "bps_capacity", s.BPSCapacity.Float64()); err != nil {
			return err
		}
		if err := validation.ValidatePositiveFloat("config", "bps_limit", s.BPSLimit.Float64()); err != nil {
			return err
		}
		if s.InitialEstimate > s.BPSCapacity {
			return errors.NewValidationError("config", "initial_estimate", s.InitialEstimate,
				fmt.Sprintf("exceeds bps_capacity %s", s.BPSCapacity)).
				WithHint("raise bps_capacity or lower initial_estimate")
		}
	}
	if err := validation.ValidatePositiveFloat("config", "initial_estimate", s.InitialEstimate.Float64()); err != nil {
		return err
	}
	if err := validation.ValidateFraction("config", "smoothing_factor", s.SmoothingFactor); err != nil {
		return err
	}
	if err := validation.ValidatePositive("config", "fetch.concurrency", s.Fetch.Concurrency); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("config", "fetch.per_host_rps", s.Fetch.PerHostRPS); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("config", "fetch.timeout", float64(s.Fetch.Timeout)); err != nil {
		return err
	}
	return nil
}

// GateConfig converts the settings into a gate configuration. Buckets,
// clock, logger and metrics are left for the caller to fill in.
func (s *Settings) GateConfig() gate.Config {
	return gate.Config{
		Name:              s.Name,
		IOPSEnabled:       s.IOPSEnabled,
		IOPSCapacity:      s.IOPSCapacity,
		IOPSLimit:         s.IOPSLimit,
		BPSEnabled:        s.BPSEnabled,
		BPSCapacity:       s.BPSCapacity.Float64(),
		BPSLimit:          s.BPSLimit.Float64(),
		SmallResponseSize: s.SmallResponseSize.Int64(),
		InitialEstimate:   s.InitialEstimate.Float64(),
		SmoothingFactor:   s.SmoothingFactor,
	}
}

// Marshal renders the settings as YAML.
func (s *Settings) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}
