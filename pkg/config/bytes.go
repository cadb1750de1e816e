package config

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Bytes is a byte count that reads from YAML either as a plain number or as
// a humanized string such as "512KB" or "8 MiB".
type Bytes uint64

// Float64 returns b as a float64 token amount.
func (b Bytes) Float64() float64 {
	return float64(b)
}

// Int64 returns b as an int64.
func (b Bytes) Int64() int64 {
	return int64(b)
}

func (b Bytes) String() string {
	return humanize.IBytes(uint64(b))
}

// Set parses a humanized byte string.
func (b *Bytes) Set(value string) error {
	parsed, err := humanize.ParseBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte string %q: %w", value, err)
	}
	*b = Bytes(parsed)
	return nil
}

func (b *Bytes) UnmarshalText(data []byte) error {
	return b.Set(string(data))
}

func (b *Bytes) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		return b.Set(v)
	case uint64:
		*b = Bytes(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("byte count cannot be negative: %d", v)
		}
		*b = Bytes(v)
	case int:
		if v < 0 {
			return fmt.Errorf("byte count cannot be negative: %d", v)
		}
		*b = Bytes(v)
	case float64:
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid byte count: %v", v)
		}
		*b = Bytes(v)
	default:
		return fmt.Errorf("invalid byte value %v", raw)
	}
	return nil
}

// MarshalYAML writes the humanized form when it reads back to the same
// value, and the plain number otherwise.
func (b Bytes) MarshalYAML() (any, error) {
	s := b.String()
	if parsed, err := humanize.ParseBytes(s); err == nil && parsed == uint64(b) {
		return s, nil
	}
	return uint64(b), nil
}
