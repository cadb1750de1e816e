package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err:  NewValidationError("bucket", "fill_rate", -1, "must be positive"),
			want: "bucket: invalid fill_rate=-1 (must be positive)",
		},
		{
			name: "with hint",
			err: NewValidationError("gate", "initial_estimate", 2048.0, "exceeds bps capacity 1024").
				WithHint("raise bps_capacity or lower initial_estimate"),
			want: "gate: invalid initial_estimate=2048 (exceeds bps capacity 1024) - raise bps_capacity or lower initial_estimate",
		},
		{
			name: "empty string value",
			err:  NewValidationError("distributed", "key", "", "cannot be empty"),
			want: "distributed: invalid key= (cannot be empty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, ErrInvalidConfiguration) {
				t.Error("ValidationError should match ErrInvalidConfiguration")
			}
		})
	}
}

func TestWithHintChains(t *testing.T) {
	err := NewValidationError("crawl", "workers", 0, "must be positive")
	if got := err.WithHint("use 1 or more"); got != err {
		t.Error("WithHint should return the same instance")
	}
	if err.Hint != "use 1 or more" {
		t.Errorf("Hint = %q", err.Hint)
	}
}

func TestOperationError(t *testing.T) {
	tests := []struct {
		name  string
		err   *OperationError
		want  string
		cause error
	}{
		{
			name:  "without context",
			err:   NewOperationError("distributed", "Reset", context.DeadlineExceeded),
			want:  "distributed.Reset failed: context deadline exceeded",
			cause: context.DeadlineExceeded,
		},
		{
			name: "with context",
			err: NewOperationError("gate", "Admit", ErrCapacityExceeded).
				WithContext("bps requested 2048 > capacity 1024"),
			want:  "gate.Admit failed: capacity exceeded (bps requested 2048 > capacity 1024)",
			cause: ErrCapacityExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, tt.cause) {
				t.Errorf("OperationError should wrap %v", tt.cause)
			}
		})
	}
}

func TestClassifiers(t *testing.T) {
	capacity := NewOperationError("gate", "Admit", ErrCapacityExceeded)
	invalid := NewValidationError("config", "bps_limit", -1, "cannot be negative")
	wrappedInvalid := fmt.Errorf("load settings: %w", invalid)

	tests := []struct {
		name                             string
		err                              error
		retryable, temporary, validation bool
		capacity                         bool
	}{
		{"timeout", ErrTimeout, true, true, false, false},
		{"rate limited", ErrRateLimited, true, false, false, false},
		{"closed", ErrClosed, false, false, false, false},
		{"capacity", capacity, false, true, false, true},
		{"validation", invalid, false, false, true, false},
		{"wrapped validation", wrappedInvalid, false, false, true, false},
		{"wrapped timeout", NewOperationError("crawl", "fetch", ErrTimeout), true, true, false, false},
		{"plain", errors.New("connection refused"), false, false, false, false},
		{"nil", nil, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := IsTemporary(tt.err); got != tt.temporary {
				t.Errorf("IsTemporary = %v, want %v", got, tt.temporary)
			}
			if got := IsValidationError(tt.err); got != tt.validation {
				t.Errorf("IsValidationError = %v, want %v", got, tt.validation)
			}
			if got := IsCapacityExceeded(tt.err); got != tt.capacity {
				t.Errorf("IsCapacityExceeded = %v, want %v", got, tt.capacity)
			}
		})
	}
}

func TestIsAndAsFollowWrapping(t *testing.T) {
	err := fmt.Errorf("sleep: %w", context.DeadlineExceeded)
	if !Is(err, context.DeadlineExceeded) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}

	var opErr *OperationError
	wrapped := fmt.Errorf("fetch: %w", NewOperationError("gate", "Admit", ErrCapacityExceeded))
	if !As(wrapped, &opErr) || opErr.Operation != "Admit" {
		t.Errorf("As = %v, want the gate.Admit OperationError", opErr)
	}
}
