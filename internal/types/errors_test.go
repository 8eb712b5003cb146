package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestFakeAIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FakeAIError
		want string
	}{
		{
			name: "without cause",
			err:  NewError(EVENT_VALIDATION_FAILED, "negative token count"),
			want: "[EVENT_VALIDATION_FAILED] negative token count",
		},
		{
			name: "with cause",
			err:  WrapError(CONFIG_LOAD_FAILED, "reading config", fmt.Errorf("no such file")),
			want: "[CONFIG_LOAD_FAILED] reading config: no such file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFakeAIError_Is(t *testing.T) {
	err := NewError(STREAM_LIMIT_EXCEEDED, "too many active streams")

	if !errors.Is(err, NewError(STREAM_LIMIT_EXCEEDED, "different message")) {
		t.Error("errors.Is should match on code regardless of message")
	}
	if errors.Is(err, NewError(EVENT_BUS_CLOSED, "too many active streams")) {
		t.Error("errors.Is should not match a different code")
	}
}

func TestFakeAIError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := WrapError(CONFIG_PARSE_FAILED, "parsing yaml", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable through errors.Is")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap() did not return the cause")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(NewError(EVENT_BUS_CLOSED, "closed")) {
		t.Error("NewError should not be retryable")
	}
	if !IsRetryable(NewRetryableError(EVENT_VALIDATION_FAILED, "transient")) {
		t.Error("NewRetryableError should be retryable")
	}
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors are never retryable")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewError(PRICING_NOT_FOUND, "x")); got != PRICING_NOT_FOUND {
		t.Errorf("CodeOf = %v, want %v", got, PRICING_NOT_FOUND)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %v, want empty", got)
	}
	wrapped := fmt.Errorf("outer: %w", NewError(BUDGET_NOT_FOUND, "x"))
	if got := CodeOf(wrapped); got != BUDGET_NOT_FOUND {
		t.Errorf("CodeOf(wrapped) = %v, want %v", got, BUDGET_NOT_FOUND)
	}
}
