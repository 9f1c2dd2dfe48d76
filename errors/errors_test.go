package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestLayoutError(t *testing.T) {
	// Test basic error creation
	err := New(ErrCodeNotSupported, "selector required")
	if err.Code != ErrCodeNotSupported {
		t.Errorf("expected code %s, got %s", ErrCodeNotSupported, err.Code)
	}

	// Test error wrapping
	cause := fmt.Errorf("underlying error")
	wrapped := Wrap(cause, ErrCodeHubUnavailable, "hub gone")

	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}

	if !Is(wrapped, ErrCodeHubUnavailable) {
		t.Error("Is should return true for matching code")
	}

	if Is(wrapped, ErrCodeTimeout) {
		t.Error("Is should return false for non-matching code")
	}

	// Codes survive fmt.Errorf wrapping
	outer := fmt.Errorf("complete: %w", Timeout("activity", time.Second))
	if GetCode(outer) != ErrCodeTimeout {
		t.Errorf("expected %s through wrapping, got %q", ErrCodeTimeout, GetCode(outer))
	}

	detailed := err.WithDetail("request", "get").WithDetail("attempt", 2)
	if detailed.Details["request"] != "get" {
		t.Error("WithDetail should add details")
	}
}

func TestErrorConstructors(t *testing.T) {
	err := InvalidAddress("nope")
	if err.Code != ErrCodeInvalidAddress {
		t.Errorf("expected code %s, got %s", ErrCodeInvalidAddress, err.Code)
	}
	if err.Details["address"] != "nope" {
		t.Error("InvalidAddress should include address detail")
	}

	err = Timeout("complete", 100*time.Millisecond)
	if err.Details["timeout"] != "100ms" {
		t.Errorf("Timeout should include timeout detail, got %v", err.Details["timeout"])
	}

	if Is(nil, ErrCodeInternal) {
		t.Error("Is(nil) should be false")
	}
}
