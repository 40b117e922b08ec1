package simerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(CodeValidation, "time scale must be positive, got %v", -1.0)
	want := "VALIDATION: time scale must be positive, got -1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodePersistence, cause, "append event abc")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !IsPersistence(err) {
		t.Error("IsPersistence should match")
	}
}

func TestPredicatesThroughWrapping(t *testing.T) {
	inner := New(CodeSeekOutOfRange, "target -1 is before genesis")
	outer := fmt.Errorf("seek failed: %w", inner)

	if !IsSeekOutOfRange(outer) {
		t.Error("IsSeekOutOfRange should match through fmt.Errorf wrapping")
	}
	if IsValidation(outer) {
		t.Error("IsValidation should not match a seek error")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain error) = %q, want empty", got)
	}
}
