package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrNotFound) {
		t.Error("IsNotFound(ErrNotFound) = false, want true")
	}
	wrapped := fmt.Errorf("meeting %q: %w", "m-123", ErrNotFound)
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound(wrapped) = false, want true")
	}
	if IsNotFound(ErrConflict) {
		t.Error("IsNotFound(ErrConflict) = true, want false")
	}
	if IsNotFound(nil) {
		t.Error("IsNotFound(nil) = true, want false")
	}
}

func TestIsStaleToken(t *testing.T) {
	wrapped := fmt.Errorf("resolve gate: %w", ErrStaleToken)
	if !IsStaleToken(wrapped) {
		t.Error("IsStaleToken(wrapped) = false, want true")
	}
	if IsStaleToken(errors.New("stale resume token")) {
		t.Error("IsStaleToken should not match by message")
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrConflict, ErrValidation, ErrAlreadyExists,
		ErrInvalidState, ErrStaleToken, ErrChannelsExhausted,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v unexpectedly matches %v", a, b)
			}
		}
	}
}
