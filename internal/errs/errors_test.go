package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestAccountNotFoundIsNotFound(t *testing.T) {
	wrapped := fmt.Errorf("load source: %w", ErrAccountNotFound)
	if !errors.Is(wrapped, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound in chain")
	}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain")
	}
	if errors.Is(ErrNotFound, ErrAccountNotFound) {
		t.Fatalf("ErrNotFound must not match the narrower error")
	}
}
