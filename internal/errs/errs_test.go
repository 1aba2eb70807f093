package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := New(KindValidation, "bad threshold %q", "cpu")
	if !errors.Is(err, ErrValidation) {
		t.Fatal("validation error must match ErrValidation")
	}
	if errors.Is(err, ErrResource) {
		t.Fatal("validation error must not match ErrResource")
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("KindOf = %v", KindOf(err))
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := Wrap(KindResource, cause, "read events")
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause must be reachable via errors.Is")
	}
	if !errors.Is(err, ErrResource) {
		t.Fatal("wrapped error must keep its kind")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindExternal, nil, "noop") != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if KindOf(fmt.Errorf("plain")) != Kind(-1) {
		t.Fatal("plain errors are unclassified")
	}
}

func TestMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindBackPressure, "queue full"))
	if !errors.Is(err, ErrBackPressure) {
		t.Fatal("kind must match through fmt.Errorf wrapping")
	}
}
