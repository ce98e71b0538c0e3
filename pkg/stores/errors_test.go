package stores

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorClassification tests the predicate helpers against wrapped chains
func TestErrorClassification(t *testing.T) {
	base := errors.New("database is locked")
	conflict := NewConflictError("glossary.upsert", base)
	invalid := NewInvalidTransitionError("segment ch01/3", SegmentStatusPending, SegmentStatusProofread)
	unavailable := NewUnavailableError("open", errors.New("no such directory"))

	if !IsConflict(conflict) {
		t.Error("expected conflict error to classify as conflict")
	}
	if IsConflict(invalid) || IsConflict(unavailable) {
		t.Error("expected only conflict errors to classify as conflict")
	}

	if !IsInvalidTransition(invalid) {
		t.Error("expected invalid transition error to classify as such")
	}
	if !IsUnavailable(unavailable) {
		t.Error("expected unavailable error to classify as such")
	}

	if IsConflict(nil) || IsInvalidTransition(nil) || IsUnavailable(nil) {
		t.Error("expected nil to classify as nothing")
	}
	plain := errors.New("plain")
	if IsConflict(plain) || IsInvalidTransition(plain) || IsUnavailable(plain) {
		t.Error("expected unclassified error to classify as nothing")
	}
}

// TestErrorUnwrapping tests that the underlying cause survives wrapping
func TestErrorUnwrapping(t *testing.T) {
	base := errors.New("database is locked")
	conflict := NewConflictError("glossary.upsert", base)

	if !errors.Is(conflict, base) {
		t.Error("expected errors.Is to find the underlying cause")
	}

	// Predicates see through additional fmt.Errorf wrapping
	wrapped := fmt.Errorf("merge aborted: %w", conflict)
	if !IsConflict(wrapped) {
		t.Error("expected classification to survive wrapping")
	}

	var se *StoreError
	if !errors.As(wrapped, &se) {
		t.Fatal("expected errors.As to extract the store error")
	}
	if se.Op != "glossary.upsert" {
		t.Errorf("expected op glossary.upsert, got %s", se.Op)
	}
}

// TestErrorMessages tests the rendered message format
func TestErrorMessages(t *testing.T) {
	invalid := NewInvalidTransitionError("segment ch01/3", SegmentStatusProofread, SegmentStatusFailed)

	msg := invalid.Error()
	if !strings.Contains(msg, string(ErrorClassInvalidTransition)) {
		t.Errorf("expected message to name the class, got %s", msg)
	}
	if !strings.Contains(msg, "proofread -> failed") {
		t.Errorf("expected message to name the rejected edge, got %s", msg)
	}

	bare := &StoreError{Class: ErrorClassUnavailable, Op: "health"}
	if bare.Error() != "[unavailable] health" {
		t.Errorf("unexpected bare message: %s", bare.Error())
	}
}
