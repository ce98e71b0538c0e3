package stores

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

// setupVolumeStore creates a file-backed volume state store in a temp
// directory for testing
func setupVolumeStore(t *testing.T) *VolumeStateStore {
	t.Helper()

	store, err := NewVolumeStateStore(Config{
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

func mustRegister(t *testing.T, store *VolumeStateStore, chapter string, id int64, text, hash string) {
	t.Helper()
	if err := store.RegisterSegment(context.Background(), chapter, id, text, hash); err != nil {
		t.Fatalf("failed to register segment %s/%d: %v", chapter, id, err)
	}
}

// TestVolumeStoreLifecycle tests database initialization and closure
func TestVolumeStoreLifecycle(t *testing.T) {
	store := setupVolumeStore(t)

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestRegisterSegmentIdempotent tests that re-registering with the same
// hash never disturbs accumulated state
func TestRegisterSegmentIdempotent(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()
	mustRegister(t, store, "ch01", 1, "長い夜だった。", "hash-a")

	translated := "Это была долгая ночь."
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusTranslated, &translated, nil); err != nil {
		t.Fatalf("failed to transition segment: %v", err)
	}

	// Same hash again: no-op
	mustRegister(t, store, "ch01", 1, "長い夜だった。", "hash-a")

	seg, err := store.Segment(ctx, "ch01", 1)
	if err != nil {
		t.Fatalf("failed to get segment: %v", err)
	}
	if seg.Status != SegmentStatusTranslated {
		t.Errorf("expected status %s after idempotent re-register, got %s", SegmentStatusTranslated, seg.Status)
	}
	if seg.Translated == nil || *seg.Translated != translated {
		t.Errorf("expected translation to survive re-register, got %v", seg.Translated)
	}
}

// TestRegisterSegmentUpstreamEdit tests that a changed content hash resets
// the segment to pending and invalidates prior work
func TestRegisterSegmentUpstreamEdit(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()
	mustRegister(t, store, "ch01", 1, "original text", "hash-a")

	translated := "translated text"
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusTranslated, &translated, nil); err != nil {
		t.Fatalf("failed to transition segment: %v", err)
	}
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusProofread, nil, nil); err != nil {
		t.Fatalf("failed to proofread segment: %v", err)
	}

	// Upstream edit: new hash resets even a proofread segment
	mustRegister(t, store, "ch01", 1, "edited text", "hash-b")

	seg, err := store.Segment(ctx, "ch01", 1)
	if err != nil {
		t.Fatalf("failed to get segment: %v", err)
	}
	if seg.Status != SegmentStatusPending {
		t.Errorf("expected status %s after upstream edit, got %s", SegmentStatusPending, seg.Status)
	}
	if seg.ContentHash != "hash-b" {
		t.Errorf("expected content hash hash-b, got %s", seg.ContentHash)
	}
	if seg.SourceText != "edited text" {
		t.Errorf("expected new source text, got %s", seg.SourceText)
	}
	if seg.Translated != nil {
		t.Errorf("expected translation cleared after upstream edit, got %v", seg.Translated)
	}
	if seg.LastError != nil {
		t.Errorf("expected last error cleared after upstream edit, got %v", seg.LastError)
	}
}

// TestTransitionTable tests every edge of the segment state machine
func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    SegmentStatus
		to      SegmentStatus
		allowed bool
	}{
		{SegmentStatusPending, SegmentStatusTranslated, true},
		{SegmentStatusPending, SegmentStatusFailed, true},
		{SegmentStatusPending, SegmentStatusProofread, false},
		{SegmentStatusPending, SegmentStatusPending, false},
		{SegmentStatusTranslated, SegmentStatusProofread, true},
		{SegmentStatusTranslated, SegmentStatusFailed, true},
		{SegmentStatusTranslated, SegmentStatusPending, false},
		{SegmentStatusTranslated, SegmentStatusTranslated, false},
		{SegmentStatusProofread, SegmentStatusPending, false},
		{SegmentStatusProofread, SegmentStatusTranslated, false},
		{SegmentStatusProofread, SegmentStatusFailed, false},
		{SegmentStatusProofread, SegmentStatusProofread, false},
		{SegmentStatusFailed, SegmentStatusPending, true},
		{SegmentStatusFailed, SegmentStatusTranslated, false},
		{SegmentStatusFailed, SegmentStatusProofread, false},
		{SegmentStatusFailed, SegmentStatusFailed, false},
	}

	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

// TestTransitionRejectsBadEdges tests that stored transitions enforce the
// state machine and leave the row untouched on rejection
func TestTransitionRejectsBadEdges(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()
	mustRegister(t, store, "ch01", 1, "text", "hash-a")

	// pending -> proofread skips translation
	err := store.Transition(ctx, "ch01", 1, SegmentStatusProofread, nil, nil)
	if err == nil {
		t.Fatal("expected error for pending -> proofread")
	}
	if !IsInvalidTransition(err) {
		t.Errorf("expected invalid transition error, got %v", err)
	}

	seg, err := store.Segment(ctx, "ch01", 1)
	if err != nil {
		t.Fatalf("failed to get segment: %v", err)
	}
	if seg.Status != SegmentStatusPending {
		t.Errorf("expected status unchanged after rejected transition, got %s", seg.Status)
	}

	// Unknown segment
	err = store.Transition(ctx, "ch01", 99, SegmentStatusTranslated, nil, nil)
	if err == nil {
		t.Error("expected error for unknown segment")
	}
	if IsInvalidTransition(err) {
		t.Errorf("expected plain not-found error, got invalid transition: %v", err)
	}
}

// TestTransitionFailureAndRetry tests the failed path: error recording,
// retry through pending, and error clearing on the next transition
func TestTransitionFailureAndRetry(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()
	mustRegister(t, store, "ch01", 1, "text", "hash-a")

	errMsg := "model returned empty response"
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusFailed, nil, &errMsg); err != nil {
		t.Fatalf("failed to mark segment failed: %v", err)
	}

	seg, err := store.Segment(ctx, "ch01", 1)
	if err != nil {
		t.Fatalf("failed to get segment: %v", err)
	}
	if seg.Status != SegmentStatusFailed {
		t.Errorf("expected status %s, got %s", SegmentStatusFailed, seg.Status)
	}
	if seg.LastError == nil || *seg.LastError != errMsg {
		t.Errorf("expected last error %q, got %v", errMsg, seg.LastError)
	}

	// failed -> pending reopens the segment for retry
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusPending, nil, nil); err != nil {
		t.Fatalf("failed to retry segment: %v", err)
	}

	seg, err = store.Segment(ctx, "ch01", 1)
	if err != nil {
		t.Fatalf("failed to get segment: %v", err)
	}
	if seg.Status != SegmentStatusPending {
		t.Errorf("expected status %s after retry, got %s", SegmentStatusPending, seg.Status)
	}
	if seg.LastError != nil {
		t.Errorf("expected last error cleared on non-failed transition, got %v", seg.LastError)
	}

	// Second attempt succeeds
	translated := "translated"
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusTranslated, &translated, nil); err != nil {
		t.Fatalf("failed to translate after retry: %v", err)
	}
}

// TestPendingSegmentsAfterRestart tests that an interrupted run resumes
// with exactly the unfinished segments, in order
func TestPendingSegmentsAfterRestart(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		mustRegister(t, store, "ch01", i, fmt.Sprintf("segment %d", i), fmt.Sprintf("hash-%d", i))
	}

	// First run translates segments 1 and 2, then dies
	for _, id := range []int64{1, 2} {
		translated := fmt.Sprintf("translated %d", id)
		if err := store.Transition(ctx, "ch01", id, SegmentStatusTranslated, &translated, nil); err != nil {
			t.Fatalf("failed to transition segment %d: %v", id, err)
		}
	}

	// Re-registration on restart is a no-op for unchanged segments
	for i := int64(1); i <= 5; i++ {
		mustRegister(t, store, "ch01", i, fmt.Sprintf("segment %d", i), fmt.Sprintf("hash-%d", i))
	}

	pending, err := store.PendingSegments(ctx, "ch01")
	if err != nil {
		t.Fatalf("failed to list pending segments: %v", err)
	}

	expected := []int64{3, 4, 5}
	if len(pending) != len(expected) {
		t.Fatalf("expected %d pending segments, got %d", len(expected), len(pending))
	}
	for i, want := range expected {
		if pending[i] != want {
			t.Errorf("expected pending[%d] = %d, got %d", i, want, pending[i])
		}
	}
}

// TestStatusCounts tests aggregate counts per chapter
func TestStatusCounts(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		mustRegister(t, store, "ch01", i, fmt.Sprintf("segment %d", i), fmt.Sprintf("hash-%d", i))
	}
	mustRegister(t, store, "ch02", 1, "other chapter", "hash-x")

	translated := "done"
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusTranslated, &translated, nil); err != nil {
		t.Fatalf("failed to translate segment: %v", err)
	}
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusProofread, nil, nil); err != nil {
		t.Fatalf("failed to proofread segment: %v", err)
	}
	if err := store.Transition(ctx, "ch01", 2, SegmentStatusTranslated, &translated, nil); err != nil {
		t.Fatalf("failed to translate segment: %v", err)
	}
	errMsg := "timeout"
	if err := store.Transition(ctx, "ch01", 3, SegmentStatusFailed, nil, &errMsg); err != nil {
		t.Fatalf("failed to fail segment: %v", err)
	}

	counts, err := store.StatusCounts(ctx, "ch01")
	if err != nil {
		t.Fatalf("failed to count statuses: %v", err)
	}

	expected := map[SegmentStatus]int{
		SegmentStatusProofread:  1,
		SegmentStatusTranslated: 1,
		SegmentStatusFailed:     1,
		SegmentStatusPending:    1,
	}
	for status, want := range expected {
		if counts[status] != want {
			t.Errorf("expected %d %s segments, got %d", want, status, counts[status])
		}
	}

	// Other chapter is isolated
	counts, err = store.StatusCounts(ctx, "ch02")
	if err != nil {
		t.Fatalf("failed to count statuses: %v", err)
	}
	if counts[SegmentStatusPending] != 1 || len(counts) != 1 {
		t.Errorf("expected ch02 to have exactly 1 pending segment, got %v", counts)
	}
}

// TestReopen tests the explicit re-translation path
func TestReopen(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()
	mustRegister(t, store, "ch01", 1, "text", "hash-a")

	translated := "translated"
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusTranslated, &translated, nil); err != nil {
		t.Fatalf("failed to translate segment: %v", err)
	}
	if err := store.Transition(ctx, "ch01", 1, SegmentStatusProofread, nil, nil); err != nil {
		t.Fatalf("failed to proofread segment: %v", err)
	}

	// Proofread is terminal for Transition but not for Reopen
	if err := store.Reopen(ctx, "ch01", 1); err != nil {
		t.Fatalf("failed to reopen segment: %v", err)
	}

	seg, err := store.Segment(ctx, "ch01", 1)
	if err != nil {
		t.Fatalf("failed to get segment: %v", err)
	}
	if seg.Status != SegmentStatusPending {
		t.Errorf("expected status %s after reopen, got %s", SegmentStatusPending, seg.Status)
	}

	if err := store.Reopen(ctx, "ch01", 42); err == nil {
		t.Error("expected error when reopening unknown segment")
	}
}

// TestSegmentListing tests ordered chapter and segment listings
func TestSegmentListing(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()

	// Register out of order
	mustRegister(t, store, "ch02", 2, "c", "h3")
	mustRegister(t, store, "ch01", 2, "b", "h2")
	mustRegister(t, store, "ch01", 1, "a", "h1")

	chapters, err := store.Chapters(ctx)
	if err != nil {
		t.Fatalf("failed to list chapters: %v", err)
	}
	if len(chapters) != 2 || chapters[0] != "ch01" || chapters[1] != "ch02" {
		t.Errorf("expected sorted chapters [ch01 ch02], got %v", chapters)
	}

	segments, err := store.Segments(ctx, "ch01")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].SegmentID != 1 || segments[1].SegmentID != 2 {
		t.Errorf("expected segments ordered by id, got %d, %d", segments[0].SegmentID, segments[1].SegmentID)
	}

	pendingOnly, err := store.SegmentsByStatus(ctx, "ch01", SegmentStatusPending)
	if err != nil {
		t.Fatalf("failed to list segments by status: %v", err)
	}
	if len(pendingOnly) != 2 {
		t.Errorf("expected 2 pending segments, got %d", len(pendingOnly))
	}
}

// TestPruneSegmentsAfterShrink tests that rows past a smaller re-split are
// removed, including finished ones, and other chapters are untouched
func TestPruneSegmentsAfterShrink(t *testing.T) {
	store := setupVolumeStore(t)
	defer store.Close()

	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		mustRegister(t, store, "ch01", i, fmt.Sprintf("para %d", i), fmt.Sprintf("hash-%d", i))
		text := fmt.Sprintf("translated %d", i)
		if err := store.Transition(ctx, "ch01", i, SegmentStatusTranslated, &text, nil); err != nil {
			t.Fatalf("failed to translate segment %d: %v", i, err)
		}
	}
	mustRegister(t, store, "ch02", 1, "other chapter", "hash-other")

	// The chapter shrank to 2 segments
	removed, err := store.PruneSegments(ctx, "ch01", 2)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned segment, got %d", removed)
	}

	segments, err := store.Segments(ctx, "ch01")
	if err != nil {
		t.Fatalf("failed to list segments: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments after prune, got %d", len(segments))
	}
	if _, err := store.Segment(ctx, "ch01", 3); err == nil {
		t.Error("expected pruned segment to be gone")
	}

	// Pruning is idempotent and scoped to its chapter
	removed, err = store.PruneSegments(ctx, "ch01", 2)
	if err != nil {
		t.Fatalf("failed to prune again: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected no rows on second prune, got %d", removed)
	}
	if _, err := store.Segment(ctx, "ch02", 1); err != nil {
		t.Errorf("expected ch02 to be untouched: %v", err)
	}
}

// TestStorePoolConfigApplied tests that connection pool settings reach the
// opened database handle
func TestStorePoolConfigApplied(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewVolumeStateStore(Config{
		Path:         filepath.Join(dir, "state.db"),
		MaxOpenConns: 3,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	if got := store.db.Stats().MaxOpenConnections; got != 3 {
		t.Errorf("expected max open connections 3, got %d", got)
	}

	glossary, err := NewGlossaryStore(GlossaryConfig{
		Config:     Config{Path: filepath.Join(dir, "glossary.db"), MaxOpenConns: 4},
		SourceLang: "ja",
		TargetLang: "ru",
	})
	if err != nil {
		t.Fatalf("failed to create glossary store: %v", err)
	}
	if err := glossary.Init(ctx); err != nil {
		t.Fatalf("failed to initialize glossary store: %v", err)
	}
	defer glossary.Close()

	if got := glossary.db.Stats().MaxOpenConnections; got != 4 {
		t.Errorf("expected max open connections 4, got %d", got)
	}
}
