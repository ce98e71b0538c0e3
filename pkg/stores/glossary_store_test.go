package stores

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// setupGlossaryStore creates a file-backed glossary store in a temp
// directory for testing
func setupGlossaryStore(t *testing.T) *GlossaryStore {
	t.Helper()

	store, err := NewGlossaryStore(GlossaryConfig{
		Config:     Config{Path: filepath.Join(t.TempDir(), "glossary.db")},
		SourceLang: "ja",
		TargetLang: "ru",
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

// TestGlossaryLifecycle tests database initialization and closure
func TestGlossaryLifecycle(t *testing.T) {
	store := setupGlossaryStore(t)

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestGlossaryConfigValidation tests constructor argument checks
func TestGlossaryConfigValidation(t *testing.T) {
	_, err := NewGlossaryStore(GlossaryConfig{
		SourceLang: "ja",
		TargetLang: "ru",
	})
	if err == nil {
		t.Error("expected error for missing path")
	}

	_, err = NewGlossaryStore(GlossaryConfig{
		Config: Config{Path: ":memory:"},
	})
	if err == nil {
		t.Error("expected error for missing language pair")
	}
}

// TestGlossaryUpsertAndLookup tests insert, in-place update, and lookup
func TestGlossaryUpsertAndLookup(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	ctx := context.Background()

	// Missing term is nil, not an error
	entry, err := store.Lookup(ctx, "剣")
	if err != nil {
		t.Fatalf("failed to look up term: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil for missing term, got %+v", entry)
	}

	// Insert
	if err := store.Upsert(ctx, "剣", "меч", "weapon carried by the hero"); err != nil {
		t.Fatalf("failed to upsert term: %v", err)
	}

	entry, err = store.Lookup(ctx, "剣")
	if err != nil {
		t.Fatalf("failed to look up term: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry after upsert")
	}
	if entry.Translation != "меч" {
		t.Errorf("expected translation меч, got %s", entry.Translation)
	}
	if entry.Context != "weapon carried by the hero" {
		t.Errorf("expected context to round-trip, got %s", entry.Context)
	}
	if entry.SourceLang != "ja" || entry.TargetLang != "ru" {
		t.Errorf("expected ja/ru language pair, got %s/%s", entry.SourceLang, entry.TargetLang)
	}

	// Overwrite in place
	if err := store.Upsert(ctx, "剣", "клинок", ""); err != nil {
		t.Fatalf("failed to overwrite term: %v", err)
	}

	entry, err = store.Lookup(ctx, "剣")
	if err != nil {
		t.Fatalf("failed to look up updated term: %v", err)
	}
	if entry.Translation != "клинок" {
		t.Errorf("expected translation клинок after overwrite, got %s", entry.Translation)
	}

	// Still a single row
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count terms: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 term, got %d", count)
	}

	// Blank term rejected
	if err := store.Upsert(ctx, "   ", "x", ""); err == nil {
		t.Error("expected error for blank term")
	}
}

// TestGlossaryDelete tests explicit term removal
func TestGlossaryDelete(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Upsert(ctx, "魔王", "повелитель демонов", ""); err != nil {
		t.Fatalf("failed to upsert term: %v", err)
	}

	deleted, err := store.Delete(ctx, "魔王")
	if err != nil {
		t.Fatalf("failed to delete term: %v", err)
	}
	if !deleted {
		t.Error("expected delete to report a removed row")
	}

	deleted, err = store.Delete(ctx, "魔王")
	if err != nil {
		t.Fatalf("failed to delete missing term: %v", err)
	}
	if deleted {
		t.Error("expected delete of missing term to report false")
	}

	entry, err := store.Lookup(ctx, "魔王")
	if err != nil {
		t.Fatalf("failed to look up deleted term: %v", err)
	}
	if entry != nil {
		t.Error("expected nil after delete")
	}
}

// TestGlossaryExportOrdering tests that exports are sorted by term
func TestGlossaryExportOrdering(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	ctx := context.Background()

	// Insert out of order
	terms := []string{"c-term", "a-term", "b-term"}
	for _, term := range terms {
		if err := store.Upsert(ctx, term, "translation-"+term, ""); err != nil {
			t.Fatalf("failed to upsert %s: %v", term, err)
		}
	}

	entries, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("failed to export glossary: %v", err)
	}

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	expected := []string{"a-term", "b-term", "c-term"}
	for i, want := range expected {
		if entries[i].Term != want {
			t.Errorf("expected entry %d to be %s, got %s", i, want, entries[i].Term)
		}
	}
}

// TestBulkMergeInsertsAndUnchanged tests the policy-independent merge paths
func TestBulkMergeInsertsAndUnchanged(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Upsert(ctx, "勇者", "герой", ""); err != nil {
		t.Fatalf("failed to seed term: %v", err)
	}

	candidates := []TermCandidate{
		{Term: "勇者", Translation: "герой"},            // matches stored value
		{Term: "魔法", Translation: "магия"},            // new
		{Term: "", Translation: "ignored"},            // blank term
		{Term: "  whitespace  ", Translation: "   "},  // blank translation
	}

	report, err := store.BulkMerge(ctx, candidates, MergeKeepExisting)
	if err != nil {
		t.Fatalf("failed to bulk merge: %v", err)
	}

	if report.Inserted != 1 {
		t.Errorf("expected 1 inserted, got %d", report.Inserted)
	}
	if report.Unchanged != 1 {
		t.Errorf("expected 1 unchanged, got %d", report.Unchanged)
	}
	if report.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", report.Skipped)
	}
	if report.Updated != 0 || report.Flagged != 0 {
		t.Errorf("expected no updates or flags, got %d/%d", report.Updated, report.Flagged)
	}

	entry, err := store.Lookup(ctx, "魔法")
	if err != nil {
		t.Fatalf("failed to look up inserted term: %v", err)
	}
	if entry == nil || entry.Translation != "магия" {
		t.Errorf("expected inserted term 魔法 -> магия, got %+v", entry)
	}
}

// TestBulkMergeKeepExisting tests that collisions keep the stored value
func TestBulkMergeKeepExisting(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Upsert(ctx, "剣", "меч", ""); err != nil {
		t.Fatalf("failed to seed term: %v", err)
	}

	report, err := store.BulkMerge(ctx, []TermCandidate{
		{Term: "剣", Translation: "клинок"},
	}, MergeKeepExisting)
	if err != nil {
		t.Fatalf("failed to bulk merge: %v", err)
	}

	if report.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", report.Skipped)
	}

	entry, err := store.Lookup(ctx, "剣")
	if err != nil {
		t.Fatalf("failed to look up term: %v", err)
	}
	if entry.Translation != "меч" {
		t.Errorf("expected stored value меч to survive, got %s", entry.Translation)
	}
}

// TestBulkMergePreferNew tests that collisions take the candidate value
func TestBulkMergePreferNew(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Upsert(ctx, "剣", "меч", ""); err != nil {
		t.Fatalf("failed to seed term: %v", err)
	}

	report, err := store.BulkMerge(ctx, []TermCandidate{
		{Term: "剣", Translation: "клинок", Context: "duel scene"},
	}, MergePreferNew)
	if err != nil {
		t.Fatalf("failed to bulk merge: %v", err)
	}

	if report.Updated != 1 {
		t.Errorf("expected 1 updated, got %d", report.Updated)
	}

	entry, err := store.Lookup(ctx, "剣")
	if err != nil {
		t.Fatalf("failed to look up term: %v", err)
	}
	if entry.Translation != "клинок" {
		t.Errorf("expected candidate value клинок, got %s", entry.Translation)
	}
	if entry.Context != "duel scene" {
		t.Errorf("expected candidate context, got %s", entry.Context)
	}
}

// TestBulkMergeFlagConflict tests that collisions are reported, not applied
func TestBulkMergeFlagConflict(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.Upsert(ctx, "剣", "меч", ""); err != nil {
		t.Fatalf("failed to seed term: %v", err)
	}

	report, err := store.BulkMerge(ctx, []TermCandidate{
		{Term: "剣", Translation: "сабля", Context: "chapter 12"},
	}, MergeFlagConflict)
	if err != nil {
		t.Fatalf("failed to bulk merge: %v", err)
	}

	if report.Flagged != 1 {
		t.Errorf("expected 1 flagged, got %d", report.Flagged)
	}
	if len(report.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict record, got %d", len(report.Conflicts))
	}

	conflict := report.Conflicts[0]
	if conflict.Term != "剣" {
		t.Errorf("expected conflict term 剣, got %s", conflict.Term)
	}
	if conflict.Existing != "меч" {
		t.Errorf("expected existing меч, got %s", conflict.Existing)
	}
	if conflict.Proposed != "сабля" {
		t.Errorf("expected proposed сабля, got %s", conflict.Proposed)
	}
	if conflict.Context != "chapter 12" {
		t.Errorf("expected conflict context chapter 12, got %s", conflict.Context)
	}

	// Stored value untouched
	entry, err := store.Lookup(ctx, "剣")
	if err != nil {
		t.Fatalf("failed to look up term: %v", err)
	}
	if entry.Translation != "меч" {
		t.Errorf("expected stored value меч to survive, got %s", entry.Translation)
	}
}

// TestBulkMergeUnknownPolicy tests policy validation
func TestBulkMergeUnknownPolicy(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	_, err := store.BulkMerge(context.Background(), []TermCandidate{
		{Term: "x", Translation: "y"},
	}, MergePolicy("overwrite-everything"))
	if err == nil {
		t.Error("expected error for unknown merge policy")
	}
}

// TestGlossaryConcurrentUpserts tests that concurrent writers on distinct
// terms all land without lost updates
func TestGlossaryConcurrentUpserts(t *testing.T) {
	store := setupGlossaryStore(t)
	defer store.Close()

	ctx := context.Background()
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			term := fmt.Sprintf("term-%02d", n)
			if err := store.Upsert(ctx, term, fmt.Sprintf("translation-%02d", n), ""); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent upsert failed: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("failed to count terms: %v", err)
	}
	if count != writers {
		t.Errorf("expected %d terms, got %d", writers, count)
	}

	entries, err := store.Export(ctx)
	if err != nil {
		t.Fatalf("failed to export glossary: %v", err)
	}
	for i, entry := range entries {
		want := fmt.Sprintf("term-%02d", i)
		if entry.Term != want {
			t.Errorf("expected entry %d to be %s, got %s", i, want, entry.Term)
		}
	}
}
