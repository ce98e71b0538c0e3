package stores

import (
	"time"
)

// SegmentStatus represents the translation progress of one segment.
type SegmentStatus string

const (
	SegmentStatusPending    SegmentStatus = "pending"
	SegmentStatusTranslated SegmentStatus = "translated"
	SegmentStatusProofread  SegmentStatus = "proofread"
	SegmentStatusFailed     SegmentStatus = "failed"
)

// transitions is the set of legal status edges. Everything not listed here
// is rejected with an invalid-transition error.
var transitions = map[SegmentStatus][]SegmentStatus{
	SegmentStatusPending:    {SegmentStatusTranslated, SegmentStatusFailed},
	SegmentStatusTranslated: {SegmentStatusProofread, SegmentStatusFailed},
	SegmentStatusFailed:     {SegmentStatusPending},
}

// CanTransition reports whether from -> to is a legal status edge.
func CanTransition(from, to SegmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GlossaryEntry is one canonical term translation, scoped to a series and a
// language pair.
type GlossaryEntry struct {
	Term        string    `json:"term"`
	Translation string    `json:"translation"`
	Context     string    `json:"context,omitempty"`
	SourceLang  string    `json:"source_lang"`
	TargetLang  string    `json:"target_lang"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TermCandidate is a proposed glossary entry from a term-discovery pass or a
// TSV import, before merge policy is applied.
type TermCandidate struct {
	Term        string `json:"term"`
	Translation string `json:"translation"`
	Context     string `json:"context,omitempty"`
}

// MergePolicy decides what happens when a bulk-merged candidate collides
// with an existing entry that has a different translation.
type MergePolicy string

const (
	// MergeKeepExisting silently keeps the stored translation.
	MergeKeepExisting MergePolicy = "keep-existing"
	// MergePreferNew overwrites the stored translation with the candidate.
	MergePreferNew MergePolicy = "prefer-new"
	// MergeFlagConflict keeps the stored translation and records the
	// collision in the report for human review.
	MergeFlagConflict MergePolicy = "flag-conflict"
)

// Valid reports whether p is a known merge policy.
func (p MergePolicy) Valid() bool {
	switch p {
	case MergeKeepExisting, MergePreferNew, MergeFlagConflict:
		return true
	}
	return false
}

// MergeConflict records one candidate whose translation differed from the
// stored entry under the flag-conflict policy.
type MergeConflict struct {
	Term     string `json:"term"`
	Existing string `json:"existing"`
	Proposed string `json:"proposed"`
	Context  string `json:"context,omitempty"`
}

// MergeReport summarizes a bulk merge. Flagged conflicts are advisory, not
// errors: they are the mechanism for human review of ambiguous terms.
type MergeReport struct {
	Inserted  int             `json:"inserted"`
	Updated   int             `json:"updated"`
	Unchanged int             `json:"unchanged"`
	Skipped   int             `json:"skipped"`
	Flagged   int             `json:"flagged"`
	Conflicts []MergeConflict `json:"conflicts,omitempty"`
}

// Segment is one per-volume translation state row. SegmentID is the ordinal
// position of the segment within its chapter.
type Segment struct {
	Chapter     string        `json:"chapter"`
	SegmentID   int64         `json:"segment_id"`
	Status      SegmentStatus `json:"status"`
	ContentHash string        `json:"content_hash"`
	SourceText  string        `json:"source_text"`
	Translated  *string       `json:"translated,omitempty"`
	LastError   *string       `json:"last_error,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Config holds SQLite store configuration shared by both store kinds.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
