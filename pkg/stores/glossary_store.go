package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GlossaryStore is the series-wide term database. One instance is owned by
// the series root and shared by every volume under it; concurrent volume
// runs coordinate through SQLite's WAL writer lock, bounded by the busy
// retry window.
type GlossaryStore struct {
	db         *sql.DB
	cfg        Config
	sourceLang string
	targetLang string
}

// GlossaryConfig configures a GlossaryStore. SourceLang and TargetLang scope
// every operation to one language pair.
type GlossaryConfig struct {
	Config
	SourceLang string
	TargetLang string
}

// NewGlossaryStore creates a new glossary store instance. The database is
// not opened until Init is called.
func NewGlossaryStore(cfg GlossaryConfig) (*GlossaryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.SourceLang == "" || cfg.TargetLang == "" {
		return nil, fmt.Errorf("source and target languages are required")
	}

	return &GlossaryStore{
		cfg:        cfg.Config,
		sourceLang: cfg.SourceLang,
		targetLang: cfg.TargetLang,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *GlossaryStore) Init(ctx context.Context) error {
	db, err := openDB(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// Migrate applies the glossary schema migrations.
func (s *GlossaryStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return NewUnavailableError("migrate", fmt.Errorf("database not initialized"))
	}
	return runMigrations(s.db, glossaryMigrationsFS, "migrations/glossary")
}

// Close closes the database connection.
func (s *GlossaryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *GlossaryStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return NewUnavailableError("health", fmt.Errorf("database not initialized"))
	}
	if err := s.db.PingContext(ctx); err != nil {
		return NewUnavailableError("health", err)
	}
	return nil
}

// Lookup retrieves the entry for term, or nil if the term is not in the
// glossary. Absence is not an error.
func (s *GlossaryStore) Lookup(ctx context.Context, term string) (*GlossaryEntry, error) {
	query := `
		SELECT term, translation, context, source_lang, target_lang, created_at, updated_at
		FROM glossary
		WHERE term = ? AND source_lang = ? AND target_lang = ?
	`

	entry := &GlossaryEntry{}
	err := s.db.QueryRowContext(ctx, query, term, s.sourceLang, s.targetLang).Scan(
		&entry.Term,
		&entry.Translation,
		&entry.Context,
		&entry.SourceLang,
		&entry.TargetLang,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up term: %w", err)
	}

	return entry, nil
}

// Upsert inserts the term or overwrites its translation and context in
// place. Contention beyond the retry window surfaces as a conflict error.
func (s *GlossaryStore) Upsert(ctx context.Context, term, translation, termContext string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return fmt.Errorf("term must be non-empty")
	}

	query := `
		INSERT INTO glossary (term, translation, context, source_lang, target_lang)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(term, source_lang, target_lang) DO UPDATE SET
			translation = excluded.translation,
			context = excluded.context,
			updated_at = CURRENT_TIMESTAMP
	`

	return withBusyRetry(ctx, "glossary.upsert", func() error {
		if _, err := s.db.ExecContext(ctx, query, term, translation, termContext, s.sourceLang, s.targetLang); err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to upsert term: %w", err)
		}
		return nil
	})
}

// Delete removes a term. Returns true if a row was deleted. Terms are never
// removed automatically; this is the explicit-user-action path.
func (s *GlossaryStore) Delete(ctx context.Context, term string) (bool, error) {
	query := `DELETE FROM glossary WHERE term = ? AND source_lang = ? AND target_lang = ?`

	var deleted bool
	err := withBusyRetry(ctx, "glossary.delete", func() error {
		result, err := s.db.ExecContext(ctx, query, term, s.sourceLang, s.targetLang)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to delete term: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		deleted = rows > 0
		return nil
	})
	return deleted, err
}

// Count returns the number of entries for the store's language pair.
func (s *GlossaryStore) Count(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM glossary WHERE source_lang = ? AND target_lang = ?`

	var count int
	if err := s.db.QueryRowContext(ctx, query, s.sourceLang, s.targetLang).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count terms: %w", err)
	}
	return count, nil
}

// Export returns every entry for the language pair ordered by term
// ascending, so exports diff deterministically between runs.
func (s *GlossaryStore) Export(ctx context.Context) ([]GlossaryEntry, error) {
	query := `
		SELECT term, translation, context, source_lang, target_lang, created_at, updated_at
		FROM glossary
		WHERE source_lang = ? AND target_lang = ?
		ORDER BY term ASC
	`

	rows, err := s.db.QueryContext(ctx, query, s.sourceLang, s.targetLang)
	if err != nil {
		return nil, fmt.Errorf("failed to export glossary: %w", err)
	}
	defer rows.Close()

	entries := []GlossaryEntry{}
	for rows.Next() {
		entry := GlossaryEntry{}
		err := rows.Scan(
			&entry.Term,
			&entry.Translation,
			&entry.Context,
			&entry.SourceLang,
			&entry.TargetLang,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating glossary: %w", err)
	}

	return entries, nil
}

// BulkMerge applies a batch of discovered candidates in one transaction.
// New terms are inserted; candidates whose translation matches the stored
// one are counted unchanged; genuine collisions are resolved by policy. The
// returned report, not a silent overwrite, is what a human reviews.
func (s *GlossaryStore) BulkMerge(ctx context.Context, candidates []TermCandidate, policy MergePolicy) (*MergeReport, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown merge policy %q", policy)
	}

	var report *MergeReport
	err := withBusyRetry(ctx, "glossary.bulk_merge", func() error {
		r, err := s.mergeOnce(ctx, candidates, policy)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *GlossaryStore) mergeOnce(ctx context.Context, candidates []TermCandidate, policy MergePolicy) (*MergeReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	report := &MergeReport{}

	selectQuery := `
		SELECT translation FROM glossary
		WHERE term = ? AND source_lang = ? AND target_lang = ?
	`
	insertQuery := `
		INSERT INTO glossary (term, translation, context, source_lang, target_lang)
		VALUES (?, ?, ?, ?, ?)
	`
	updateQuery := `
		UPDATE glossary
		SET translation = ?, context = ?, updated_at = CURRENT_TIMESTAMP
		WHERE term = ? AND source_lang = ? AND target_lang = ?
	`

	for _, cand := range candidates {
		term := strings.TrimSpace(cand.Term)
		translation := strings.TrimSpace(cand.Translation)
		if term == "" || translation == "" {
			report.Skipped++
			continue
		}

		var existing string
		err := tx.QueryRowContext(ctx, selectQuery, term, s.sourceLang, s.targetLang).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, insertQuery, term, translation, cand.Context, s.sourceLang, s.targetLang); err != nil {
				if isBusy(err) {
					return nil, err
				}
				return nil, fmt.Errorf("failed to insert term %q: %w", term, err)
			}
			report.Inserted++

		case err != nil:
			return nil, fmt.Errorf("failed to read term %q: %w", term, err)

		case existing == translation:
			report.Unchanged++

		default:
			switch policy {
			case MergeKeepExisting:
				report.Skipped++
			case MergePreferNew:
				if _, err := tx.ExecContext(ctx, updateQuery, translation, cand.Context, term, s.sourceLang, s.targetLang); err != nil {
					if isBusy(err) {
						return nil, err
					}
					return nil, fmt.Errorf("failed to update term %q: %w", term, err)
				}
				report.Updated++
			case MergeFlagConflict:
				report.Flagged++
				report.Conflicts = append(report.Conflicts, MergeConflict{
					Term:     term,
					Existing: existing,
					Proposed: translation,
					Context:  cand.Context,
				})
			}
		}
	}

	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	return report, nil
}
