package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// VolumeStateStore tracks per-segment translation progress for exactly one
// volume. Every instance is parameterized by its own database file under
// the volume's .state directory, so concurrent runs on different volumes
// never contend.
type VolumeStateStore struct {
	db  *sql.DB
	cfg Config
}

// NewVolumeStateStore creates a new volume state store instance. The
// database is not opened until Init is called.
func NewVolumeStateStore(cfg Config) (*VolumeStateStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &VolumeStateStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *VolumeStateStore) Init(ctx context.Context) error {
	db, err := openDB(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// Migrate applies the segment schema migrations.
func (s *VolumeStateStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return NewUnavailableError("migrate", fmt.Errorf("database not initialized"))
	}
	return runMigrations(s.db, volumeMigrationsFS, "migrations/volume")
}

// Close closes the database connection.
func (s *VolumeStateStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *VolumeStateStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return NewUnavailableError("health", fmt.Errorf("database not initialized"))
	}
	if err := s.db.PingContext(ctx); err != nil {
		return NewUnavailableError("health", err)
	}
	return nil
}

// RegisterSegment records a segment discovered by the splitter. Idempotent:
// re-registering with the same content hash is a no-op. A changed hash means
// the source was edited upstream, which resets the segment to pending and
// invalidates any prior translation.
func (s *VolumeStateStore) RegisterSegment(ctx context.Context, chapter string, segmentID int64, sourceText, contentHash string) error {
	return withBusyRetry(ctx, "segments.register", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // no-op after commit

		var existingHash string
		err = tx.QueryRowContext(ctx,
			`SELECT content_hash FROM segments WHERE chapter = ? AND segment_id = ?`,
			chapter, segmentID,
		).Scan(&existingHash)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `
				INSERT INTO segments (chapter, segment_id, status, content_hash, source_text)
				VALUES (?, ?, ?, ?, ?)`,
				chapter, segmentID, SegmentStatusPending, contentHash, sourceText,
			)
			if err != nil {
				if isBusy(err) {
					return err
				}
				return fmt.Errorf("failed to insert segment: %w", err)
			}

		case err != nil:
			return fmt.Errorf("failed to read segment: %w", err)

		case existingHash == contentHash:
			// Unchanged upstream, leave the row alone.
			return tx.Commit()

		default:
			_, err = tx.ExecContext(ctx, `
				UPDATE segments
				SET status = ?, content_hash = ?, source_text = ?,
				    translated_text = NULL, last_error = NULL,
				    updated_at = CURRENT_TIMESTAMP
				WHERE chapter = ? AND segment_id = ?`,
				SegmentStatusPending, contentHash, sourceText, chapter, segmentID,
			)
			if err != nil {
				if isBusy(err) {
					return err
				}
				return fmt.Errorf("failed to reset edited segment: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to commit registration: %w", err)
		}
		return nil
	})
}

// PruneSegments removes every segment of a chapter with an id beyond
// keep. A re-split that produced fewer segments than the last run leaves
// orphaned tail rows otherwise, and their stale translations would keep
// flowing into assembly. Returns the number of rows removed.
func (s *VolumeStateStore) PruneSegments(ctx context.Context, chapter string, keep int64) (int, error) {
	var removed int
	err := withBusyRetry(ctx, "segments.prune", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM segments WHERE chapter = ? AND segment_id > ?`,
			chapter, keep,
		)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to prune segments: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count pruned segments: %w", err)
		}
		removed = int(n)
		return nil
	})
	return removed, err
}

// Transition moves a segment along one edge of the state machine. A
// non-nil translated is stored with the new status; errMsg is recorded as
// last_error when the target status is failed and cleared otherwise. Edges
// not in the transition table fail with an invalid-transition error.
func (s *VolumeStateStore) Transition(ctx context.Context, chapter string, segmentID int64, status SegmentStatus, translated *string, errMsg *string) error {
	return withBusyRetry(ctx, "segments.transition", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // no-op after commit

		var current SegmentStatus
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM segments WHERE chapter = ? AND segment_id = ?`,
			chapter, segmentID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("segment not found: %s/%d", chapter, segmentID)
		}
		if err != nil {
			return fmt.Errorf("failed to read segment status: %w", err)
		}

		if !CanTransition(current, status) {
			return NewInvalidTransitionError(
				fmt.Sprintf("segment %s/%d", chapter, segmentID), current, status)
		}

		var lastError *string
		if status == SegmentStatusFailed {
			lastError = errMsg
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE segments
			SET status = ?,
			    translated_text = COALESCE(?, translated_text),
			    last_error = ?,
			    updated_at = CURRENT_TIMESTAMP
			WHERE chapter = ? AND segment_id = ?`,
			status, translated, lastError, chapter, segmentID,
		)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to update segment status: %w", err)
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to commit transition: %w", err)
		}
		return nil
	})
}

// Reopen resets a segment to pending and clears its last error, regardless
// of current status. This is the explicit re-translation request path; it
// is the only way to reopen a proofread segment short of an upstream edit.
func (s *VolumeStateStore) Reopen(ctx context.Context, chapter string, segmentID int64) error {
	return withBusyRetry(ctx, "segments.reopen", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE segments
			SET status = ?, last_error = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE chapter = ? AND segment_id = ?`,
			SegmentStatusPending, chapter, segmentID,
		)
		if err != nil {
			if isBusy(err) {
				return err
			}
			return fmt.Errorf("failed to reopen segment: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("segment not found: %s/%d", chapter, segmentID)
		}
		return nil
	})
}

// PendingSegments returns the IDs of segments still awaiting translation,
// in ascending order. Restartable: an interrupted run re-queries and picks
// up exactly the segments it has not completed.
func (s *VolumeStateStore) PendingSegments(ctx context.Context, chapter string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_id FROM segments
		WHERE chapter = ? AND status = ?
		ORDER BY segment_id ASC`,
		chapter, SegmentStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending segments: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan segment id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return ids, nil
}

// SegmentsByStatus returns the segments of a chapter with the given status,
// ordered by segment ID.
func (s *VolumeStateStore) SegmentsByStatus(ctx context.Context, chapter string, status SegmentStatus) ([]*Segment, error) {
	return s.querySegments(ctx, `
		SELECT chapter, segment_id, status, content_hash, source_text, translated_text, last_error, updated_at
		FROM segments
		WHERE chapter = ? AND status = ?
		ORDER BY segment_id ASC`,
		chapter, status,
	)
}

// Segments returns all segments of a chapter ordered by segment ID.
func (s *VolumeStateStore) Segments(ctx context.Context, chapter string) ([]*Segment, error) {
	return s.querySegments(ctx, `
		SELECT chapter, segment_id, status, content_hash, source_text, translated_text, last_error, updated_at
		FROM segments
		WHERE chapter = ?
		ORDER BY segment_id ASC`,
		chapter,
	)
}

// Segment retrieves a single segment.
func (s *VolumeStateStore) Segment(ctx context.Context, chapter string, segmentID int64) (*Segment, error) {
	seg := &Segment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT chapter, segment_id, status, content_hash, source_text, translated_text, last_error, updated_at
		FROM segments
		WHERE chapter = ? AND segment_id = ?`,
		chapter, segmentID,
	).Scan(
		&seg.Chapter,
		&seg.SegmentID,
		&seg.Status,
		&seg.ContentHash,
		&seg.SourceText,
		&seg.Translated,
		&seg.LastError,
		&seg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("segment not found: %s/%d", chapter, segmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return seg, nil
}

// StatusCounts returns the number of segments per status for a chapter. A
// run that hit failures reports these counts so the caller can decide to
// retry, proceed, or abort.
func (s *VolumeStateStore) StatusCounts(ctx context.Context, chapter string) (map[SegmentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM segments
		WHERE chapter = ?
		GROUP BY status`,
		chapter,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count segments: %w", err)
	}
	defer rows.Close()

	counts := map[SegmentStatus]int{}
	for rows.Next() {
		var status SegmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// Chapters returns the sorted distinct chapter names in this volume.
func (s *VolumeStateStore) Chapters(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT chapter FROM segments ORDER BY chapter ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	defer rows.Close()

	chapters := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan chapter: %w", err)
		}
		chapters = append(chapters, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chapters: %w", err)
	}

	return chapters, nil
}

func (s *VolumeStateStore) querySegments(ctx context.Context, query string, args ...any) ([]*Segment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	segments := []*Segment{}
	for rows.Next() {
		seg := &Segment{}
		err := rows.Scan(
			&seg.Chapter,
			&seg.SegmentID,
			&seg.Status,
			&seg.ContentHash,
			&seg.SourceText,
			&seg.Translated,
			&seg.LastError,
			&seg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return segments, nil
}
