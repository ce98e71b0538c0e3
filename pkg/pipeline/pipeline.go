// Package pipeline orchestrates a chapter translation run: segment
// registration, term discovery, translation, proofreading, and final
// assembly. Segment status in the volume state store is the checkpoint
// mechanism, so an interrupted run resumes from whatever survived.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/booktrans/booktrans/pkg/config"
	"github.com/booktrans/booktrans/pkg/llm"
	"github.com/booktrans/booktrans/pkg/paths"
	"github.com/booktrans/booktrans/pkg/splitter"
	"github.com/booktrans/booktrans/pkg/stores"
	"github.com/booktrans/booktrans/pkg/telemetry"
)

const maxAttempts = 3

// Options wires a pipeline to its collaborators. Client and State are
// required; Glossary may be nil for runs without a series glossary.
type Options struct {
	Client   llm.Client
	Glossary *stores.GlossaryStore
	State    *stores.VolumeStateStore
	Config   *config.Config
	Series   paths.SeriesPaths
	Volume   paths.VolumePaths
	Logger   *telemetry.Logger
}

// RunOptions control a single chapter run.
type RunOptions struct {
	// SkipDiscovery bypasses the term discovery stage.
	SkipDiscovery bool

	// SkipProofread bypasses the proofreading pass; assembly then uses
	// the raw translations.
	SkipProofread bool

	// RetryFailed reopens failed segments before the translation stage.
	RetryFailed bool

	// MergePolicy governs how approved terms merge into the glossary.
	// Empty defaults to keep-existing.
	MergePolicy stores.MergePolicy

	// WaitForApproval blocks after writing the pending-terms file until
	// the operator edits it. Non-interactive runs merge the candidates
	// as written.
	WaitForApproval bool
}

// Summary reports the outcome of a run. Counts is the per-status segment
// tally at the end; OutputPath is empty when assembly was skipped because
// segments remained unfinished.
type Summary struct {
	RunID      string
	Chapter    string
	Counts     map[stores.SegmentStatus]int
	TermsAdded int
	OutputPath string
	Duration   time.Duration
}

// Pipeline runs chapters through the translation stages. Safe to reuse
// across chapters; each Run is independent.
type Pipeline struct {
	client   llm.Client
	glossary *stores.GlossaryStore
	state    *stores.VolumeStateStore
	cfg      *config.Config
	series   paths.SeriesPaths
	volume   paths.VolumePaths
	split    *splitter.Splitter
	log      *telemetry.Logger

	// retryBase is the backoff unit for model call retries.
	retryBase time.Duration
}

// New validates the wiring and returns a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("pipeline: model client is required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("pipeline: volume state store is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("pipeline: config is required")
	}

	log := opts.Logger
	if log == nil {
		log = telemetry.FromZerolog(zerolog.Nop())
	}

	sc := opts.Config.Splitter
	return &Pipeline{
		client:    opts.Client,
		glossary:  opts.Glossary,
		state:     opts.State,
		cfg:       opts.Config,
		series:    opts.Series,
		volume:    opts.Volume,
		split:     splitter.New(sc.TargetChunkSize, sc.MaxPartChars, sc.MinChunkSize),
		log:       log.NewComponentLogger("pipeline"),
		retryBase: time.Second,
	}, nil
}

// Run translates one chapter end to end and returns the outcome summary.
// Segment failures mark the segment failed and the run continues; only
// cancellation and store unavailability abort.
func (p *Pipeline) Run(ctx context.Context, chapter string, opts RunOptions) (*Summary, error) {
	start := time.Now()
	runID := uuid.New().String()
	log := p.log.WithChapter(chapter).WithField("run_id", runID)
	log.Info("starting chapter run")

	segs, err := p.registerSegments(ctx, chapter, log)
	if err != nil {
		return nil, err
	}

	if opts.RetryFailed {
		if err := p.reopenFailed(ctx, chapter, log); err != nil {
			return nil, err
		}
	}

	summary := &Summary{RunID: runID, Chapter: chapter}

	if !opts.SkipDiscovery {
		added, err := p.runDiscovery(ctx, chapter, opts, log)
		if err != nil {
			return nil, err
		}
		summary.TermsAdded = added
	}

	if err := p.runTranslation(ctx, chapter, segs, log); err != nil {
		return nil, err
	}

	if !opts.SkipProofread {
		if err := p.runProofreading(ctx, chapter, log); err != nil {
			return nil, err
		}
	}

	counts, err := p.state.StatusCounts(ctx, chapter)
	if err != nil {
		return nil, err
	}
	summary.Counts = counts

	if counts[stores.SegmentStatusPending] > 0 || counts[stores.SegmentStatusFailed] > 0 {
		log.Warnf("%d segment(s) unfinished, skipping assembly",
			counts[stores.SegmentStatusPending]+counts[stores.SegmentStatusFailed])
	} else {
		out, err := p.assemble(ctx, chapter)
		if err != nil {
			return nil, err
		}
		summary.OutputPath = out
	}

	summary.Duration = time.Since(start)
	log.WithField("duration", summary.Duration.String()).Info("chapter run finished")
	return summary, nil
}

// registerSegments splits the chapter source and registers every segment.
// Registration is idempotent; segments whose source text changed upstream
// reset to pending inside the store. The in-memory segments are returned
// so the translation stage can hand each one its predecessor as context.
func (p *Pipeline) registerSegments(ctx context.Context, chapter string, log *telemetry.Logger) ([]splitter.Segment, error) {
	src := paths.ChapterSourcePath(p.volume, chapter)
	raw, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read chapter source: %w", err)
	}

	segs := p.split.Split(string(raw))
	for _, seg := range segs {
		if err := p.state.RegisterSegment(ctx, chapter, seg.ID, seg.Text, seg.Hash); err != nil {
			return nil, fmt.Errorf("register segment %d: %w", seg.ID, err)
		}
	}

	// A shrunken source leaves rows past the new segment count; without
	// this their old translations would survive into assembly.
	removed, err := p.state.PruneSegments(ctx, chapter, int64(len(segs)))
	if err != nil {
		return nil, fmt.Errorf("prune stale segments: %w", err)
	}
	if removed > 0 {
		log.Infof("removed %d stale segments after re-split", removed)
	}

	log.Infof("registered %d segments", len(segs))
	return segs, nil
}

func (p *Pipeline) reopenFailed(ctx context.Context, chapter string, log *telemetry.Logger) error {
	failed, err := p.state.SegmentsByStatus(ctx, chapter, stores.SegmentStatusFailed)
	if err != nil {
		return err
	}
	for _, seg := range failed {
		if err := p.state.Reopen(ctx, chapter, seg.SegmentID); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		log.Infof("reopened %d failed segments", len(failed))
	}
	return nil
}

// runTranslation drives pending segments through the model with a bounded
// worker pool. A segment that exhausts its retries transitions to failed
// and the stage keeps going; store unavailability aborts the stage.
func (p *Pipeline) runTranslation(ctx context.Context, chapter string, segs []splitter.Segment, log *telemetry.Logger) error {
	pending, err := p.state.SegmentsByStatus(ctx, chapter, stores.SegmentStatusPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Debug("no pending segments, translation stage is a no-op")
		return nil
	}

	glossary, err := p.exportGlossary(ctx)
	if err != nil {
		return err
	}
	styleGuide := readOptional(p.series.StyleGuide)
	worldInfo := readOptional(p.series.WorldInfo)

	// Context for each segment is its predecessor's source text.
	contexts := make(map[int64]string, len(segs))
	for i := 1; i < len(segs); i++ {
		contexts[segs[i].ID] = segs[i-1].Text
	}

	stage := log.WithStage("translation")
	stage.Infof("translating %d segments", len(pending))

	return p.runPool(ctx, pending, func(ctx context.Context, seg *stores.Segment, wlog *telemetry.Logger) error {
		text, err := p.withRetry(ctx, wlog, func() (string, error) {
			return p.client.TranslateSegment(ctx, llm.TranslateRequest{
				Chapter:    chapter,
				SegmentID:  seg.SegmentID,
				Text:       seg.SourceText,
				Context:    contexts[seg.SegmentID],
				Glossary:   glossary,
				StyleGuide: styleGuide,
				WorldInfo:  worldInfo,
			})
		})
		if err != nil {
			return p.markFailed(ctx, chapter, seg.SegmentID, err, wlog)
		}
		return p.state.Transition(ctx, chapter, seg.SegmentID, stores.SegmentStatusTranslated, &text, nil)
	}, stage)
}

// runProofreading gives every translated segment a second pass. The
// predecessor's translation is not passed here; the proofread prompt
// works from the segment's own source and draft.
func (p *Pipeline) runProofreading(ctx context.Context, chapter string, log *telemetry.Logger) error {
	translated, err := p.state.SegmentsByStatus(ctx, chapter, stores.SegmentStatusTranslated)
	if err != nil {
		return err
	}
	if len(translated) == 0 {
		return nil
	}

	glossary, err := p.exportGlossary(ctx)
	if err != nil {
		return err
	}
	styleGuide := readOptional(p.series.StyleGuide)

	stage := log.WithStage("proofreading")
	stage.Infof("proofreading %d segments", len(translated))

	return p.runPool(ctx, translated, func(ctx context.Context, seg *stores.Segment, wlog *telemetry.Logger) error {
		draft := ""
		if seg.Translated != nil {
			draft = *seg.Translated
		}
		text, err := p.withRetry(ctx, wlog, func() (string, error) {
			return p.client.ProofreadSegment(ctx, llm.ProofreadRequest{
				Chapter:    chapter,
				SegmentID:  seg.SegmentID,
				SourceText: seg.SourceText,
				Translated: draft,
				Glossary:   glossary,
				StyleGuide: styleGuide,
			})
		})
		if err != nil {
			return p.markFailed(ctx, chapter, seg.SegmentID, err, wlog)
		}
		return p.state.Transition(ctx, chapter, seg.SegmentID, stores.SegmentStatusProofread, &text, nil)
	}, stage)
}

// assemble writes the finished segments, in order, to the chapter output
// file. Callers only reach this once every segment carries a translation.
func (p *Pipeline) assemble(ctx context.Context, chapter string) (string, error) {
	segs, err := p.state.Segments(ctx, chapter)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg.Translated == nil {
			return "", fmt.Errorf("segment %s/%d has no translation", chapter, seg.SegmentID)
		}
		parts = append(parts, *seg.Translated)
	}

	out := paths.ChapterOutputPath(p.volume, chapter)
	if err := os.WriteFile(out, []byte(strings.Join(parts, "\n\n")), 0o644); err != nil {
		return "", fmt.Errorf("write chapter output: %w", err)
	}
	return out, nil
}

// workFunc processes one segment. Returning an error aborts the whole
// stage; per-segment failures are absorbed via markFailed instead.
type workFunc func(ctx context.Context, seg *stores.Segment, wlog *telemetry.Logger) error

// runPool fans segments out to a bounded worker pool and waits for all of
// them. The first stage-fatal error wins.
func (p *Pipeline) runPool(ctx context.Context, segs []*stores.Segment, fn workFunc, log *telemetry.Logger) error {
	workerCount := p.cfg.Workers.MaxConcurrent
	if workerCount <= 0 {
		workerCount = 1
	}
	if len(segs) < workerCount {
		workerCount = len(segs)
	}

	workQueue := make(chan *stores.Segment, len(segs))
	for _, seg := range segs {
		workQueue <- seg
	}
	close(workQueue)

	var wg sync.WaitGroup
	errChan := make(chan error, len(segs))

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			wlog := log.WithField("worker_id", uuid.New().String()[:8])
			for seg := range workQueue {
				if err := fn(ctx, seg, wlog.WithSegment(seg.SegmentID)); err != nil {
					errChan <- fmt.Errorf("segment %d: %w", seg.SegmentID, err)
				}

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(errChan)

	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// markFailed records a segment failure and absorbs it unless the store
// itself is down, which must abort the stage.
func (p *Pipeline) markFailed(ctx context.Context, chapter string, segmentID int64, cause error, log *telemetry.Logger) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	msg := cause.Error()
	log.WithError(cause).Warn("segment failed, continuing with remaining segments")
	if err := p.state.Transition(ctx, chapter, segmentID, stores.SegmentStatusFailed, nil, &msg); err != nil {
		if stores.IsUnavailable(err) {
			return err
		}
		log.WithError(err).Error("could not record segment failure")
	}
	return nil
}

// withRetry runs a model call up to maxAttempts times with exponential
// backoff between attempts.
func (p *Pipeline) withRetry(ctx context.Context, log *telemetry.Logger, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			log.Debugf("retrying after failure (attempt %d/%d)", attempt+1, maxAttempts)
			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}

// backoff returns retryBase * 2^(attempt-1) with a fixed smoothing bump,
// capped at 30 units.
func (p *Pipeline) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.retryBase) * math.Pow(2, float64(attempt-1)))
	if limit := 30 * p.retryBase; delay > limit {
		delay = limit
	}
	jitter := time.Duration(float64(delay) * 0.25)
	return delay + jitter/2
}

func (p *Pipeline) exportGlossary(ctx context.Context) ([]stores.GlossaryEntry, error) {
	if p.glossary == nil {
		return nil, nil
	}
	return p.glossary.Export(ctx)
}

// readOptional loads a context document; an empty path means the series
// does not carry one.
func readOptional(path string) string {
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(raw)
}
