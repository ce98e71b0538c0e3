package pipeline

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/booktrans/booktrans/pkg/llm"
	"github.com/booktrans/booktrans/pkg/stores"
	"github.com/booktrans/booktrans/pkg/telemetry"
	"github.com/booktrans/booktrans/pkg/terms"
)

// pendingTermsFile sits in the volume state dir between discovery and
// approval so the operator can review it with any editor.
const pendingTermsFile = "pending_terms.tsv"

// runDiscovery asks the model for unfamiliar terms in every pending
// segment, collects the candidates, routes them through the approval file,
// and merges the survivors into the glossary. Returns the number of terms
// inserted or updated. Without a glossary store the stage is a no-op.
func (p *Pipeline) runDiscovery(ctx context.Context, chapter string, opts RunOptions, log *telemetry.Logger) (int, error) {
	if p.glossary == nil {
		return 0, nil
	}

	pending, err := p.state.SegmentsByStatus(ctx, chapter, stores.SegmentStatusPending)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	stage := log.WithStage("discovery")
	stage.Infof("scanning %d segments for new terms", len(pending))

	var mu sync.Mutex
	responses := make([]string, 0, len(pending))

	err = p.runPool(ctx, pending, func(ctx context.Context, seg *stores.Segment, wlog *telemetry.Logger) error {
		resp, err := p.withRetry(ctx, wlog, func() (string, error) {
			return p.client.DiscoverTerms(ctx, llm.DiscoverRequest{
				Chapter:    chapter,
				Text:       seg.SourceText,
				SourceLang: p.cfg.Series.SourceLang,
				TargetLang: p.cfg.Series.TargetLang,
			})
		})
		if err != nil {
			// Discovery is advisory. A segment the model could not scan
			// still translates; skip it rather than mark it failed.
			wlog.WithError(err).Warn("term discovery failed for segment, skipping")
			return nil
		}
		mu.Lock()
		responses = append(responses, resp)
		mu.Unlock()
		return nil
	}, stage)
	if err != nil {
		return 0, err
	}

	candidates := terms.CollectCandidates(responses)
	candidates, err = p.filterKnown(ctx, candidates)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		stage.Info("no new terms found")
		return 0, nil
	}

	tsvPath := filepath.Join(p.volume.StateDir, pendingTermsFile)
	if err := terms.WriteApprovalTSV(tsvPath, candidates); err != nil {
		return 0, err
	}

	if opts.WaitForApproval {
		stage.Infof("%d candidate terms written to %s, waiting for review", len(candidates), tsvPath)
		if err := terms.WaitForEdit(ctx, tsvPath); err != nil {
			return 0, err
		}
		candidates, err = terms.ReadTSVFile(tsvPath)
		if err != nil {
			return 0, err
		}
	}

	policy := opts.MergePolicy
	if policy == "" {
		policy = stores.MergeKeepExisting
	}
	report, err := p.glossary.BulkMerge(ctx, candidates, policy)
	if err != nil {
		return 0, err
	}
	stage.Infof("glossary merge: %d inserted, %d updated, %d unchanged, %d flagged",
		report.Inserted, report.Updated, report.Unchanged, report.Flagged)
	return report.Inserted + report.Updated, nil
}

// filterKnown drops candidates already present in the glossary so the
// approval file only shows genuinely new terms.
func (p *Pipeline) filterKnown(ctx context.Context, candidates []stores.TermCandidate) ([]stores.TermCandidate, error) {
	fresh := candidates[:0]
	for _, cand := range candidates {
		existing, err := p.glossary.Lookup(ctx, cand.Term)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			fresh = append(fresh, cand)
		}
	}
	return fresh, nil
}
