package commands

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/booktrans/booktrans/pkg/export"
	"github.com/booktrans/booktrans/pkg/llm"
	"github.com/booktrans/booktrans/pkg/paths"
	"github.com/booktrans/booktrans/pkg/pipeline"
	"github.com/booktrans/booktrans/pkg/stores"
	"github.com/booktrans/booktrans/pkg/telemetry"
)

const summaryRounding = 100 * time.Millisecond

func newTranslateCommand() *cobra.Command {
	var (
		force         bool
		retryFailed   bool
		skipProofread bool
		skipDiscovery bool
		approveTerms  bool
		toDocx        bool
		onConflict    string
	)

	cmd := &cobra.Command{
		Use:   "translate <chapter-file>",
		Short: "Translate a chapter",
		Long: `Translate one chapter through the full pipeline: term discovery,
translation, proofreading, and assembly into the volume output directory.

Progress is checkpointed per segment in the volume state database, so an
interrupted run picks up where it stopped. Segments whose source text
changed since the last run are re-translated automatically.`,
		Example: `  # Translate a chapter
  booktrans translate overlord/volume-01/source/ch01.txt

  # Retry segments that failed last time
  booktrans translate overlord/volume-01/source/ch01.txt --retry-failed

  # Rebuild from scratch
  booktrans translate overlord/volume-01/source/ch01.txt --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			root, cfg, err := discoverSeries()
			if err != nil {
				return err
			}

			volume, chapter, err := paths.ResolveVolumeFromChapter(root, args[0])
			if err != nil {
				return err
			}

			vp, err := paths.ForVolume(root, volume)
			if err != nil {
				return err
			}
			if err := paths.EnsureVolumeDirs(vp); err != nil {
				return err
			}
			sp, err := paths.ForSeries(root, volume)
			if err != nil {
				return err
			}

			policy := stores.MergePolicy(onConflict)
			if !policy.Valid() {
				return fmt.Errorf("invalid --on-conflict value %q", onConflict)
			}

			if force {
				if err := os.Remove(vp.StateDB); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to clear volume state: %w", err)
				}
				log.Info().Str("volume", volume).Msg("Cleared volume state")
			}

			apiKey := os.Getenv("OPENAI_API_KEY")
			if apiKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is not set")
			}

			prompts, err := resolvePrompts(root)
			if err != nil {
				return err
			}

			logger, err := newRunLogger(vp)
			if err != nil {
				return err
			}

			client, err := llm.NewOpenAIClient(llm.Options{
				APIKey:      apiKey,
				BaseURL:     os.Getenv("OPENAI_BASE_URL"),
				Model:       cfg.Model.Name,
				Temperature: cfg.Model.Temperature,
				MaxRPS:      cfg.Model.MaxRPS,
				Prompts:     prompts,
			}, logger.Zerolog())
			if err != nil {
				return err
			}

			glossary, err := openGlossary(ctx, sp.GlossaryDB, cfg)
			if err != nil {
				return err
			}
			defer glossary.Close()

			state, err := openVolumeState(ctx, vp.StateDB)
			if err != nil {
				return err
			}
			defer state.Close()

			p, err := pipeline.New(pipeline.Options{
				Client:   client,
				Glossary: glossary,
				State:    state,
				Config:   cfg,
				Series:   sp,
				Volume:   vp,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			summary, err := p.Run(ctx, chapter, pipeline.RunOptions{
				SkipDiscovery:   skipDiscovery,
				SkipProofread:   skipProofread,
				RetryFailed:     retryFailed,
				MergePolicy:     policy,
				WaitForApproval: approveTerms,
			})
			if err != nil {
				return err
			}

			printSummary(summary)
			if summary.OutputPath == "" {
				return fmt.Errorf("chapter %s has unfinished segments, rerun with --retry-failed", chapter)
			}

			if toDocx {
				docxOut := docxPath(summary.OutputPath)
				if err := export.ConvertFile(summary.OutputPath, docxOut); err != nil {
					return err
				}
				fmt.Printf("✓ Wrote %s\n", docxOut)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "discard volume state and start over")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "reopen failed segments before translating")
	cmd.Flags().BoolVar(&skipProofread, "skip-proofread", false, "skip the proofreading pass")
	cmd.Flags().BoolVar(&skipDiscovery, "skip-discovery", false, "skip the term discovery stage")
	cmd.Flags().BoolVar(&approveTerms, "approve", false, "pause for manual review of discovered terms")
	cmd.Flags().BoolVar(&toDocx, "docx", false, "also convert the assembled chapter to DOCX")
	cmd.Flags().StringVar(&onConflict, "on-conflict", string(stores.MergeKeepExisting),
		"glossary merge policy for discovered terms: keep-existing, prefer-new, or flag-conflict")

	return cmd
}

// resolvePrompts loads series prompt overrides for every known prompt
// name. Missing overrides fall back to the bundled templates inside the
// client.
func resolvePrompts(root string) (map[string]string, error) {
	prompts := map[string]string{}
	for _, name := range []string{llm.PromptTranslation, llm.PromptProofreading, llm.PromptTermDiscovery} {
		text, err := paths.ResolvePrompt(root, name, llm.BundledPrompts)
		if err != nil {
			return nil, err
		}
		prompts[name] = text
	}
	return prompts, nil
}

// newRunLogger writes structured logs into the volume logs directory and
// keeps console output on stderr via the global zerolog logger.
func newRunLogger(vp paths.VolumePaths) (*telemetry.Logger, error) {
	level := "info"
	if verbose {
		level = "debug"
	}
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  level,
		Format: "json",
		Output: fmt.Sprintf("%s/run.log", vp.LogsDir),
	})
}

func printSummary(summary *pipeline.Summary) {
	fmt.Printf("\nChapter %s finished in %s\n", summary.Chapter, summary.Duration.Round(summaryRounding))
	if summary.TermsAdded > 0 {
		fmt.Printf("  glossary terms added: %d\n", summary.TermsAdded)
	}

	statuses := make([]string, 0, len(summary.Counts))
	for status := range summary.Counts {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Printf("  %-12s %d\n", status, summary.Counts[stores.SegmentStatus(status)])
	}

	if summary.OutputPath != "" {
		fmt.Printf("✓ Output written to %s\n", summary.OutputPath)
	}
}
