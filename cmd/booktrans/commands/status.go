package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/booktrans/booktrans/pkg/paths"
	"github.com/booktrans/booktrans/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "status <volume>",
		Short: "Show translation progress for a volume",
		Long: `Show per-chapter segment status for a volume, read from its state
database. With --failed, list the failed segments and their recorded
errors instead of the per-chapter tally.`,
		Example: `  booktrans status volume-01
  booktrans status volume-01 --failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			root, _, err := discoverSeries()
			if err != nil {
				return err
			}
			vp, err := paths.ForVolume(root, args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(vp.StateDB); err != nil {
				return fmt.Errorf("volume %s has no state yet, nothing translated", args[0])
			}

			state, err := openVolumeState(ctx, vp.StateDB)
			if err != nil {
				return err
			}
			defer state.Close()

			chapters, err := state.Chapters(ctx)
			if err != nil {
				return err
			}
			if len(chapters) == 0 {
				fmt.Println("no chapters registered")
				return nil
			}

			if failedOnly {
				return printFailed(cmd, state, chapters)
			}

			for _, chapter := range chapters {
				counts, err := state.StatusCounts(ctx, chapter)
				if err != nil {
					return err
				}
				total := 0
				for _, n := range counts {
					total += n
				}
				done := counts[stores.SegmentStatusProofread]
				fmt.Printf("%-20s %3d/%3d proofread", chapter, done, total)
				if n := counts[stores.SegmentStatusTranslated]; n > 0 {
					fmt.Printf(", %d translated", n)
				}
				if n := counts[stores.SegmentStatusPending]; n > 0 {
					fmt.Printf(", %d pending", n)
				}
				if n := counts[stores.SegmentStatusFailed]; n > 0 {
					fmt.Printf(", %d FAILED", n)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "list failed segments with their errors")
	return cmd
}

func printFailed(cmd *cobra.Command, state *stores.VolumeStateStore, chapters []string) error {
	ctx := cmd.Context()
	found := false
	for _, chapter := range chapters {
		segs, err := state.SegmentsByStatus(ctx, chapter, stores.SegmentStatusFailed)
		if err != nil {
			return err
		}
		for _, seg := range segs {
			found = true
			msg := ""
			if seg.LastError != nil {
				msg = *seg.LastError
			}
			fmt.Printf("%s/%d: %s\n", chapter, seg.SegmentID, msg)
		}
	}
	if !found {
		fmt.Println("no failed segments")
	}
	return nil
}
