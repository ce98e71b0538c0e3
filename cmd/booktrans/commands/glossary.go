package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/booktrans/booktrans/pkg/paths"
	"github.com/booktrans/booktrans/pkg/stores"
	"github.com/booktrans/booktrans/pkg/terms"
)

func newGlossaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: "Manage the series glossary",
		Long: `Manage the shared terminology glossary for the series.

The glossary keeps translated terms consistent across chapters and
volumes. Entries are exchanged as tab-separated values so they can be
reviewed in any spreadsheet or text editor.`,
	}

	cmd.AddCommand(newGlossaryListCommand())
	cmd.AddCommand(newGlossaryAddCommand())
	cmd.AddCommand(newGlossaryRemoveCommand())
	cmd.AddCommand(newGlossaryExportCommand())
	cmd.AddCommand(newGlossaryImportCommand())

	return cmd
}

// withGlossary opens the series glossary, runs fn, and closes it.
func withGlossary(cmd *cobra.Command, fn func(store *stores.GlossaryStore) error) error {
	root, cfg, err := discoverSeries()
	if err != nil {
		return err
	}
	sp, err := paths.ForSeries(root, "")
	if err != nil {
		return err
	}
	store, err := openGlossary(cmd.Context(), sp.GlossaryDB, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newGlossaryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List glossary entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGlossary(cmd, func(store *stores.GlossaryStore) error {
				entries, err := store.Export(cmd.Context())
				if err != nil {
					return err
				}
				for _, e := range entries {
					if e.Context != "" {
						fmt.Printf("%s\t%s\t# %s\n", e.Term, e.Translation, e.Context)
					} else {
						fmt.Printf("%s\t%s\n", e.Term, e.Translation)
					}
				}
				fmt.Fprintf(os.Stderr, "%d entries\n", len(entries))
				return nil
			})
		},
	}
}

func newGlossaryAddCommand() *cobra.Command {
	var termContext string

	cmd := &cobra.Command{
		Use:   "add <term> <translation>",
		Short: "Add or update a glossary entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGlossary(cmd, func(store *stores.GlossaryStore) error {
				if err := store.Upsert(cmd.Context(), args[0], args[1], termContext); err != nil {
					return err
				}
				fmt.Printf("✓ %s = %s\n", args[0], args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&termContext, "context", "", "usage note stored with the entry")
	return cmd
}

func newGlossaryRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <term>",
		Short: "Remove a glossary entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGlossary(cmd, func(store *stores.GlossaryStore) error {
				removed, err := store.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("term %q not found", args[0])
				}
				fmt.Printf("✓ Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func newGlossaryExportCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the glossary as TSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGlossary(cmd, func(store *stores.GlossaryStore) error {
				entries, err := store.Export(cmd.Context())
				if err != nil {
					return err
				}

				out := os.Stdout
				if outPath != "" {
					f, err := os.Create(outPath)
					if err != nil {
						return err
					}
					defer f.Close()
					out = f
				}

				n, err := terms.WriteTSV(out, entries)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "exported %d entries\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func newGlossaryImportCommand() *cobra.Command {
	var (
		onConflict string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.tsv>",
		Short: "Import terms from a TSV file",
		Long: `Import terms from a tab-separated file into the glossary.

Each data line is "term<TAB>translation<TAB>context"; the context column
is optional and lines starting with # are ignored. The --on-conflict
policy decides what happens when an imported term already exists with a
different translation. With --watch, the import waits for the file to be
edited and saved before reading it, so it can be reviewed in an editor
first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := stores.MergePolicy(onConflict)
			if !policy.Valid() {
				return fmt.Errorf("invalid --on-conflict value %q", onConflict)
			}

			if watch {
				fmt.Fprintf(os.Stderr, "waiting for %s to be edited...\n", args[0])
				if err := terms.WaitForEdit(cmd.Context(), args[0]); err != nil {
					return err
				}
			}

			candidates, err := terms.ReadTSVFile(args[0])
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return fmt.Errorf("no importable entries in %s", args[0])
			}

			return withGlossary(cmd, func(store *stores.GlossaryStore) error {
				report, err := store.BulkMerge(cmd.Context(), candidates, policy)
				if err != nil {
					return err
				}

				fmt.Printf("✓ Imported %s: %d inserted, %d updated, %d unchanged, %d skipped\n",
					args[0], report.Inserted, report.Updated, report.Unchanged, report.Skipped)
				for _, conflict := range report.Conflicts {
					fmt.Printf("  conflict: %s is %q, proposed %q kept aside\n",
						conflict.Term, conflict.Existing, conflict.Proposed)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&onConflict, "on-conflict", "",
		"merge policy: keep-existing, prefer-new, or flag-conflict (required)")
	cmd.Flags().BoolVar(&watch, "watch", false, "wait for the file to be edited before importing")
	_ = cmd.MarkFlagRequired("on-conflict")

	return cmd
}
