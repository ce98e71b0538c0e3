package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/booktrans/booktrans/pkg/config"
	"github.com/booktrans/booktrans/pkg/stores"
)

var (
	// Global flags
	seriesDir string
	verbose   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "booktrans",
		Short: "Booktrans - LLM-assisted book translation",
		Long: `Booktrans translates book chapters with an LLM while keeping
terminology consistent across a whole series.

A series is a directory marked by a booktrans.toml file. It holds a shared
glossary database plus one directory per volume with source chapters,
translated output, and a per-volume state database that makes interrupted
runs resumable.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&seriesDir, "series", "s", "", "series root directory (default: walk up from cwd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newTranslateCommand())
	rootCmd.AddCommand(newGlossaryCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newExportDocxCommand())

	return rootCmd
}

// discoverSeries resolves the series root from --series or by walking up
// from the working directory.
func discoverSeries() (string, *config.Config, error) {
	start := seriesDir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", nil, err
		}
		start = wd
	}

	root, cfg, err := config.Discover(start)
	if err != nil {
		return "", nil, fmt.Errorf("no series found from %s (missing %s): %w", start, config.MarkerFile, err)
	}
	return root, cfg, nil
}

// openGlossary opens and migrates the series glossary store. The caller
// owns Close.
func openGlossary(ctx context.Context, dbPath string, cfg *config.Config) (*stores.GlossaryStore, error) {
	store, err := stores.NewGlossaryStore(stores.GlossaryConfig{
		Config:     stores.Config{Path: dbPath},
		SourceLang: cfg.Series.SourceLang,
		TargetLang: cfg.Series.TargetLang,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// openVolumeState opens and migrates a volume state store. The caller
// owns Close.
func openVolumeState(ctx context.Context, dbPath string) (*stores.VolumeStateStore, error) {
	store, err := stores.NewVolumeStateStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
