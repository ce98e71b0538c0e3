package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/booktrans/booktrans/pkg/config"
	"github.com/booktrans/booktrans/pkg/paths"
)

func newInitCommand() *cobra.Command {
	var (
		name       string
		sourceLang string
		targetLang string
		volume     string
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a series directory",
		Long: `Initialize a series directory with a booktrans.toml marker, the shared
glossary database, and optionally a first volume skeleton.`,
		Example: `  # Initialize the current directory as a series
  booktrans init --name overlord

  # Initialize with a first volume
  booktrans init ./overlord --name overlord --volume volume-01`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			root, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("failed to create series directory: %w", err)
			}

			log.Info().Str("root", root).Str("name", name).Msg("Initializing series")

			cfg := config.Default()
			cfg.Series.Name = name
			if sourceLang != "" {
				cfg.Series.SourceLang = sourceLang
			}
			if targetLang != "" {
				cfg.Series.TargetLang = targetLang
			}

			if err := config.Write(root, cfg); err != nil {
				return fmt.Errorf("failed to write %s: %w", config.MarkerFile, err)
			}
			fmt.Printf("✓ Wrote %s\n", filepath.Join(root, config.MarkerFile))

			if err := os.MkdirAll(filepath.Join(root, "prompts"), 0o755); err != nil {
				return fmt.Errorf("failed to create prompts directory: %w", err)
			}
			fmt.Printf("✓ Created prompts directory\n")

			sp, err := paths.ForSeries(root, "")
			if err != nil {
				return err
			}
			glossary, err := openGlossary(cmd.Context(), sp.GlossaryDB, &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize glossary database: %w", err)
			}
			defer glossary.Close()
			fmt.Printf("✓ Initialized glossary database: %s\n", sp.GlossaryDB)

			if volume != "" {
				vp, err := paths.ForVolume(root, volume)
				if err != nil {
					return err
				}
				if err := paths.EnsureVolumeDirs(vp); err != nil {
					return fmt.Errorf("failed to create volume directories: %w", err)
				}
				fmt.Printf("✓ Created volume skeleton: %s\n", vp.VolumeDir)
			}

			fmt.Printf("\nSeries ready. Drop chapter .txt files into <volume>/source and run:\n")
			fmt.Printf("  booktrans translate <volume>/source/<chapter>.txt\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "series name (required)")
	cmd.Flags().StringVar(&sourceLang, "source-lang", "", "source language code (default ja)")
	cmd.Flags().StringVar(&targetLang, "target-lang", "", "target language code (default ru)")
	cmd.Flags().StringVar(&volume, "volume", "", "also create a volume skeleton with this name")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
