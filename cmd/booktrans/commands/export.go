package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/booktrans/booktrans/pkg/export"
)

func newExportDocxCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export-docx <chapter.txt>",
		Short: "Convert an assembled chapter to DOCX",
		Long: `Convert an assembled chapter text file to a Word document. Blank lines
separate paragraphs; the output lands next to the input unless --out is
given.`,
		Example: `  booktrans export-docx overlord/volume-01/output/ch01.txt`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outPath
			if out == "" {
				out = docxPath(args[0])
			}
			if !strings.HasSuffix(out, ".docx") {
				return fmt.Errorf("output file must have a .docx extension")
			}

			if err := export.ConvertFile(args[0], out); err != nil {
				return err
			}
			fmt.Printf("✓ Wrote %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output .docx path (default: input with .docx extension)")
	return cmd
}

// docxPath swaps a file's extension for .docx.
func docxPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".docx"
}
