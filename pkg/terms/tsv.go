// Package terms handles glossary exchange formats: the TSV import/export
// format, the TSV approval buffer for discovered terms, and parsing of
// term-discovery model responses.
package terms

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/booktrans/booktrans/pkg/stores"
)

// TSVHeader is the comment line written at the top of every export.
const TSVHeader = "# source_term\ttarget_term\tcomment"

// WriteTSV writes entries in the term<TAB>translation<TAB>context format.
// Returns the number of data lines written.
func WriteTSV(w io.Writer, entries []stores.GlossaryEntry) (int, error) {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, TSVHeader); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	for _, entry := range entries {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\n", entry.Term, entry.Translation, entry.Context); err != nil {
			return 0, fmt.Errorf("failed to write term %q: %w", entry.Term, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush output: %w", err)
	}
	return len(entries), nil
}

// ParseTSV reads candidates from the TSV format. Blank lines and lines
// starting with # are skipped, as are lines with fewer than two columns;
// the approval workflow relies on users deleting or commenting out rows.
func ParseTSV(r io.Reader) ([]stores.TermCandidate, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	candidates := []stores.TermCandidate{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}

		cand := stores.TermCandidate{
			Term:        strings.TrimSpace(parts[0]),
			Translation: strings.TrimSpace(parts[1]),
		}
		if len(parts) > 2 {
			cand.Context = strings.TrimSpace(parts[2])
		}
		if cand.Term == "" || cand.Translation == "" {
			continue
		}
		candidates = append(candidates, cand)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tsv: %w", err)
	}
	return candidates, nil
}

// WriteApprovalTSV writes discovered candidates to path with editing
// instructions, for the user to review before import.
func WriteApprovalTSV(path string, candidates []stores.TermCandidate) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create approval buffer: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# Review the discovered terms below.")
	fmt.Fprintln(w, "# Delete rows you do not want; fix translations in place.")
	fmt.Fprintln(w, TSVHeader)
	for _, cand := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%s\n", cand.Term, cand.Translation, cand.Context)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write approval buffer: %w", err)
	}
	return f.Close()
}

// ReadTSVFile parses candidates from a file on disk.
func ReadTSVFile(path string) ([]stores.TermCandidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ParseTSV(f)
}
