// Package splitter breaks chapter text into translation segments.
//
// Text is parsed into paragraph blocks (blank-line separated; a scene
// marker line closes its block) which accumulate into segments up to the
// target size. A block that would push a segment past the target starts a
// new one, unless it opens with dialogue, which stays attached to its
// narration up to the hard maximum.
package splitter

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// Segment is one ordered chunk of a chapter. Context carries the previous
// segment's text so the translator sees the running scene. Hash identifies
// the source text for upstream-edit detection.
type Segment struct {
	ID      int64
	Text    string
	Context string
	Hash    string
}

// Splitter carries the size bounds, in runes. Target is the soft limit a
// paragraph boundary respects; Max is the hard limit; Min folds a trailing
// runt into the previous segment.
type Splitter struct {
	Target int
	Max    int
	Min    int
}

// New returns a splitter with the given bounds. Max below Target is raised
// to Target; a non-positive Min disables runt folding.
func New(target, max, min int) *Splitter {
	if target <= 0 {
		target = 600
	}
	if max < target {
		max = target
	}
	return &Splitter{Target: target, Max: max, Min: min}
}

// Hash returns the hex SHA-256 of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Split breaks text into ordered segments. IDs are 1-based. Whitespace-only
// input yields no segments.
func (s *Splitter) Split(text string) []Segment {
	blocks := parseBlocks(text)

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, "\n\n"))
		current = nil
		currentLen = 0
	}

	for _, block := range blocks {
		blockLen := utf8.RuneCountInString(block)

		if currentLen > 0 && currentLen+blockLen > s.Max {
			flush()
		} else if currentLen > 0 && currentLen+blockLen > s.Target && !startsDialogue(block) {
			flush()
		}

		// A single block past the hard limit is split mid-paragraph.
		for blockLen > s.Max {
			head, tail := cutRunes(block, s.Max)
			chunks = append(chunks, head)
			block = tail
			blockLen = utf8.RuneCountInString(block)
		}

		current = append(current, block)
		currentLen += blockLen
	}
	flush()

	// Fold a trailing runt into its predecessor.
	if s.Min > 0 && len(chunks) >= 2 {
		last := chunks[len(chunks)-1]
		if utf8.RuneCountInString(last) < s.Min {
			chunks[len(chunks)-2] = chunks[len(chunks)-2] + "\n\n" + last
			chunks = chunks[:len(chunks)-1]
		}
	}

	segments := make([]Segment, 0, len(chunks))
	for i, chunk := range chunks {
		seg := Segment{
			ID:   int64(i + 1),
			Text: chunk,
			Hash: Hash(chunk),
		}
		if i > 0 {
			seg.Context = chunks[i-1]
		}
		segments = append(segments, seg)
	}
	return segments
}

// parseBlocks splits text into paragraph blocks. Blank lines separate
// blocks; a scene marker line ends its block and stays inside it, so a
// break lands right after the scene change.
func parseBlocks(text string) []string {
	var blocks []string
	var current []string

	endBlock := func() {
		if len(current) == 0 {
			return
		}
		block := strings.TrimRight(strings.Join(current, "\n"), "\n")
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, block)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			endBlock()
			continue
		}
		current = append(current, line)
		if isSceneMarker(line) {
			endBlock()
		}
	}
	endBlock()

	return blocks
}

// isSceneMarker reports whether line is a horizontal-rule scene break.
func isSceneMarker(line string) bool {
	trimmed := strings.TrimSpace(line)
	if utf8.RuneCountInString(trimmed) < 3 {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '-', '*', '―', '─', '＊':
		default:
			return false
		}
	}
	return true
}

// startsDialogue reports whether the block opens with a quotation mark.
func startsDialogue(block string) bool {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(block))
	switch r {
	case '「', '『', '«', '"', '“':
		return true
	}
	return false
}

// cutRunes splits s after n runes.
func cutRunes(s string, n int) (string, string) {
	count := 0
	for i := range s {
		if count == n {
			return s[:i], s[i:]
		}
		count++
	}
	return s, ""
}
