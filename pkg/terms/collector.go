package terms

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/booktrans/booktrans/pkg/stores"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\s*\\n```")

// discovered is the tolerant shape of one term inside a discovery response.
// Models vary between the nested name object and flat term_* fields.
type discovered struct {
	Name struct {
		Source string `json:"jp"`
		Target string `json:"ru"`
	} `json:"name"`
	TermSource  string `json:"term_source"`
	TermTarget  string `json:"term_target"`
	TermJP      string `json:"term_jp"`
	TermRU      string `json:"term_ru"`
	Description string `json:"description"`
	Comment     string `json:"comment"`
	Context     string `json:"context"`
}

func (d discovered) source(fallback string) string {
	for _, v := range []string{d.Name.Source, d.TermJP, d.TermSource} {
		if v != "" {
			return v
		}
	}
	return fallback
}

func (d discovered) target() string {
	for _, v := range []string{d.Name.Target, d.TermRU, d.TermTarget} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (d discovered) context() string {
	for _, v := range []string{d.Description, d.Comment, d.Context} {
		if v != "" {
			return v
		}
	}
	return ""
}

// CollectCandidates parses term-discovery model responses into deduplicated
// candidates. Responses are JSON objects keyed by category (characters,
// terminology, expressions), each category a map of term id to term data;
// a response wrapped in a ```json fence is unwrapped first. Unparseable
// responses are skipped, not fatal: one bad response must not lose the
// batch. The first occurrence of a term id wins.
func CollectCandidates(responses []string) []stores.TermCandidate {
	seen := map[string]bool{}
	candidates := []stores.TermCandidate{}

	for _, raw := range responses {
		payload := raw
		if m := fencedJSON.FindStringSubmatch(raw); m != nil {
			payload = m[1]
		}

		var categories map[string]json.RawMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &categories); err != nil {
			continue
		}

		for _, items := range categories {
			var byID map[string]discovered
			if err := json.Unmarshal(items, &byID); err != nil {
				continue
			}
			for id, term := range byID {
				source := term.source(id)
				target := term.target()
				if source == "" || target == "" || seen[id] {
					continue
				}
				seen[id] = true
				candidates = append(candidates, stores.TermCandidate{
					Term:        source,
					Translation: target,
					Context:     term.context(),
				})
			}
		}
	}

	// Stable order regardless of map iteration, so the approval buffer
	// diffs cleanly between runs.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Term < candidates[j].Term
	})
	return candidates
}
