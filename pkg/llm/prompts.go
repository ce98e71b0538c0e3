package llm

import (
	"fmt"
	"strings"

	"github.com/booktrans/booktrans/pkg/stores"
)

// Prompt names resolvable through the series prompts/ directory.
const (
	PromptTranslation   = "translation"
	PromptProofreading  = "proofreading"
	PromptTermDiscovery = "term_discovery"
)

// BundledPrompts are the fallback templates used when the series carries no
// override. Placeholders: {glossary}, {style_guide}, {world_info},
// {context}, {source_lang}, {target_lang}.
var BundledPrompts = map[string]string{
	PromptTranslation: `You are a professional literary translator working into your native language.
Translate the fragment so it reads as if originally written by a native author:
natural syntax, preserved plot facts, sensory detail, and psychological nuance.
Translate at 1:1 volume; do not summarize or embellish.
You work statelessly on one fragment, so follow the glossary exactly for name
and term consistency.

<glossary>
{glossary}
</glossary>

<style_guide>
{style_guide}
</style_guide>

<world_info>
{world_info}
</world_info>

Previous fragment, for scene continuity (do not translate it):
<context>
{context}
</context>

Respond with the translated fragment only.`,

	PromptProofreading: `You are proofreading a literary translation against its source.
Fix mistranslations, omissions, glossary violations, and unnatural phrasing.
Keep everything that is already correct; do not rewrite for taste.

<glossary>
{glossary}
</glossary>

<style_guide>
{style_guide}
</style_guide>

Respond with the corrected translation only.`,

	PromptTermDiscovery: `Extract recurring proper nouns and setting-specific terminology from the
fragment: character names, place names, unique items, and coined terms.
Source language: {source_lang}. Target language: {target_lang}.

Respond with a single JSON object of the form:
{"characters": {"<id>": {"term_source": "...", "term_target": "...", "comment": "..."}},
 "terminology": {...}, "expressions": {...}}
Propose a target-language rendering for every term. Omit common vocabulary.`,
}

// renderPrompt substitutes {placeholder} values into a template.
func renderPrompt(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// formatGlossary renders entries as term = translation lines for prompt
// embedding.
func formatGlossary(entries []stores.GlossaryEntry) string {
	if len(entries) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&b, "%s = %s", entry.Term, entry.Translation)
		if entry.Context != "" {
			fmt.Fprintf(&b, " (%s)", entry.Context)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
