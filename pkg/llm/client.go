// Package llm defines the translation model interface and its OpenAI-backed
// implementation. The pipeline depends on the Client interface only; tests
// substitute mocks.
package llm

import (
	"context"

	"github.com/booktrans/booktrans/pkg/stores"
)

// TranslateRequest carries one segment plus everything the model needs for
// consistency across stateless calls: the previous segment, the glossary,
// and the series context documents.
type TranslateRequest struct {
	Chapter    string
	SegmentID  int64
	Text       string
	Context    string
	Glossary   []stores.GlossaryEntry
	StyleGuide string
	WorldInfo  string
}

// ProofreadRequest carries a translated segment for a second pass against
// its source.
type ProofreadRequest struct {
	Chapter    string
	SegmentID  int64
	SourceText string
	Translated string
	Glossary   []stores.GlossaryEntry
	StyleGuide string
}

// DiscoverRequest carries chapter text for term discovery. The response is
// returned raw; pkg/terms owns the tolerant parsing.
type DiscoverRequest struct {
	Chapter    string
	Text       string
	SourceLang string
	TargetLang string
}

// Client is the model boundary. Implementations are safe for concurrent
// use by pipeline workers.
type Client interface {
	TranslateSegment(ctx context.Context, req TranslateRequest) (string, error)
	ProofreadSegment(ctx context.Context, req ProofreadRequest) (string, error)
	DiscoverTerms(ctx context.Context, req DiscoverRequest) (string, error)
}
