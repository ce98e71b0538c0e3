package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// Options configures the OpenAI-backed client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxRPS      float64

	// Prompts overrides the bundled templates; resolved by the caller
	// through the series prompts directory.
	Prompts map[string]string
}

// OpenAIClient implements Client against the OpenAI chat API. All calls
// pass through a shared rate limiter and a circuit breaker, so a failing
// upstream trips fast instead of burning the whole segment batch.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	limiter     *RateLimiter
	breaker     *gobreaker.CircuitBreaker
	prompts     map[string]string
	logger      zerolog.Logger
}

// NewOpenAIClient creates a client from opts.
func NewOpenAIClient(opts Options, logger zerolog.Logger) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if opts.MaxRPS <= 0 {
		opts.MaxRPS = 2
	}

	limiter, err := NewRateLimiter(opts.MaxRPS)
	if err != nil {
		return nil, err
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	prompts := map[string]string{}
	for name, text := range BundledPrompts {
		prompts[name] = text
	}
	for name, text := range opts.Prompts {
		prompts[name] = text
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
		limiter:     limiter,
		breaker:     breaker,
		prompts:     prompts,
		logger:      logger.With().Str("component", "llm").Logger(),
	}, nil
}

// TranslateSegment translates one segment with glossary and series context.
func (c *OpenAIClient) TranslateSegment(ctx context.Context, req TranslateRequest) (string, error) {
	system := renderPrompt(c.prompts[PromptTranslation], map[string]string{
		"glossary":    formatGlossary(req.Glossary),
		"style_guide": orNone(req.StyleGuide),
		"world_info":  orNone(req.WorldInfo),
		"context":     orNone(req.Context),
	})

	c.logger.Debug().
		Str("chapter", req.Chapter).
		Int64("segment", req.SegmentID).
		Int("glossary_terms", len(req.Glossary)).
		Msg("Translating segment")

	return c.complete(ctx, system, req.Text)
}

// ProofreadSegment runs the second pass over a translated segment.
func (c *OpenAIClient) ProofreadSegment(ctx context.Context, req ProofreadRequest) (string, error) {
	system := renderPrompt(c.prompts[PromptProofreading], map[string]string{
		"glossary":    formatGlossary(req.Glossary),
		"style_guide": orNone(req.StyleGuide),
	})

	user := fmt.Sprintf("Source:\n%s\n\nTranslation to proofread:\n%s", req.SourceText, req.Translated)

	c.logger.Debug().
		Str("chapter", req.Chapter).
		Int64("segment", req.SegmentID).
		Msg("Proofreading segment")

	return c.complete(ctx, system, user)
}

// DiscoverTerms extracts candidate glossary terms from chapter text. The
// raw response is returned for tolerant parsing upstream.
func (c *OpenAIClient) DiscoverTerms(ctx context.Context, req DiscoverRequest) (string, error) {
	system := renderPrompt(c.prompts[PromptTermDiscovery], map[string]string{
		"source_lang": req.SourceLang,
		"target_lang": req.TargetLang,
	})

	c.logger.Debug().
		Str("chapter", req.Chapter).
		Msg("Discovering terms")

	return c.complete(ctx, system, req.Text)
}

func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: c.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("model returned no choices")
		}
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return nil, fmt.Errorf("model returned empty response")
		}
		return content, nil
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
