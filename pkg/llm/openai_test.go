package llm

import (
	"testing"

	"github.com/rs/zerolog"
)

// TestNewOpenAIClientValidation tests constructor argument checks
func TestNewOpenAIClientValidation(t *testing.T) {
	logger := zerolog.Nop()

	if _, err := NewOpenAIClient(Options{Model: "gpt-4o"}, logger); err == nil {
		t.Error("expected error for missing api key")
	}
	if _, err := NewOpenAIClient(Options{APIKey: "sk-test"}, logger); err == nil {
		t.Error("expected error for missing model")
	}

	client, err := NewOpenAIClient(Options{APIKey: "sk-test", Model: "gpt-4o"}, logger)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if client.limiter == nil {
		t.Error("expected a default rate limiter")
	}
	if client.prompts[PromptTranslation] == "" {
		t.Error("expected bundled prompts applied")
	}
}

// TestNewOpenAIClientPromptOverride tests series overrides replacing bundled
// prompts
func TestNewOpenAIClientPromptOverride(t *testing.T) {
	client, err := NewOpenAIClient(Options{
		APIKey:  "sk-test",
		Model:   "gpt-4o",
		Prompts: map[string]string{PromptTranslation: "custom {glossary}"},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if client.prompts[PromptTranslation] != "custom {glossary}" {
		t.Errorf("expected override applied, got %q", client.prompts[PromptTranslation])
	}
	if client.prompts[PromptProofreading] == "" {
		t.Error("expected non-overridden prompts to keep bundled defaults")
	}
}
