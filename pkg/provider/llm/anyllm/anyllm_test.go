package anyllm

import (
	"testing"

	"github.com/hydrosense/hydrochat/pkg/provider/llm"
)

// ── constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName ensures the provider name is required.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "some-model")
	if err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

// TestNew_EmptyModel ensures the model is required.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("ollama", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider ensures unknown names are rejected with a
// helpful message.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("carrierpigeon", "some-model")
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_KnownProviders ensures each supported backend constructs.
func TestNew_KnownProviders(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"} {
		t.Run(name, func(t *testing.T) {
			p, err := New(name, "some-model")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != name {
				t.Errorf("name: got %q, want %q", p.Name(), name)
			}
		})
	}
}

// TestNew_CaseInsensitiveName checks that provider names are normalised.
func TestNew_CaseInsensitiveName(t *testing.T) {
	p, err := New("Anthropic", "claude-3-5-haiku-latest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("name: got %q, want %q", p.Name(), "anthropic")
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

// TestBuildParams_SystemPromptFirst checks message ordering.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{name: "ollama", model: "llama3.2"}
	params := p.buildParams(llm.Request{
		SystemPrompt: "Classify clinic requests.",
		Prompt:       "show scans for patient 3",
	})

	if params.Model != "llama3.2" {
		t.Errorf("model: got %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != "system" {
		t.Errorf("first role: got %q, want system", params.Messages[0].Role)
	}
	if params.Messages[1].Role != "user" {
		t.Errorf("second role: got %q, want user", params.Messages[1].Role)
	}
}

// TestBuildParams_OptionalKnobs checks temperature and max tokens are only
// set when requested.
func TestBuildParams_OptionalKnobs(t *testing.T) {
	p := &Provider{name: "ollama", model: "llama3.2"}

	bare := p.buildParams(llm.Request{Prompt: "hi"})
	if bare.Temperature != nil || bare.MaxTokens != nil {
		t.Error("zero knobs should stay nil")
	}

	tuned := p.buildParams(llm.Request{Prompt: "hi", Temperature: 0.1, MaxTokens: 64})
	if tuned.Temperature == nil || *tuned.Temperature != 0.1 {
		t.Errorf("temperature: got %v", tuned.Temperature)
	}
	if tuned.MaxTokens == nil || *tuned.MaxTokens != 64 {
		t.Errorf("max tokens: got %v", tuned.MaxTokens)
	}
}
