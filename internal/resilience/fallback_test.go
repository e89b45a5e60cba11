package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hydrosense/hydrochat/pkg/provider/llm"
	"github.com/hydrosense/hydrochat/pkg/provider/llm/mock"
)

func TestChain_PrimarySuccess(t *testing.T) {
	primary := mock.New()
	primary.ProviderName = "primary"
	primary.CompleteResponse = &llm.Response{Content: "from primary"}

	fallback := mock.New()
	fallback.ProviderName = "fallback"
	fallback.CompleteResponse = &llm.Response{Content: "from fallback"}

	chain := NewChain(primary, ChainConfig{})
	chain.AddFallback(fallback)

	resp, err := chain.Complete(context.Background(), llm.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("Content = %q, want %q", resp.Content, "from primary")
	}
	if len(fallback.Calls()) != 0 {
		t.Error("fallback should not be called when primary succeeds")
	}
}

func TestChain_FailoverToSecondary(t *testing.T) {
	primary := mock.New()
	primary.ProviderName = "primary"
	primary.CompleteErr = errors.New("primary down")

	fallback := mock.New()
	fallback.ProviderName = "fallback"
	fallback.CompleteResponse = &llm.Response{Content: "from fallback"}

	chain := NewChain(primary, ChainConfig{})
	chain.AddFallback(fallback)

	resp, err := chain.Complete(context.Background(), llm.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from fallback" {
		t.Errorf("Content = %q, want %q", resp.Content, "from fallback")
	}
	if len(primary.Calls()) != 1 {
		t.Errorf("primary calls = %d, want 1", len(primary.Calls()))
	}
}

func TestChain_AllFail(t *testing.T) {
	primary := mock.New()
	primary.ProviderName = "primary"
	primary.CompleteErr = errors.New("primary down")

	fallback := mock.New()
	fallback.ProviderName = "fallback"
	fallback.CompleteErr = errors.New("fallback down")

	chain := NewChain(primary, ChainConfig{})
	chain.AddFallback(fallback)

	_, err := chain.Complete(context.Background(), llm.Request{Prompt: "hi"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestChain_OpenBreakerSkipsProvider(t *testing.T) {
	primary := mock.New()
	primary.ProviderName = "primary"
	primary.CompleteErr = errors.New("primary down")

	fallback := mock.New()
	fallback.ProviderName = "fallback"
	fallback.CompleteResponse = &llm.Response{Content: "from fallback"}

	chain := NewChain(primary, ChainConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	chain.AddFallback(fallback)

	// Trip the primary's breaker.
	for i := 0; i < 3; i++ {
		_, err := chain.Complete(context.Background(), llm.Request{Prompt: "hi"})
		if err != nil {
			t.Fatalf("turn %d: unexpected error: %v", i, err)
		}
	}

	callsBefore := len(primary.Calls())
	if callsBefore != 2 {
		t.Fatalf("primary calls = %d, want 2 (breaker should open after 2 failures)", callsBefore)
	}

	// Further turns must not touch the primary while its breaker is open.
	resp, err := chain.Complete(context.Background(), llm.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from fallback" {
		t.Errorf("Content = %q, want %q", resp.Content, "from fallback")
	}
	if got := len(primary.Calls()); got != callsBefore {
		t.Errorf("primary calls = %d, want %d (open breaker must skip)", got, callsBefore)
	}
}

func TestChain_SingleProvider(t *testing.T) {
	primary := mock.New()
	primary.ProviderName = "solo"
	primary.CompleteErr = errors.New("down")

	chain := NewChain(primary, ChainConfig{})

	_, err := chain.Complete(context.Background(), llm.Request{Prompt: "hi"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if chain.Len() != 1 {
		t.Errorf("Len() = %d, want 1", chain.Len())
	}
}

func TestChain_CancelledContextStopsIteration(t *testing.T) {
	primary := mock.New()
	primary.ProviderName = "primary"
	primary.CompleteErr = context.Canceled

	fallback := mock.New()
	fallback.ProviderName = "fallback"
	fallback.CompleteResponse = &llm.Response{Content: "from fallback"}

	chain := NewChain(primary, ChainConfig{})
	chain.AddFallback(fallback)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := chain.Complete(ctx, llm.Request{Prompt: "hi"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if len(fallback.Calls()) != 0 {
		t.Error("fallback should not be tried once the context is cancelled")
	}
}

func TestChain_Name(t *testing.T) {
	primary := mock.New()
	primary.ProviderName = "openai"

	chain := NewChain(primary, ChainConfig{})
	if got := chain.Name(); got != "openai" {
		t.Errorf("Name() = %q, want %q", got, "openai")
	}
}
