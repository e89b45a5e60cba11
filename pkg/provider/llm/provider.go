// Package llm defines the Provider interface for Large Language Model backends.
//
// HydroChat treats the model as a single text-in / JSON-out capability: one
// prompt goes out, one completion comes back. Token usage is always taken
// from the provider's response metadata; implementations must never estimate
// counts locally. A provider that does not report a counter leaves it zero.
//
// Implementors must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// All counts come from provider response metadata; zero means the provider
// did not report that counter, never that it was estimated as zero.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int
}

// Cost converts usage into a dollar amount given per-million-token rates.
func (u Usage) Cost(inputRatePerMTok, outputRatePerMTok float64) float64 {
	return float64(u.PromptTokens)/1e6*inputRatePerMTok +
		float64(u.CompletionTokens)/1e6*outputRatePerMTok
}

// Request carries everything the LLM needs to produce a response.
// Prompt must be non-empty; a zero-value request is invalid.
type Request struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the user content. Providers without a dedicated system slot prepend it
	// as a system-role message.
	SystemPrompt string

	// Prompt is the user-facing input text.
	Prompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero requests the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Response is returned by Complete.
type Response struct {
	// Content is the full text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair,
	// straight from the provider.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must return promptly when ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name identifies the backing provider (e.g., "openai", "anthropic").
	// Used in logs and failover diagnostics.
	Name() string
}
