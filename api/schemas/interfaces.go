package schemas

import (
	"context"
	"encoding/json"
)

// ModelTier selects the class of model to route a completion to.
type ModelTier string

const (
	// TierFast targets a cheap, low-latency model for high-volume calls
	// (answer scoring, question phrasing).
	TierFast ModelTier = "fast"
	// TierPowerful targets the strongest configured model for calls whose
	// quality dominates the outcome (hypothesis seeding).
	TierPowerful ModelTier = "powerful"
)

// CompletionRequest describes one structured call to the reasoning service.
type CompletionRequest struct {
	SystemPrompt string    `json:"system_prompt"` // Persona and task framing for the model.
	UserPrompt   string    `json:"user_prompt"`   // The concrete instruction plus context.
	Tier         ModelTier `json:"tier"`          // Desired model tier (fast or powerful).

	// ResponseSchema, when set, is a JSON Schema the model's output must
	// conform to. The provider is asked for application/json output and the
	// raw bytes are returned unparsed.
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`

	// MaxTokens bounds the completion length; zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Reasoner is the engine's only external collaborator: a generative reasoning
// service that seeds hypotheses, phrases questions, and scores answers. Every
// call carries a timeout via ctx; implementations perform one bounded retry
// internally. All failures are recoverable by the caller through deterministic
// fallbacks, never surfaced to the end user as hard errors.
type Reasoner interface {
	// Complete produces a structured completion for the request.
	Complete(ctx context.Context, req CompletionRequest) (json.RawMessage, error)
	// Close releases any resources held by the client.
	Close() error
}

// Embedder produces vector embeddings used for hypothesis similarity in the
// merge/cluster pass. Implementations may be unavailable (no API key); callers
// fall back to lexical similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
