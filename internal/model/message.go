// Package model holds the shared data types for the annotation pipeline.
package model

// Message roles recognized by all gateway providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenOptions are the generation options for a single gateway call.
// A value is built once per call and not mutated afterward.
type GenOptions struct {
	// Model overrides the gateway's configured default model for this
	// call. Empty means use the default.
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"top_p"`
	Seed           *int64  `json:"seed,omitempty"`
	MaxTokens      int64   `json:"max_tokens"`
	StructuredMode bool    `json:"structured_mode"`
}

// DefaultGenOptions returns deterministic-call options: temperature 0,
// the lowest non-adaptive setting, which is the documented default for
// all annotation calls.
func DefaultGenOptions() GenOptions {
	return GenOptions{
		Temperature: 0,
		TopP:        1.0,
		MaxTokens:   1024,
	}
}

// TokenUsage tracks token consumption reported by a provider.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// RawResponse is the opaque text returned by a gateway call, plus
// whatever usage metadata the provider reports. It is owned by the
// extraction attempt that produced it and not retained beyond logging.
type RawResponse struct {
	Text         string     `json:"text"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
}
