package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/pkg/ollama"
)

// OllamaGateway adapts a local Ollama instance to the Gateway capability.
type OllamaGateway struct {
	client *ollama.Client
	model  string
}

// NewOllama builds a gateway for one locally served model.
func NewOllama(client *ollama.Client, modelID string) *OllamaGateway {
	return &OllamaGateway{client: client, model: modelID}
}

func (g *OllamaGateway) Send(ctx context.Context, msgs []model.Message, opts model.GenOptions) (*model.RawResponse, error) {
	req := ollama.ChatRequest{
		Model:    g.model,
		Messages: make([]ollama.Message, len(msgs)),
		Options: map[string]any{
			"temperature": opts.Temperature,
		},
	}
	for i, m := range msgs {
		req.Messages[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.TopP > 0 && opts.TopP < 1 {
		req.Options["top_p"] = opts.TopP
	}
	if opts.Seed != nil {
		req.Options["seed"] = *opts.Seed
	}
	if opts.MaxTokens > 0 {
		// Caps output tokens; small local models loop without this.
		req.Options["num_predict"] = opts.MaxTokens
	}
	if opts.StructuredMode {
		req.Format = json.RawMessage(`"json"`)
	}

	resp, err := g.client.Chat(ctx, req)
	if err != nil {
		var se *ollama.StatusError
		if errors.As(err, &se) {
			return nil, NewTransportError(err, se.StatusCode)
		}
		return nil, NewTransportError(err, 0)
	}

	return &model.RawResponse{
		Text:         resp.Message.Content,
		FinishReason: resp.DoneReason,
		Usage: model.TokenUsage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}, nil
}
