package gateway

import (
	"context"

	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/pkg/anthropic"
)

// AnthropicGateway adapts the Anthropic Messages API to the Gateway
// capability. The API has no seed parameter; determinism relies on
// temperature 0, which is the pipeline default anyway.
type AnthropicGateway struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds a gateway for one Anthropic model.
func NewAnthropic(client anthropic.Client, modelID string) *AnthropicGateway {
	return &AnthropicGateway{client: client, model: modelID}
}

func (g *AnthropicGateway) Send(ctx context.Context, msgs []model.Message, opts model.GenOptions) (*model.RawResponse, error) {
	req := anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}

	// System messages map to system blocks; the rest keep their roles.
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			req.System = append(req.System, anthropic.SystemBlock{Text: m.Content})
			continue
		}
		req.Messages = append(req.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}

	temp := opts.Temperature
	req.Temperature = &temp
	if opts.TopP > 0 && opts.TopP < 1 {
		topP := opts.TopP
		req.TopP = &topP
	}

	resp, err := g.client.CreateMessage(ctx, req)
	if err != nil {
		return nil, NewTransportError(err, 0)
	}

	return &model.RawResponse{
		Text:         resp.Text(),
		FinishReason: resp.StopReason,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
