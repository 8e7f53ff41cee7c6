package gateway

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/pkg/openaichat"
)

// OpenAIGateway adapts an OpenAI-compatible chat endpoint to the Gateway
// capability. StructuredMode maps to the provider's json_object response
// format; providers without it get nothing extra and rely on the
// extractor's fallback parsing.
type OpenAIGateway struct {
	client         openaichat.Client
	model          string
	supportsFormat bool
}

// NewOpenAI builds a gateway for one model on an OpenAI-compatible
// endpoint. supportsFormat controls whether json_object response_format
// is sent when StructuredMode is requested.
func NewOpenAI(client openaichat.Client, modelID string, supportsFormat bool) *OpenAIGateway {
	return &OpenAIGateway{client: client, model: modelID, supportsFormat: supportsFormat}
}

func (g *OpenAIGateway) Send(ctx context.Context, msgs []model.Message, opts model.GenOptions) (*model.RawResponse, error) {
	req := openaichat.ChatCompletionRequest{
		Model:    g.model,
		Messages: make([]openaichat.Message, len(msgs)),
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	for i, m := range msgs {
		req.Messages[i] = openaichat.Message{Role: m.Role, Content: m.Content}
	}

	temp := opts.Temperature
	req.Temperature = &temp
	if opts.TopP > 0 && opts.TopP < 1 {
		topP := opts.TopP
		req.TopP = &topP
	}
	if opts.Seed != nil {
		seed := *opts.Seed
		req.Seed = &seed
	}
	if opts.MaxTokens > 0 {
		maxTokens := opts.MaxTokens
		req.MaxTokens = &maxTokens
	}
	if opts.StructuredMode && g.supportsFormat {
		req.ResponseFormat = &openaichat.ResponseFormat{Type: "json_object"}
	}

	resp, err := g.client.ChatCompletion(ctx, req)
	if err != nil {
		var se *openaichat.StatusError
		if errors.As(err, &se) {
			return nil, NewTransportError(err, se.StatusCode)
		}
		return nil, NewTransportError(err, 0)
	}

	if len(resp.Choices) == 0 {
		return nil, NewTransportError(eris.New("openai: empty choices"), 0)
	}

	choice := resp.Choices[0]
	return &model.RawResponse{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
