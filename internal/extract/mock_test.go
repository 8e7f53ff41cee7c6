package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/model"
)

// scriptedGateway replays a fixed sequence of responses and records every
// call it receives.
type scriptedGateway struct {
	replies []string
	errs    []error
	calls   [][]model.Message
	opts    []model.GenOptions
}

func (g *scriptedGateway) Send(_ context.Context, msgs []model.Message, opts model.GenOptions) (*model.RawResponse, error) {
	i := len(g.calls)
	g.calls = append(g.calls, msgs)
	g.opts = append(g.opts, opts)

	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i >= len(g.replies) {
		return nil, gateway.NewTransportError(eris.New("script exhausted"), 0)
	}
	return &model.RawResponse{
		Text:         g.replies[i],
		FinishReason: "stop",
		Usage:        model.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

// memorySink collects appended lines for assertions.
type memorySink struct {
	lines []string
	err   error
}

func (s *memorySink) Append(line string) error {
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}
