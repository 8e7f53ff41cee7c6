// Package ensemble aggregates independent stance estimates from multiple
// models into summary statistics with an agreement classification.
package ensemble

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civiclab/stance-cli/internal/annlog"
	"github.com/civiclab/stance-cli/internal/extract"
	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/model"
)

// ScoringMode selects how each model's answer is reduced to a scalar.
type ScoringMode string

const (
	// ModeClassify runs the structured extractor and reduces the label to
	// its numeric code in the schema's label list.
	ModeClassify ScoringMode = "classify"
	// ModeScalar asks each model for a direct ideological score in [-1, +1].
	ModeScalar ScoringMode = "scalar"
)

// Defaults for fan-out behavior.
const (
	DefaultMaxConcurrency = 4
	DefaultCallTimeout    = 120 * time.Second
)

// ErrAllModelsFailed signals a total ensemble failure: every configured
// model was excluded. The aggregate result is absent, never zero-valued.
var ErrAllModelsFailed = eris.New("ensemble: all models failed")

// ModelScore is one model's scalar estimate.
type ModelScore struct {
	Config model.ModelConfig `json:"config"`
	Score  float64           `json:"score"`
}

// Result is the aggregate over the models that responded successfully.
// Scores preserves the caller's ModelConfig order regardless of
// completion order; NModels always equals len(Scores).
type Result struct {
	Scores  []ModelScore `json:"scores"`
	Mean    float64      `json:"mean"`
	Median  float64      `json:"median"`
	Std     float64      `json:"std"`
	Min     float64      `json:"min"`
	Max     float64      `json:"max"`
	NModels int          `json:"n_models"`
}

// Agreement classifies the ensemble spread: std < 0.3 high, < 0.6 medium,
// otherwise low.
func (r *Result) Agreement() string {
	return agreementBand(r.Std)
}

// Aggregator fans one text out to a set of models and reduces their
// scores. Stateless across calls; safe for concurrent use.
type Aggregator struct {
	registry       *gateway.Registry
	schema         model.Schema
	sink           annlog.Sink
	maxRetries     int
	maxConcurrency int
	callTimeout    time.Duration
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithSink attaches the append-only annotation log.
func WithSink(s annlog.Sink) AggregatorOption {
	return func(a *Aggregator) { a.sink = s }
}

// WithMaxRetries sets the per-model extraction retry budget.
func WithMaxRetries(n int) AggregatorOption {
	return func(a *Aggregator) { a.maxRetries = n }
}

// WithMaxConcurrency bounds parallel fan-out.
func WithMaxConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxConcurrency = n
		}
	}
}

// WithCallTimeout sets the per-model call timeout. A model that exceeds
// it is excluded like any other failure.
func WithCallTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.callTimeout = d
		}
	}
}

// New builds an Aggregator over a gateway registry and a label schema.
func New(registry *gateway.Registry, schema model.Schema, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		registry:       registry,
		schema:         schema,
		maxRetries:     extract.DefaultMaxRetries,
		maxConcurrency: DefaultMaxConcurrency,
		callTimeout:    DefaultCallTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Aggregate scores text across configs. Configs must be non-empty and
// their order defines the order of Result.Scores. A model that fails
// (transport, parse exhaustion, or timeout) is excluded, never fatal.
// If every model fails the result is nil and the error wraps
// ErrAllModelsFailed, so callers can distinguish "no data" from a
// measured zero.
func (a *Aggregator) Aggregate(ctx context.Context, text string, configs []model.ModelConfig, mode ScoringMode) (*Result, error) {
	if len(configs) == 0 {
		return nil, eris.New("ensemble: no model configs")
	}

	scores := make([]*float64, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrency)
	for i, cfg := range configs {
		g.Go(func() error {
			score, err := a.scoreOne(gctx, text, cfg, mode)
			if err != nil {
				// One model's failure never aborts the ensemble.
				zap.L().Warn("ensemble: model excluded",
					zap.String("model", cfg.String()),
					zap.Error(err))
				return nil
			}
			scores[i] = &score
			return nil
		})
	}
	// Workers only return nil; Wait is for completion, not errors.
	_ = g.Wait()

	result := assemble(configs, scores)
	if result == nil {
		return nil, eris.Wrapf(ErrAllModelsFailed, "ensemble: text %q", truncate(text, 60))
	}
	return result, nil
}

// scoreOne runs a single model call under the per-call timeout.
func (a *Aggregator) scoreOne(ctx context.Context, text string, cfg model.ModelConfig, mode ScoringMode) (float64, error) {
	gw, err := a.registry.Get(cfg.Provider)
	if err != nil {
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	opts := model.DefaultGenOptions()
	ex := extract.New(gw, cfg, extract.WithSink(a.sink))

	switch mode {
	case ModeScalar:
		return ex.ExtractScore(callCtx, text, opts, a.maxRetries)
	case ModeClassify:
		opts.StructuredMode = true
		rec := ex.Extract(callCtx, text, a.schema, opts, a.maxRetries)
		if !rec.Success {
			return 0, eris.Errorf("ensemble: extraction failed: %s", rec.Error)
		}
		code, ok := a.schema.LabelCode(*rec.Label)
		if !ok {
			return 0, eris.Errorf("ensemble: label %q has no code", *rec.Label)
		}
		return float64(code), nil
	default:
		return 0, eris.Errorf("ensemble: unknown scoring mode %q", mode)
	}
}

// assemble reduces the per-model scores, preserving config order.
// Returns nil when no model succeeded.
func assemble(configs []model.ModelConfig, scores []*float64) *Result {
	var kept []ModelScore
	var values []float64
	for i, s := range scores {
		if s == nil {
			continue
		}
		kept = append(kept, ModelScore{Config: configs[i], Score: *s})
		values = append(values, *s)
	}
	if len(values) == 0 {
		return nil
	}

	lo, hi := minMax(values)
	return &Result{
		Scores:  kept,
		Mean:    mean(values),
		Median:  median(values),
		Std:     popStd(values),
		Min:     lo,
		Max:     hi,
		NModels: len(values),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
