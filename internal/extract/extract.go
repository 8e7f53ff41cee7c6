// Package extract turns raw model text into validated annotation records,
// with bounded retry and layered fallback parsing.
package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/civiclab/stance-cli/internal/annlog"
	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/model"
)

// DefaultMaxRetries is the retry budget when the caller passes a negative
// value.
const DefaultMaxRetries = 1

// errExcerptLen caps the raw-output excerpt embedded in failure records.
const errExcerptLen = 200

const annotateSystemPrompt = "You are a political analyst. Respond with valid JSON only."

const annotatePromptTmpl = `Return only a JSON object like this:
{"label":"%s","confidence":0-1,"rationale":"brief"}
Do not add any extra text.

Text: %q`

// correctiveInstruction is appended to the conversation when a response
// failed to parse, before re-issuing the call at temperature 0.
const correctiveInstruction = "That was not valid JSON. Send ONLY the JSON object, nothing else. No explanations, no markdown fences."

// PromptTemplate renders the annotation prompt with the label set filled
// in and a {text} placeholder, for documentation in promptbooks.
func PromptTemplate(schema model.Schema) string {
	return fmt.Sprintf(annotatePromptTmpl, schema.LabelAlternatives(), "{text}")
}

// Extractor issues annotation calls through one gateway and parses the
// results. It carries no state across calls beyond the optional log sink.
type Extractor struct {
	gw   gateway.Gateway
	cfg  model.ModelConfig
	sink annlog.Sink
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithSink attaches an append-only log sink. Writes are fire-and-forget:
// a sink failure never fails the extraction.
func WithSink(s annlog.Sink) Option {
	return func(e *Extractor) {
		e.sink = s
	}
}

// New builds an Extractor for one (model, provider) pair.
func New(gw gateway.Gateway, cfg model.ModelConfig, opts ...Option) *Extractor {
	e := &Extractor{gw: gw, cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract annotates text against schema. It always terminates in a valid
// AnnotationRecord: parse failures are retried up to maxRetries with a
// corrective instruction at temperature 0, and exhaustion or a transport
// failure yields a Success=false record, never an error.
func (e *Extractor) Extract(ctx context.Context, text string, schema model.Schema, opts model.GenOptions, maxRetries int) model.AnnotationRecord {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if opts.Model == "" {
		opts.Model = e.cfg.Model
	}

	prompt := fmt.Sprintf(annotatePromptTmpl, schema.LabelAlternatives(), text)
	msgs := []model.Message{
		{Role: model.RoleSystem, Content: annotateSystemPrompt},
		{Role: model.RoleUser, Content: prompt},
	}

	var lastRaw string
	for attempt := 1; ; attempt++ {
		resp, err := e.gw.Send(ctx, msgs, opts)
		if err != nil {
			rec := model.NewFailureRecord(text, e.cfg.String(),
				fmt.Sprintf("gateway call failed: %v", err))
			e.logAttempt(text, prompt, opts, attempt, nil, &rec)
			return rec
		}
		lastRaw = resp.Text

		cand, perr := parseRecord(resp.Text, schema)
		if perr == nil {
			rec := model.AnnotationRecord{
				Label:      cand.Label,
				Rationale:  cand.Rationale,
				Confidence: cand.Confidence,
				SourceText: text,
				ModelID:    e.cfg.String(),
				Timestamp:  time.Now().UTC(),
				Success:    cand.Label != nil && cand.Confidence != nil,
			}
			if !rec.Success {
				// The model answered with explicit nulls; keep the record
				// well-formed by treating it as a non-classification.
				rec.Label = nil
				rec.Confidence = nil
				rec.Error = "model declined to classify (null label or confidence)"
			}
			e.logAttempt(text, prompt, opts, attempt, resp, &rec)
			return rec
		}

		e.logAttempt(text, prompt, opts, attempt, resp, nil)

		if maxRetries <= 0 {
			rec := model.NewFailureRecord(text, e.cfg.String(), fmt.Sprintf(
				"parse failed after %d attempt(s): %v; last response: %q",
				attempt, perr, truncateExcerpt(lastRaw, errExcerptLen)))
			return rec
		}
		maxRetries--

		zap.L().Debug("extract: parse failed, retrying",
			zap.String("model", e.cfg.String()),
			zap.Int("attempt", attempt),
			zap.Error(perr))

		// Carry the failed output back and ask again, strictly, at the
		// minimum temperature.
		msgs = append(msgs,
			model.Message{Role: model.RoleAssistant, Content: resp.Text},
			model.Message{Role: model.RoleUser, Content: correctiveInstruction},
		)
		opts.Temperature = 0
	}
}

// logAttempt appends one attempt to the log sink, if configured. Failures
// are logged and swallowed.
func (e *Extractor) logAttempt(text, prompt string, opts model.GenOptions, attempt int, resp *model.RawResponse, rec *model.AnnotationRecord) {
	if e.sink == nil {
		return
	}
	entry := annlog.Entry{
		Timestamp: time.Now().UTC(),
		Text:      text,
		Model:     e.cfg.Model,
		Provider:  e.cfg.Provider,
		Options:   opts,
		Prompt:    prompt,
		Record:    rec,
		Attempt:   attempt,
	}
	if resp != nil {
		entry.RawExcerpt = truncateExcerpt(resp.Text, errExcerptLen)
		entry.Usage = resp.Usage
		entry.FinishReason = resp.FinishReason
	}
	line, err := entry.Line()
	if err == nil {
		err = e.sink.Append(line)
	}
	if err != nil {
		zap.L().Warn("extract: log sink append failed", zap.Error(err))
	}
}
