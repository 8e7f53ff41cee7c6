package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civiclab/stance-cli/internal/model"
)

const scorePromptTmpl = `Rate this text on ideology from -1 (most progressive) to +1 (most conservative). Return only the number.

Text: %s`

const scoreCorrective = "That was not a number. Send ONLY a single number between -1 and 1, nothing else."

// ExtractScore asks the model for a direct scalar ideological score in
// [-1, +1]. Same retry and fallback-parse discipline as Extract, but the
// scalar variant returns an error on exhaustion; the ensemble aggregator
// turns that into model exclusion.
func (e *Extractor) ExtractScore(ctx context.Context, text string, opts model.GenOptions, maxRetries int) (float64, error) {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if opts.Model == "" {
		opts.Model = e.cfg.Model
	}

	prompt := fmt.Sprintf(scorePromptTmpl, text)
	msgs := []model.Message{
		{Role: model.RoleUser, Content: prompt},
	}

	for attempt := 1; ; attempt++ {
		resp, err := e.gw.Send(ctx, msgs, opts)
		if err != nil {
			return 0, eris.Wrapf(err, "extract: score call (%s)", e.cfg)
		}

		score, perr := parseScore(resp.Text)
		if perr == nil {
			e.logAttempt(text, prompt, opts, attempt, resp, nil)
			return score, nil
		}

		e.logAttempt(text, prompt, opts, attempt, resp, nil)

		if maxRetries <= 0 {
			return 0, eris.Errorf("extract: score parse failed after %d attempt(s): %v; last response: %q",
				attempt, perr, truncateExcerpt(resp.Text, errExcerptLen))
		}
		maxRetries--

		zap.L().Debug("extract: score parse failed, retrying",
			zap.String("model", e.cfg.String()),
			zap.Int("attempt", attempt),
			zap.Error(perr))

		msgs = append(msgs,
			model.Message{Role: model.RoleAssistant, Content: resp.Text},
			model.Message{Role: model.RoleUser, Content: scoreCorrective},
		)
		opts.Temperature = 0
	}
}

// parseScore recovers a single float in [-1, 1] from raw output: strict
// parse of the whole body, then the first fenced block, then the first
// numeric token found by scanning.
func parseScore(raw string) (float64, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return 0, eris.New("extract: empty response")
	}

	if v, err := strconv.ParseFloat(body, 64); err == nil {
		return validateScore(v)
	}

	if block, ok := firstFencedBlock(body); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(block), 64); err == nil {
			return validateScore(v)
		}
	}

	if v, ok := firstNumericToken(body); ok {
		return validateScore(v)
	}

	return 0, eris.New("extract: no numeric score found")
}

func validateScore(v float64) (float64, error) {
	if v < -1 || v > 1 {
		return 0, eris.Errorf("extract: score %f out of [-1, 1]", v)
	}
	return v, nil
}

// firstNumericToken scans for the first substring parseable as a float.
func firstNumericToken(s string) (float64, bool) {
	isNumByte := func(c byte) bool {
		return (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+'
	}
	for i := 0; i < len(s); i++ {
		if !isNumByte(s[i]) {
			continue
		}
		j := i
		for j < len(s) && isNumByte(s[j]) {
			j++
		}
		if v, err := strconv.ParseFloat(s[i:j], 64); err == nil {
			return v, true
		}
		i = j
	}
	return 0, false
}
