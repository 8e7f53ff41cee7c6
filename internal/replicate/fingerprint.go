// Package replicate holds the reproducibility tooling for annotation
// runs: model fingerprints for drift detection, agreement validation
// against a human-coded reference, and the promptbook document.
package replicate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/model"
)

// DefaultProbes is the probe set used when the caller supplies none.
// Changing it invalidates previously stored fingerprints.
var DefaultProbes = []string{
	"Classify: 'Cut taxes for businesses' - Progressive/Conservative/Centrist",
	"Classify: 'Expand healthcare coverage' - Progressive/Conservative/Centrist",
	"Classify: 'Balanced budget amendment' - Progressive/Conservative/Centrist",
}

// Fingerprint hashes a model's responses to a fixed probe set: one call
// per probe, in order, no retries, raw texts concatenated with no
// separator, SHA-256 hex. Any call failure aborts the whole computation
// so a transient error never yields a bogus hash. A changed fingerprint
// between runs means the model's behavior has drifted.
func Fingerprint(ctx context.Context, gw gateway.Gateway, cfg model.ModelConfig, probes []string, opts model.GenOptions) (string, error) {
	if len(probes) == 0 {
		return "", eris.New("replicate: no probe prompts")
	}
	if opts.Model == "" {
		opts.Model = cfg.Model
	}

	var b strings.Builder
	for i, probe := range probes {
		msgs := []model.Message{{Role: model.RoleUser, Content: probe}}
		resp, err := gw.Send(ctx, msgs, opts)
		if err != nil {
			return "", eris.Wrapf(err, "replicate: probe %d/%d (%s)", i+1, len(probes), cfg)
		}
		b.WriteString(resp.Text)
	}

	sum := sha256.Sum256([]byte(b.String()))
	fp := fmt.Sprintf("%x", sum)

	zap.L().Debug("replicate: fingerprint computed",
		zap.String("model", cfg.String()),
		zap.Int("probes", len(probes)),
		zap.String("prefix", fp[:16]))
	return fp, nil
}
