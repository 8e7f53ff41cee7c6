package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/internal/replicate"
)

var (
	fingerprintProvider string
	fingerprintModelID  string
	fingerprintSave     bool
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Compute a model fingerprint and check for drift",
	Long: `Runs the configured probe prompts through one model and hashes the
responses. The hash is compared against the most recently stored
fingerprint for that model: a mismatch means the provider's behavior has
changed since the baseline was taken.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mc, err := resolveModelConfig(fingerprintProvider, fingerprintModelID)
		if err != nil {
			return err
		}
		gw, err := buildRegistry().Get(mc.Provider)
		if err != nil {
			return err
		}

		probes := cfg.Fingerprint.Probes
		if len(probes) == 0 {
			probes = replicate.DefaultProbes
		}

		ctx := cmd.Context()
		opts := model.DefaultGenOptions()
		fp, err := replicate.Fingerprint(ctx, gw, mc, probes, opts)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		out := struct {
			Model       string `json:"model"`
			Fingerprint string `json:"fingerprint"`
			Baseline    string `json:"baseline,omitempty"`
			BaselineAt  string `json:"baseline_at,omitempty"`
			Drifted     *bool  `json:"drifted,omitempty"`
		}{Model: mc.String(), Fingerprint: fp}

		baseline, at, ok, err := st.LatestFingerprint(ctx, mc.String())
		if err != nil {
			return err
		}
		if ok {
			drifted := baseline != fp
			out.Baseline = baseline
			out.BaselineAt = at.Format("2006-01-02T15:04:05Z07:00")
			out.Drifted = &drifted
			if drifted {
				zap.L().Warn("model fingerprint drifted",
					zap.String("model", mc.String()),
					zap.String("baseline", baseline[:16]),
					zap.String("current", fp[:16]),
				)
			}
		}

		if fingerprintSave {
			if err := st.SaveFingerprint(ctx, mc.String(), fp); err != nil {
				return err
			}
		}

		return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
	},
}

func init() {
	fingerprintCmd.Flags().StringVar(&fingerprintProvider, "provider", "", "gateway provider (default anthropic)")
	fingerprintCmd.Flags().StringVar(&fingerprintModelID, "model", "", "model ID (default from provider config)")
	fingerprintCmd.Flags().BoolVar(&fingerprintSave, "save", false, "store the computed fingerprint as the new baseline")
	rootCmd.AddCommand(fingerprintCmd)
}
