package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/civiclab/stance-cli/internal/replicate"
)

var (
	validateRef  string
	validateCand string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare model labels against a human-coded reference",
	Long: `Reads two label files (one label per line, same order and length) and
computes raw accuracy, Cohen's kappa, and the full confusion matrix.
Mismatched lengths or labels outside the configured schema fail
immediately: that is a caller mistake, not a model failure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := readLines(validateRef)
		if err != nil {
			return err
		}
		cand, err := readLines(validateCand)
		if err != nil {
			return err
		}

		report, err := replicate.Agreement(ref, cand, cfg.LabelSchema().Labels)
		if err != nil {
			return err
		}

		out := struct {
			*replicate.AgreementReport
			Band string `json:"band"`
		}{report, report.Band()}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateRef, "reference", "", "reference label file (human-coded)")
	validateCmd.Flags().StringVar(&validateCand, "candidate", "", "candidate label file (model output)")
	validateCmd.MarkFlagRequired("reference")
	validateCmd.MarkFlagRequired("candidate")
	rootCmd.AddCommand(validateCmd)
}
