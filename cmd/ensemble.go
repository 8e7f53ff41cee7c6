package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civiclab/stance-cli/internal/annlog"
	"github.com/civiclab/stance-cli/internal/ensemble"
	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/internal/store"
)

var (
	ensembleText    string
	ensembleFile    string
	ensembleMode    string
	ensembleSaveRun bool
)

// ensembleOutput is one aggregated result as printed to stdout.
type ensembleOutput struct {
	Text      string           `json:"text"`
	Result    *ensemble.Result `json:"result"`
	Agreement string           `json:"agreement,omitempty"`
	Error     string           `json:"error,omitempty"`
}

var ensembleCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Score texts through the configured model ensemble",
	Long: `Fans one text (--text) or a corpus file (--file) out to every model in
ensemble.models and aggregates the per-model scores. A model that fails
is excluded and shrinks n_models; a line where every model fails is
reported as an error, never as a zero score.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ensembleText == "" && ensembleFile == "" {
			return eris.New("one of --text or --file is required")
		}
		configs := cfg.Ensemble.ModelConfigs()
		if len(configs) == 0 {
			return eris.New("no ensemble models configured (ensemble.models)")
		}

		if ensembleMode == "" {
			ensembleMode = cfg.Ensemble.Mode
		}
		mode := ensemble.ScoringMode(ensembleMode)
		if mode != ensemble.ModeClassify && mode != ensemble.ModeScalar {
			return eris.Errorf("unknown scoring mode: %s", ensembleMode)
		}

		aggOpts := []ensemble.AggregatorOption{
			ensemble.WithMaxRetries(cfg.Annotate.MaxRetries),
			ensemble.WithMaxConcurrency(cfg.Ensemble.MaxConcurrency),
			ensemble.WithCallTimeout(cfg.Ensemble.CallTimeout()),
		}
		if cfg.Annotate.LogFile != "" {
			sink, err := annlog.NewFileSink(cfg.Annotate.LogFile)
			if err != nil {
				return err
			}
			defer sink.Close()
			aggOpts = append(aggOpts, ensemble.WithSink(sink))
		}
		agg := ensemble.New(buildRegistry(), cfg.LabelSchema(), aggOpts...)

		texts := []string{ensembleText}
		if ensembleFile != "" {
			var err error
			texts, err = readLines(ensembleFile)
			if err != nil {
				return err
			}
		}

		return runEnsemble(cmd.Context(), cmd.OutOrStdout(), agg, configs, mode, texts)
	},
}

func runEnsemble(ctx context.Context, out io.Writer, agg *ensemble.Aggregator, configs []model.ModelConfig, mode ensemble.ScoringMode, texts []string) error {
	var st store.Store
	var run *store.Run
	if ensembleSaveRun {
		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		run, err = s.CreateRun(ctx, "stance", store.RunModeEnsemble, configs)
		if err != nil {
			return err
		}
		st = s
	}

	enc := json.NewEncoder(out)
	failed := 0
	for _, text := range texts {
		o := ensembleOutput{Text: text}
		res, err := agg.Aggregate(ctx, text, configs, mode)
		if err != nil {
			o.Error = err.Error()
			failed++
		} else {
			o.Result = res
			o.Agreement = res.Agreement()
		}
		if err := enc.Encode(o); err != nil {
			return eris.Wrap(err, "encode result")
		}
	}

	if st != nil {
		if err := st.SavePromptbook(ctx, run.ID, buildPromptbook(cfg.LabelSchema(), configs...)); err != nil {
			return err
		}
		status := store.RunStatusComplete
		if failed == len(texts) {
			status = store.RunStatusFailed
		}
		if err := st.UpdateRunStatus(ctx, run.ID, status); err != nil {
			return err
		}
	}

	zap.L().Info("ensemble run complete",
		zap.Int("texts", len(texts)),
		zap.Int("failed", failed),
	)
	return nil
}

func init() {
	ensembleCmd.Flags().StringVar(&ensembleText, "text", "", "single text to score")
	ensembleCmd.Flags().StringVar(&ensembleFile, "file", "", "corpus file, one text per line")
	ensembleCmd.Flags().StringVar(&ensembleMode, "mode", "", "scoring mode: scalar or classify (default from config)")
	ensembleCmd.Flags().BoolVar(&ensembleSaveRun, "save-run", false, "persist the run and promptbook to the store")
	rootCmd.AddCommand(ensembleCmd)
}
