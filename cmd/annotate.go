package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civiclab/stance-cli/internal/annlog"
	"github.com/civiclab/stance-cli/internal/extract"
	"github.com/civiclab/stance-cli/internal/model"
	"github.com/civiclab/stance-cli/internal/replicate"
	"github.com/civiclab/stance-cli/internal/store"
)

var (
	annotateText     string
	annotateFile     string
	annotateOut      string
	annotateProvider string
	annotateModelID  string
	annotateSaveRun  bool
)

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Annotate political stance for a text or a corpus file",
	Long: `Annotates one text (--text) or a corpus file with one text per line
(--file). Each extraction terminates in a well-formed record whether or
not the model cooperated; batch mode writes records as CSV and reports
summary counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if annotateText == "" && annotateFile == "" {
			return eris.New("one of --text or --file is required")
		}

		mc, err := resolveModelConfig(annotateProvider, annotateModelID)
		if err != nil {
			return err
		}

		reg := buildRegistry()
		gw, err := reg.Get(mc.Provider)
		if err != nil {
			return err
		}

		var exOpts []extract.Option
		if cfg.Annotate.LogFile != "" {
			sink, err := annlog.NewFileSink(cfg.Annotate.LogFile)
			if err != nil {
				return err
			}
			defer sink.Close()
			exOpts = append(exOpts, extract.WithSink(sink))
		}
		ex := extract.New(gw, mc, exOpts...)

		schema := cfg.LabelSchema()
		opts := model.DefaultGenOptions()
		opts.Temperature = cfg.Annotate.Temperature
		opts.MaxTokens = cfg.Annotate.MaxTokens
		opts.StructuredMode = true

		ctx := cmd.Context()

		if annotateText != "" {
			rec := ex.Extract(ctx, annotateText, schema, opts, cfg.Annotate.MaxRetries)
			return json.NewEncoder(cmd.OutOrStdout()).Encode(rec)
		}

		texts, err := readLines(annotateFile)
		if err != nil {
			return err
		}
		return annotateBatch(ctx, ex, schema, opts, mc, texts)
	},
}

func annotateBatch(ctx context.Context, ex *extract.Extractor, schema model.Schema, opts model.GenOptions, mc model.ModelConfig, texts []string) error {
	var st store.Store
	var run *store.Run
	if annotateSaveRun {
		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		run, err = s.CreateRun(ctx, "stance", store.RunModeAnnotate, []model.ModelConfig{mc})
		if err != nil {
			return err
		}
		st = s
	}

	var w *csv.Writer
	if annotateOut != "" {
		f, err := os.Create(annotateOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", annotateOut)
		}
		defer f.Close()
		w = csv.NewWriter(f)
		defer w.Flush()
		if err := w.Write([]string{"text", "label", "confidence", "rationale", "success", "error"}); err != nil {
			return eris.Wrap(err, "write csv header")
		}
	}

	succeeded := 0
	for i, text := range texts {
		rec := ex.Extract(ctx, text, schema, opts, cfg.Annotate.MaxRetries)
		if rec.Success {
			succeeded++
		}

		if st != nil {
			if err := st.AppendRecord(ctx, run.ID, rec); err != nil {
				return err
			}
		}
		if w != nil {
			if err := w.Write(recordRow(rec)); err != nil {
				return eris.Wrap(err, "write csv row")
			}
		}

		zap.L().Info("annotated",
			zap.Int("n", i+1),
			zap.Int("total", len(texts)),
			zap.Bool("success", rec.Success),
		)
	}

	if st != nil {
		pb := buildPromptbook(schema, mc)
		if err := st.SavePromptbook(ctx, run.ID, pb); err != nil {
			return err
		}
		if err := st.UpdateRunStatus(ctx, run.ID, store.RunStatusComplete); err != nil {
			return err
		}
	}

	zap.L().Info("annotation run complete",
		zap.Int("texts", len(texts)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(texts)-succeeded),
	)
	return nil
}

func recordRow(rec model.AnnotationRecord) []string {
	label, confidence := "", ""
	if rec.Label != nil {
		label = *rec.Label
	}
	if rec.Confidence != nil {
		confidence = strconv.FormatFloat(*rec.Confidence, 'f', -1, 64)
	}
	return []string{rec.SourceText, label, confidence, rec.Rationale, strconv.FormatBool(rec.Success), rec.Error}
}

func buildPromptbook(schema model.Schema, configs ...model.ModelConfig) *replicate.Promptbook {
	pb := &replicate.Promptbook{
		Task:           "political_stance_classification",
		DateCreated:    dateNow(),
		Version:        "1.0",
		PromptTemplate: extract.PromptTemplate(schema),
		OutputSchema:   schema,
	}
	for _, mc := range configs {
		pb.Models = append(pb.Models, replicate.PromptbookModel{
			Name:           mc.Model,
			Provider:       mc.Provider,
			Temperature:    cfg.Annotate.Temperature,
			ResponseFormat: "json",
		})
	}
	return pb
}

// resolveModelConfig fills provider/model from flags, falling back to
// the configured defaults per provider.
func resolveModelConfig(provider, modelID string) (model.ModelConfig, error) {
	if provider == "" {
		provider = "anthropic"
	}
	if modelID == "" {
		switch provider {
		case "anthropic":
			modelID = cfg.Anthropic.Model
		case "openai":
			modelID = cfg.OpenAI.Model
		case "ollama":
			modelID = cfg.Ollama.Model
		default:
			return model.ModelConfig{}, eris.Errorf("unknown provider: %s", provider)
		}
	}
	return model.ModelConfig{Model: modelID, Provider: provider}, nil
}

func init() {
	annotateCmd.Flags().StringVar(&annotateText, "text", "", "single text to annotate")
	annotateCmd.Flags().StringVar(&annotateFile, "file", "", "corpus file, one text per line")
	annotateCmd.Flags().StringVar(&annotateOut, "out", "", "CSV output path for batch mode")
	annotateCmd.Flags().StringVar(&annotateProvider, "provider", "", "gateway provider (default anthropic)")
	annotateCmd.Flags().StringVar(&annotateModelID, "model", "", "model ID (default from provider config)")
	annotateCmd.Flags().BoolVar(&annotateSaveRun, "save-run", false, "persist the batch run and its records to the store")
	rootCmd.AddCommand(annotateCmd)
}
