package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civiclab/stance-cli/internal/annlog"
	"github.com/civiclab/stance-cli/internal/ensemble"
	"github.com/civiclab/stance-cli/internal/extract"
	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve annotation and ensemble scoring over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := buildRegistry()
		schema := cfg.LabelSchema()

		var sink annlog.Sink
		if cfg.Annotate.LogFile != "" {
			fs, err := annlog.NewFileSink(cfg.Annotate.LogFile)
			if err != nil {
				return err
			}
			defer fs.Close()
			sink = fs
		}

		aggOpts := []ensemble.AggregatorOption{
			ensemble.WithMaxRetries(cfg.Annotate.MaxRetries),
			ensemble.WithMaxConcurrency(cfg.Ensemble.MaxConcurrency),
			ensemble.WithCallTimeout(cfg.Ensemble.CallTimeout()),
		}
		if sink != nil {
			aggOpts = append(aggOpts, ensemble.WithSink(sink))
		}
		agg := ensemble.New(reg, schema, aggOpts...)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Post("/v1/annotate", handleAnnotate(reg, schema, sink))
		r.Post("/v1/ensemble", handleEnsemble(agg))

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func handleAnnotate(reg *gateway.Registry, schema model.Schema, sink annlog.Sink) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Text     string `json:"text"`
			Provider string `json:"provider"`
			Model    string `json:"model"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.Text == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
			return
		}

		mc, err := resolveModelConfig(body.Provider, body.Model)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		gw, err := reg.Get(mc.Provider)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		var exOpts []extract.Option
		if sink != nil {
			exOpts = append(exOpts, extract.WithSink(sink))
		}
		ex := extract.New(gw, mc, exOpts...)

		opts := model.DefaultGenOptions()
		opts.Temperature = cfg.Annotate.Temperature
		opts.MaxTokens = cfg.Annotate.MaxTokens
		opts.StructuredMode = true

		rec := ex.Extract(req.Context(), body.Text, schema, opts, cfg.Annotate.MaxRetries)
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleEnsemble(agg *ensemble.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Text string `json:"text"`
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.Text == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
			return
		}

		mode := ensemble.ScoringMode(body.Mode)
		if body.Mode == "" {
			mode = ensemble.ScoringMode(cfg.Ensemble.Mode)
		}

		configs := cfg.Ensemble.ModelConfigs()
		res, err := agg.Aggregate(req.Context(), body.Text, configs, mode)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, ensembleOutput{
			Text:      body.Text,
			Result:    res,
			Agreement: res.Agreement(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
