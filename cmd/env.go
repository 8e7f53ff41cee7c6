package main

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/store"
	"github.com/civiclab/stance-cli/pkg/anthropic"
	"github.com/civiclab/stance-cli/pkg/ollama"
	"github.com/civiclab/stance-cli/pkg/openaichat"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "stance.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// buildRegistry wires a gateway per configured provider. Providers
// without credentials are skipped; asking for them later fails at the
// registry lookup.
func buildRegistry() *gateway.Registry {
	reg := gateway.NewRegistry()

	if cfg.Anthropic.Key != "" {
		gw := gateway.NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
		reg.Register("anthropic", gateway.WithRateLimit(gw, cfg.Anthropic.RPS, 1))
	}
	if cfg.OpenAI.Key != "" {
		client := openaichat.NewClient(cfg.OpenAI.Key, openaichat.WithBaseURL(cfg.OpenAI.BaseURL))
		gw := gateway.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.JSONFormat)
		reg.Register("openai", gateway.WithRateLimit(gw, cfg.OpenAI.RPS, 1))
	}
	if cfg.Ollama.BaseURL != "" {
		reg.Register("ollama", gateway.NewOllama(ollama.NewClient(cfg.Ollama.BaseURL), cfg.Ollama.Model))
	}

	return reg
}

func dateNow() string {
	return time.Now().UTC().Format("2006-01-02")
}

// readLines loads one text per non-blank line from path.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return lines, nil
}
