package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/stance-cli/internal/config"
	"github.com/civiclab/stance-cli/internal/ensemble"
	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/model"
)

// cannedGateway always returns the same body.
type cannedGateway struct {
	reply string
}

func (g *cannedGateway) Send(_ context.Context, _ []model.Message, _ model.GenOptions) (*model.RawResponse, error) {
	return &model.RawResponse{Text: g.reply, FinishReason: "stop"}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Annotate: config.AnnotateConfig{MaxRetries: 1, MaxTokens: 1024},
		Ensemble: config.EnsembleConfig{
			Mode:            "scalar",
			MaxConcurrency:  2,
			CallTimeoutSecs: 5,
			Models: []config.ModelRef{
				{Model: "m1", Provider: "p1"},
				{Model: "m2", Provider: "p2"},
			},
		},
		Ollama: config.OllamaConfig{Model: "llama3"},
	}
}

func TestHandleAnnotate(t *testing.T) {
	cfg = testConfig()
	reg := gateway.NewRegistry()
	reg.Register("ollama", &cannedGateway{reply: `{"label":"Progressive","confidence":0.9,"rationale":"x"}`})

	h := handleAnnotate(reg, model.DefaultStanceSchema(), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/annotate",
		strings.NewReader(`{"text":"Expand Medicare","provider":"ollama"}`))
	w := httptest.NewRecorder()
	h(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"label":"Progressive"`)
	assert.Contains(t, body, `"success":true`)
}

func TestHandleAnnotate_MissingText(t *testing.T) {
	cfg = testConfig()
	h := handleAnnotate(gateway.NewRegistry(), model.DefaultStanceSchema(), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/annotate", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "text is required")
}

func TestHandleAnnotate_UnknownProvider(t *testing.T) {
	cfg = testConfig()
	h := handleAnnotate(gateway.NewRegistry(), model.DefaultStanceSchema(), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/annotate",
		strings.NewReader(`{"text":"x","provider":"ollama"}`))
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEnsemble(t *testing.T) {
	cfg = testConfig()
	reg := gateway.NewRegistry()
	reg.Register("p1", &cannedGateway{reply: "-0.8"})
	reg.Register("p2", &cannedGateway{reply: "-0.6"})

	agg := ensemble.New(reg, model.DefaultStanceSchema())
	h := handleEnsemble(agg)

	req := httptest.NewRequest(http.MethodPost, "/v1/ensemble",
		strings.NewReader(`{"text":"Expand Medicare to cover everyone"}`))
	w := httptest.NewRecorder()
	h(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"mean":-0.7`)
	assert.Contains(t, body, `"n_models":2`)
	assert.Contains(t, body, `"agreement":"high"`)
}

func TestHandleEnsemble_AllFail(t *testing.T) {
	cfg = testConfig()
	agg := ensemble.New(gateway.NewRegistry(), model.DefaultStanceSchema())
	h := handleEnsemble(agg)

	req := httptest.NewRequest(http.MethodPost, "/v1/ensemble",
		strings.NewReader(`{"text":"x"}`))
	w := httptest.NewRecorder()
	h(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
}
