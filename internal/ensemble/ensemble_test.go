package ensemble

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/model"
)

// fixedGateway always returns the same text.
type fixedGateway struct {
	reply string
}

func (g *fixedGateway) Send(_ context.Context, _ []model.Message, _ model.GenOptions) (*model.RawResponse, error) {
	return &model.RawResponse{Text: g.reply, FinishReason: "stop"}, nil
}

// failingGateway always reports a transport failure.
type failingGateway struct{}

func (g *failingGateway) Send(_ context.Context, _ []model.Message, _ model.GenOptions) (*model.RawResponse, error) {
	return nil, gateway.NewTransportError(eris.New("connection refused"), 0)
}

// slowGateway blocks until its context is canceled.
type slowGateway struct{}

func (g *slowGateway) Send(ctx context.Context, _ []model.Message, _ model.GenOptions) (*model.RawResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var testSchema = model.DefaultStanceSchema()

func registryOf(t *testing.T, gws map[string]gateway.Gateway) *gateway.Registry {
	t.Helper()
	r := gateway.NewRegistry()
	for name, gw := range gws {
		r.Register(name, gw)
	}
	return r
}

func TestAggregate_MedicareScenario(t *testing.T) {
	// Two models returning -0.8 and -0.6: mean -0.70, std 0.10, "high".
	reg := registryOf(t, map[string]gateway.Gateway{
		"p1": &fixedGateway{reply: "-0.8"},
		"p2": &fixedGateway{reply: "-0.6"},
	})
	a := New(reg, testSchema)

	configs := []model.ModelConfig{
		{Model: "gpt-4", Provider: "p1"},
		{Model: "llama3", Provider: "p2"},
	}
	res, err := a.Aggregate(context.Background(), "Expand Medicare to cover everyone", configs, ModeScalar)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.InDelta(t, -0.70, res.Mean, 1e-9)
	assert.InDelta(t, -0.70, res.Median, 1e-9)
	assert.InDelta(t, 0.10, res.Std, 1e-9)
	assert.Equal(t, -0.8, res.Min)
	assert.Equal(t, -0.6, res.Max)
	assert.Equal(t, 2, res.NModels)
	assert.Equal(t, AgreementHigh, res.Agreement())
}

func TestAggregate_FailedModelExcludedOrderPreserved(t *testing.T) {
	reg := registryOf(t, map[string]gateway.Gateway{
		"pa": &fixedGateway{reply: "0.4"},
		"pb": &failingGateway{},
		"pc": &fixedGateway{reply: "0.2"},
	})
	a := New(reg, testSchema)

	configs := []model.ModelConfig{
		{Model: "a", Provider: "pa"},
		{Model: "b", Provider: "pb"},
		{Model: "c", Provider: "pc"},
	}
	res, err := a.Aggregate(context.Background(), "text", configs, ModeScalar)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, res.Scores, 2)
	assert.Equal(t, configs[0], res.Scores[0].Config)
	assert.Equal(t, configs[2], res.Scores[1].Config)
	assert.Equal(t, 2, res.NModels)

	// Population std of two values v1, v2 is |v1-v2|/2.
	assert.InDelta(t, 0.1, res.Std, 1e-9)
}

func TestAggregate_AllModelsFailed(t *testing.T) {
	reg := registryOf(t, map[string]gateway.Gateway{
		"pa": &failingGateway{},
		"pb": &failingGateway{},
	})
	a := New(reg, testSchema)

	configs := []model.ModelConfig{
		{Model: "a", Provider: "pa"},
		{Model: "b", Provider: "pb"},
	}
	res, err := a.Aggregate(context.Background(), "text", configs, ModeScalar)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrAllModelsFailed))
}

func TestAggregate_UnknownProviderExcluded(t *testing.T) {
	reg := registryOf(t, map[string]gateway.Gateway{
		"pa": &fixedGateway{reply: "0.5"},
	})
	a := New(reg, testSchema)

	configs := []model.ModelConfig{
		{Model: "a", Provider: "pa"},
		{Model: "b", Provider: "unregistered"},
	}
	res, err := a.Aggregate(context.Background(), "text", configs, ModeScalar)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NModels)
}

func TestAggregate_EmptyConfigs(t *testing.T) {
	a := New(gateway.NewRegistry(), testSchema)
	_, err := a.Aggregate(context.Background(), "text", nil, ModeScalar)
	assert.Error(t, err)
}

func TestAggregate_ClassifyModeUsesLabelCodes(t *testing.T) {
	reg := registryOf(t, map[string]gateway.Gateway{
		"pa": &fixedGateway{reply: `{"label":"Progressive","confidence":0.9,"rationale":"x"}`},
		"pb": &fixedGateway{reply: `{"label":"Centrist","confidence":0.8,"rationale":"y"}`},
	})
	a := New(reg, testSchema)

	configs := []model.ModelConfig{
		{Model: "a", Provider: "pa"},
		{Model: "b", Provider: "pb"},
	}
	res, err := a.Aggregate(context.Background(), "text", configs, ModeClassify)
	require.NoError(t, err)

	// Progressive=0, Centrist=2 under the default schema ordering.
	require.Len(t, res.Scores, 2)
	assert.Equal(t, 0.0, res.Scores[0].Score)
	assert.Equal(t, 2.0, res.Scores[1].Score)
	assert.Equal(t, 1.0, res.Mean)
}

func TestAggregate_TimeoutExcludesSlowModel(t *testing.T) {
	reg := registryOf(t, map[string]gateway.Gateway{
		"fast": &fixedGateway{reply: "0.3"},
		"slow": &slowGateway{},
	})
	a := New(reg, testSchema,
		WithCallTimeout(20*time.Millisecond),
		WithMaxRetries(0),
	)

	configs := []model.ModelConfig{
		{Model: "a", Provider: "fast"},
		{Model: "b", Provider: "slow"},
	}
	res, err := a.Aggregate(context.Background(), "text", configs, ModeScalar)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NModels)
	assert.Equal(t, 0.3, res.Scores[0].Score)
}

func TestAggregate_SingleModel(t *testing.T) {
	reg := registryOf(t, map[string]gateway.Gateway{
		"pa": &fixedGateway{reply: "0.5"},
	})
	a := New(reg, testSchema)

	res, err := a.Aggregate(context.Background(), "text",
		[]model.ModelConfig{{Model: "a", Provider: "pa"}}, ModeScalar)
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Mean)
	assert.Equal(t, 0.5, res.Median)
	assert.Equal(t, 0.0, res.Std)
	assert.Equal(t, AgreementHigh, res.Agreement())
}
