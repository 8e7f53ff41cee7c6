package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/stance-cli/internal/gateway"
	"github.com/civiclab/stance-cli/internal/model"
)

func TestParseScore_Strict(t *testing.T) {
	v, err := parseScore("-0.8")
	require.NoError(t, err)
	assert.Equal(t, -0.8, v)

	v, err = parseScore(" +0.25 \n")
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)
}

func TestParseScore_Fenced(t *testing.T) {
	v, err := parseScore("```\n-0.6\n```")
	require.NoError(t, err)
	assert.Equal(t, -0.6, v)
}

func TestParseScore_EmbeddedInProse(t *testing.T) {
	v, err := parseScore("I would rate this text at -0.7 on the scale.")
	require.NoError(t, err)
	assert.Equal(t, -0.7, v)
}

func TestParseScore_OutOfRange(t *testing.T) {
	_, err := parseScore("3.5")
	assert.Error(t, err)
}

func TestParseScore_NoNumber(t *testing.T) {
	_, err := parseScore("quite progressive overall")
	assert.Error(t, err)
	_, err = parseScore("")
	assert.Error(t, err)
}

func TestExtractScore_Success(t *testing.T) {
	gw := &scriptedGateway{replies: []string{"-0.8"}}
	e := New(gw, testCfg)

	v, err := e.ExtractScore(context.Background(), "Expand Medicare", model.DefaultGenOptions(), 1)
	require.NoError(t, err)
	assert.Equal(t, -0.8, v)
	assert.Len(t, gw.calls, 1)
}

func TestExtractScore_RetryThenSuccess(t *testing.T) {
	gw := &scriptedGateway{replies: []string{"leans left", "-0.5"}}
	e := New(gw, testCfg)

	v, err := e.ExtractScore(context.Background(), "text", model.DefaultGenOptions(), 1)
	require.NoError(t, err)
	assert.Equal(t, -0.5, v)
	require.Len(t, gw.calls, 2)
	assert.Contains(t, gw.calls[1][2].Content, "ONLY a single number")
}

func TestExtractScore_Exhaustion(t *testing.T) {
	gw := &scriptedGateway{replies: []string{"no idea", "still no idea"}}
	e := New(gw, testCfg)

	_, err := e.ExtractScore(context.Background(), "text", model.DefaultGenOptions(), 1)
	assert.Error(t, err)
	assert.Len(t, gw.calls, 2)
}

func TestExtractScore_TransportError(t *testing.T) {
	gw := &scriptedGateway{errs: []error{
		gateway.NewTransportError(eris.New("rate limited"), 429),
	}}
	e := New(gw, testCfg)

	_, err := e.ExtractScore(context.Background(), "text", model.DefaultGenOptions(), 1)
	require.Error(t, err)
	assert.True(t, gateway.IsTransport(err))
}
