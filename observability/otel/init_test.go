package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "brokerd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{Traces: true})
	require.ErrorIs(t, err, ErrServiceName)
}

func TestNewResourceTagsChain(t *testing.T) {
	res, err := newResource(Config{ServiceName: "brokerd", Environment: "test", ChainID: 31337})
	require.NoError(t, err)
	found := map[string]string{}
	for _, kv := range res.Attributes() {
		found[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "brokerd", found["service.name"])
	require.Equal(t, "31337", found["brokerfund.chain_id"])
}

func TestSamplerBounds(t *testing.T) {
	always := sdktrace.ParentBased(sdktrace.AlwaysSample()).Description()
	require.Equal(t, always, sampler(0).Description())
	require.Equal(t, always, sampler(1.5).Description())
	require.NotEqual(t, always, sampler(0.25).Description())
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=fund")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "fund"}, headers)
	require.Empty(t, ParseHeaders(""))
}
