package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.ErrorContains(t, err, "service name")

	_, err = Init(context.Background(), Config{ServiceName: "ponzirepd", SampleRatio: 1.5})
	require.ErrorContains(t, err, "sample ratio")
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "ponzirepd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracesShutsDownCleanly(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "ponzirepd",
		Endpoint:    "127.0.0.1:1",
		Insecure:    true,
		Traces:      true,
		SampleRatio: 0.5,
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	require.Contains(t, Sampler(0).Description(), "AlwaysOnSampler")
	require.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
	require.Contains(t, Sampler(1).Description(), "AlwaysOnSampler")
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret , broken, =nokey,x-tenant=ponzirep")
	require.Equal(t, map[string]string{"api-key": "secret", "x-tenant": "ponzirep"}, headers)
}
