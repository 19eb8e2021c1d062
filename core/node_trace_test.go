package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ponzirep/storage"
)

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNodeTracesLedgerOperations(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	owner := newAccount(t)
	x := newAccount(t)
	node, err := NewNode(storage.NewMemDB(), testGenesis(owner.addr, x.addr), WithTracerProvider(tp))
	require.NoError(t, err)
	defer node.Close()

	ctx, parent := tp.Tracer("test").Start(context.Background(), "request")
	_, _, err = node.CreateTradeOffer(ctx, x.addr, ether(1), ether(1), ether(1))
	require.NoError(t, err)
	_, _, err = node.CreateTradeOffer(ctx, x.addr, ether(50), ether(50), ether(1))
	require.Error(t, err)
	parent.End()

	var ledger []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "ledger.createTradeOffer" {
			ledger = append(ledger, span)
		}
	}
	require.Len(t, ledger, 2)
	require.Equal(t, "ledger.genesis", recorder.Ended()[0].Name())

	ok := ledger[0]
	require.Equal(t, codes.Ok, ok.Status().Code)
	require.Equal(t, parent.SpanContext().SpanID(), ok.Parent().SpanID())
	height, found := spanAttr(ok, "ledger.height")
	require.True(t, found)
	require.EqualValues(t, 1, height.AsInt64())

	failed := ledger[1]
	require.Equal(t, codes.Error, failed.Status().Code)
	reason, found := spanAttr(failed, "ledger.failure")
	require.True(t, found)
	require.Equal(t, "insufficient_balance", reason.AsString())
	require.NotEmpty(t, failed.Events(), "the error is recorded on the span")
}
