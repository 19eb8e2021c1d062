package rpc

import (
	"math/big"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ponzirep/core"
	"ponzirep/core/genesis"
	"ponzirep/storage"
)

func TestRequestsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	owner := newAccount(t)
	creator := newAccount(t)
	spec := genesis.DevGenesis(137, owner.addr, big.NewInt(0))
	spec.Alloc[creator.addr.Hex()] = "10"
	node, err := core.NewNode(storage.NewMemDB(), spec, core.WithTracerProvider(tp))
	require.NoError(t, err)
	t.Cleanup(node.Close)
	ts := &testServer{
		node:    node,
		handler: NewServer(node, Config{JWTSecret: testSecret, RateLimit: 100, RateBurst: 100, Tracing: true, TracerProvider: tp}, nil).Handler(),
		owner:   owner,
	}

	ts.mustSignedCall(t, creator, "escrow_createTradeOffer", nil,
		createTradeOfferParams{Value: "1", EscrowedAmount: "1", QuotedPrice: "1"})
	status, _ := ts.call(t, "", "escrow_createTradeOffer", createTradeOfferParams{Value: "1", EscrowedAmount: "1", QuotedPrice: "1"})
	require.Equal(t, http.StatusUnauthorized, status)

	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, span := range recorder.Ended() {
		byName[span.Name()] = append(byName[span.Name()], span)
	}
	require.Len(t, byName["ponzirep.rpc"], 2)
	require.Len(t, byName["rpc.escrow_createTradeOffer"], 2)
	require.Len(t, byName["ledger.createTradeOffer"], 1)

	served := byName["rpc.escrow_createTradeOffer"][0]
	ledger := byName["ledger.createTradeOffer"][0]
	require.Equal(t, served.SpanContext().SpanID(), ledger.Parent().SpanID())
	require.Equal(t, served.SpanContext().TraceID(), ledger.SpanContext().TraceID())
	require.NotEqual(t, codes.Error, served.Status().Code)

	rejected := byName["rpc.escrow_createTradeOffer"][1]
	require.Equal(t, codes.Error, rejected.Status().Code)
	var errorCode int64
	for _, kv := range rejected.Attributes() {
		if kv.Key == "rpc.jsonrpc.error_code" {
			errorCode = kv.Value.AsInt64()
		}
	}
	require.EqualValues(t, codeUnauthorized, errorCode)
}
