package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ponzirep/core"
	"ponzirep/indexer"
	"ponzirep/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeDuplicateCall  = -32027
)

// OfferIndex answers listing queries the ledger cannot serve directly.
type OfferIndex interface {
	Offers(ctx context.Context, f indexer.Filter) ([]indexer.Offer, error)
	Transfers(ctx context.Context, offerID string) ([]indexer.Transfer, error)
}

// Config holds the server's security knobs. Index is optional; without it the
// listing methods report that the index is disabled.
type Config struct {
	Index        OfferIndex
	JWTSecret    string
	RateLimit    float64
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Tracing wraps the routes in otelhttp server spans. TracerProvider
	// defaults to the global provider.
	Tracing        bool
	TracerProvider trace.TracerProvider
}

type Server struct {
	node    *core.Node
	cfg     Config
	logger  *slog.Logger
	auth    *authenticator
	limiter *rateLimiter
	calls   *callVerifier
	tracer  trace.Tracer
	httpSrv *http.Server
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

// method describes one JSON-RPC method. Write methods require a bearer token
// and are rate limited per token subject. Signed methods act for an account
// and additionally require a SignedCall from it.
type method struct {
	module  string
	write   bool
	signed  bool
	handler handlerFunc
}

func NewServer(node *core.Node, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	return &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		auth:    newAuthenticator(cfg.JWTSecret),
		limiter: newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		calls:   newCallVerifier(),
		tracer:  cfg.TracerProvider.Tracer("ponzirep/rpc"),
	}
}

// Handler returns the HTTP routes: JSON-RPC on / and /rpc, the committed
// event stream on /ws, plus health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	r.Post("/rpc", s.handle)
	r.Get("/ws", s.handleEventsWS)
	if s.cfg.Tracing {
		return otelhttp.NewHandler(r, "ponzirep.rpc", otelhttp.WithTracerProvider(s.cfg.TracerProvider))
	}
	return r
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr), slog.Bool("auth", s.auth.enabled()))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type ctxKey string

const ctxKeyRequestID ctxKey = "rpc.requestID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
	Auth    *SignedCall       `json:"auth,omitempty"`

	// caller is the verified account for signed methods.
	caller common.Address
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// codeRecorder captures the JSON-RPC error code a handler wrote.
type codeRecorder struct {
	http.ResponseWriter
	code int
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if rec, ok := w.(*codeRecorder); ok {
		rec.code = code
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) methods() map[string]method {
	return map[string]method{
		"escrow_createTradeOffer":   {module: "escrow", write: true, signed: true, handler: s.handleCreateTradeOffer},
		"escrow_finaliseTrade":      {module: "escrow", write: true, handler: s.handleFinaliseTrade},
		"escrow_withdrawTradeOffer": {module: "escrow", write: true, signed: true, handler: s.handleWithdrawTradeOffer},
		"escrow_nonces":             {module: "escrow", handler: s.handleNonces},
		"escrow_getTradesCount":     {module: "escrow", handler: s.handleGetTradesCount},
		"escrow_getTrades":          {module: "escrow", handler: s.handleGetTrades},
		"escrow_tradeOffers":        {module: "escrow", handler: s.handleTradeOffers},
		"escrow_balance":            {module: "escrow", handler: s.handleEscrowBalance},
		"escrow_domain":             {module: "escrow", handler: s.handleDomain},
		"escrow_events":             {module: "escrow", handler: s.handleEvents},
		"escrow_listOffers":         {module: "index", handler: s.handleListOffers},
		"escrow_offerTransfers":     {module: "index", handler: s.handleOfferTransfers},
		"gov_setGovernance":         {module: "governance", write: true, signed: true, handler: s.handleSetGovernance},
		"gov_governance":            {module: "governance", handler: s.handleGovernance},
		"ponzirep_balance":          {module: "ledger", handler: s.handleBalance},
		"ponzirep_head":             {module: "ledger", handler: s.handleHead},
		"ponzirep_token":            {module: "ledger", handler: s.handleToken},
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	m, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), "rpc."+req.Method, trace.WithAttributes(
		attribute.String("rpc.method", req.Method),
		attribute.String("rpc.module", m.module),
	))
	r = r.WithContext(ctx)
	rec := &codeRecorder{ResponseWriter: w}
	defer func() {
		if rec.code != 0 {
			span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rec.code))
			span.SetStatus(codes.Error, "rpc error")
		}
		span.End()
		observability.ModuleMetrics().Observe(m.module, req.Method, rec.code, time.Since(start))
		s.logger.Debug("rpc request",
			slog.String("requestId", requestIDFrom(r.Context())),
			slog.String("method", req.Method),
			slog.Int("code", rec.code),
			slog.Duration("duration", time.Since(start)))
	}()

	if m.write {
		subject, authErr := s.auth.authenticate(r)
		if authErr != nil {
			writeError(rec, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if !s.limiter.allow(subject) {
			observability.ModuleMetrics().RecordThrottle(m.module, "rate_limit")
			writeError(rec, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}
	if m.signed {
		caller, status, callErr := s.calls.verify(s.node.Domain().ChainID, s.node.Contract(), req)
		if callErr != nil {
			writeError(rec, status, req.ID, callErr.Code, callErr.Message, callErr.Data)
			return
		}
		req.caller = caller
	}
	m.handler(rec, r, req)
}
