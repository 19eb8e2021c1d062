package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"ponzirep/core"
	"ponzirep/core/genesis"
	"ponzirep/indexer"
	"ponzirep/native/escrow"
	"ponzirep/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type account struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return account{key: key, addr: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

type testServer struct {
	node    *core.Node
	handler http.Handler
	owner   account
}

func newTestServer(t *testing.T, autoBind bool, cfg Config, funded ...common.Address) *testServer {
	t.Helper()
	owner := newAccount(t)
	spec := genesis.DevGenesis(137, owner.addr, big.NewInt(0))
	spec.Governor.AutoBind = autoBind
	for _, addr := range funded {
		spec.Alloc[addr.Hex()] = "10"
	}
	node, err := core.NewNode(storage.NewMemDB(), spec)
	require.NoError(t, err)
	t.Cleanup(node.Close)
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.RateBurst = 1000
	}
	return &testServer{node: node, handler: NewServer(node, cfg, nil).Handler(), owner: owner}
}

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (ts *testServer) send(t *testing.T, token string, signer *account, method string, params ...interface{}) (int, rawResponse) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		raw = append(raw, encoded)
	}
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method, "params": raw}
	if signer != nil {
		auth, err := SignCall(signer.key, ts.node.Domain().ChainID, ts.node.Contract(), method, raw, time.Now().Add(time.Minute))
		require.NoError(t, err)
		payload["auth"] = auth
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	var resp rawResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func (ts *testServer) call(t *testing.T, token, method string, params ...interface{}) (int, rawResponse) {
	t.Helper()
	return ts.send(t, token, nil, method, params...)
}

func (ts *testServer) signedCall(t *testing.T, signer account, method string, params ...interface{}) (int, rawResponse) {
	t.Helper()
	return ts.send(t, tokenFor(t, signer.addr), &signer, method, params...)
}

func (ts *testServer) mustCall(t *testing.T, token, method string, out interface{}, params ...interface{}) {
	t.Helper()
	status, resp := ts.call(t, token, method, params...)
	requireResult(t, status, resp, out)
}

func (ts *testServer) mustSignedCall(t *testing.T, signer account, method string, out interface{}, params ...interface{}) {
	t.Helper()
	status, resp := ts.signedCall(t, signer, method, params...)
	requireResult(t, status, resp, out)
}

func requireResult(t *testing.T, status int, resp rawResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	require.Equal(t, http.StatusOK, status)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Result, out))
	}
}

func tokenFor(t *testing.T, addr common.Address) string {
	t.Helper()
	token, err := IssueToken(testSecret, addr.Hex(), time.Minute)
	require.NoError(t, err)
	return token
}

func signFinalise(t *testing.T, node *core.Node, signer account, creator common.Address, nonce uint64) string {
	t.Helper()
	sig, err := escrow.Sign(signer.key, node.Domain(), escrow.FinaliseTrade{OfferCreator: creator, OfferCreatorNonce: nonce})
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t, true, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-1")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Equal(t, "trace-1", rec.Header().Get(requestIDHeader))

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestMalformedRequests(t *testing.T) {
	ts := newTestServer(t, true, Config{})

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp rawResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, codeParseError, resp.Error.Code)

	status, resp := ts.call(t, "", "escrow_unknown")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	status, resp = ts.call(t, "", "escrow_nonces")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestWriteMethodsRequireToken(t *testing.T) {
	creator := newAccount(t)
	ts := newTestServer(t, true, Config{}, creator.addr)
	params := createTradeOfferParams{Value: "1", EscrowedAmount: "1", QuotedPrice: "1"}

	status, resp := ts.send(t, "", &creator, "escrow_createTradeOffer", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	forged, err := IssueToken("another-secret-of-sufficient-size", creator.addr.Hex(), time.Minute)
	require.NoError(t, err)
	status, resp = ts.send(t, forged, &creator, "escrow_createTradeOffer", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// The token subject is only a client name; any subject may relay a
	// correctly signed call.
	relay, err := IssueToken(testSecret, "wallet-backend", time.Minute)
	require.NoError(t, err)
	var created CreateTradeOfferResult
	status, resp = ts.send(t, relay, &creator, "escrow_createTradeOffer", params)
	requireResult(t, status, resp, &created)
	require.Equal(t, creator.addr.Hex(), created.Offer.Creator)

	var count uint64
	ts.mustCall(t, "", "escrow_getTradesCount", &count)
	require.EqualValues(t, 1, count)
}

func TestSignedCallRejectsImpersonation(t *testing.T) {
	victim := newAccount(t)
	attacker := newAccount(t)
	ts := newTestServer(t, false, Config{}, victim.addr)
	params := createTradeOfferParams{Value: "5", EscrowedAmount: "5", QuotedPrice: "1"}

	// A valid token naming the victim is not enough without the victim's key.
	status, resp := ts.call(t, tokenFor(t, victim.addr), "escrow_createTradeOffer", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Claiming the victim as sender while signing with another key fails.
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	auth, err := SignCall(attacker.key, ts.node.Domain().ChainID, ts.node.Contract(), "escrow_createTradeOffer",
		[]json.RawMessage{raw}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	auth.From = victim.addr.Hex()
	status, resp = ts.postRaw(t, tokenFor(t, victim.addr), "escrow_createTradeOffer", []json.RawMessage{raw}, auth)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	var bal BalanceJSON
	ts.mustCall(t, "", "ponzirep_balance", &bal, victim.addr.Hex())
	require.Equal(t, "10", bal.Ether)

	// Binding governance needs the owner's signature, not an owner-named token.
	target := ts.node.ConfiguredGovernor().Hex()
	status, resp = ts.call(t, tokenFor(t, ts.owner.addr), "gov_setGovernance", setGovernanceParams{Address: target})
	require.Equal(t, http.StatusUnauthorized, status)
	status, resp = ts.send(t, tokenFor(t, ts.owner.addr), &attacker, "gov_setGovernance", setGovernanceParams{Address: target})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeEscrowForbidden, resp.Error.Code)

	var gov GovernanceJSON
	ts.mustCall(t, "", "gov_governance", &gov)
	require.False(t, gov.Bound)
}

func TestSignedCallReplayExpiryAndTampering(t *testing.T) {
	creator := newAccount(t)
	ts := newTestServer(t, true, Config{}, creator.addr)
	token := tokenFor(t, creator.addr)
	method := "escrow_createTradeOffer"
	raw, err := json.Marshal(createTradeOfferParams{Value: "2", EscrowedAmount: "2", QuotedPrice: "1"})
	require.NoError(t, err)
	params := []json.RawMessage{raw}
	chainID, contract := ts.node.Domain().ChainID, ts.node.Contract()

	auth, err := SignCall(creator.key, chainID, contract, method, params, time.Now().Add(time.Minute))
	require.NoError(t, err)
	status, resp := ts.postRaw(t, token, method, params, auth)
	requireResult(t, status, resp, nil)

	status, resp = ts.postRaw(t, token, method, params, auth)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeDuplicateCall, resp.Error.Code)

	tampered, err := json.Marshal(createTradeOfferParams{Value: "3", EscrowedAmount: "3", QuotedPrice: "1"})
	require.NoError(t, err)
	fresh, err := SignCall(creator.key, chainID, contract, method, params, time.Now().Add(time.Minute))
	require.NoError(t, err)
	status, resp = ts.postRaw(t, token, method, []json.RawMessage{tampered}, fresh)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	wrongMethod, err := SignCall(creator.key, chainID, contract, "escrow_withdrawTradeOffer", params, time.Now().Add(time.Minute))
	require.NoError(t, err)
	status, _ = ts.postRaw(t, token, method, params, wrongMethod)
	require.Equal(t, http.StatusUnauthorized, status)

	expired, err := SignCall(creator.key, chainID, contract, method, params, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	status, resp = ts.postRaw(t, token, method, params, expired)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "signed call expired", resp.Error.Message)

	distant, err := SignCall(creator.key, chainID, contract, method, params, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	status, _ = ts.postRaw(t, token, method, params, distant)
	require.Equal(t, http.StatusUnauthorized, status)

	var count uint64
	ts.mustCall(t, "", "escrow_getTradesCount", &count)
	require.EqualValues(t, 1, count)
}

func (ts *testServer) postRaw(t *testing.T, token, method string, params []json.RawMessage, auth *SignedCall) (int, rawResponse) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method, "params": params, "auth": auth})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	var resp rawResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestReadMethods(t *testing.T) {
	ts := newTestServer(t, true, Config{})

	var domain DomainJSON
	ts.mustCall(t, "", "escrow_domain", &domain)
	expected, err := escrow.DomainSeparator(ts.node.Domain())
	require.NoError(t, err)
	require.Equal(t, expected.Hex(), domain.Separator)
	require.Equal(t, "137", domain.ChainID)
	require.Equal(t, ts.node.Contract().Hex(), domain.VerifyingContract)

	var token TokenJSON
	ts.mustCall(t, "", "ponzirep_token", &token)
	require.Equal(t, "PP", token.Symbol)
	require.Equal(t, ts.owner.addr.Hex(), token.Owner)

	var head HeadJSON
	ts.mustCall(t, "", "ponzirep_head", &head)
	require.Zero(t, head.Height)

	var gov GovernanceJSON
	ts.mustCall(t, "", "gov_governance", &gov)
	require.True(t, gov.Bound)
	require.Equal(t, ts.node.ConfiguredGovernor().Hex(), gov.Address)

	status, resp := ts.call(t, "", "escrow_tradeOffers", "0x1234")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	var offer OfferJSON
	ts.mustCall(t, "", "escrow_tradeOffers", &offer, common.Hash{0x01}.Hex())
	require.Equal(t, "none", offer.Status)
	require.Empty(t, offer.Creator)
}

func TestTradeLifecycleOverRPC(t *testing.T) {
	creator := newAccount(t)
	counterparty := newAccount(t)
	relayer := newAccount(t)
	ts := newTestServer(t, true, Config{}, creator.addr)
	oneEther := "1000000000000000000"

	var created CreateTradeOfferResult
	ts.mustSignedCall(t, creator, "escrow_createTradeOffer", &created,
		createTradeOfferParams{Value: oneEther, EscrowedAmount: oneEther, QuotedPrice: "1800"})
	require.EqualValues(t, 1, created.TradesCount)
	require.Equal(t, escrow.OfferID(creator.addr, 0).Hex(), created.Offer.ID)
	require.Equal(t, "initialised", created.Offer.Status)

	var nonce uint64
	ts.mustCall(t, "", "escrow_nonces", &nonce, creator.addr.Hex())
	require.EqualValues(t, 1, nonce)

	var held string
	ts.mustCall(t, "", "escrow_balance", &held, created.Offer.ID)
	require.Equal(t, oneEther, held)

	var ids []string
	ts.mustCall(t, "", "escrow_getTrades", &ids)
	require.Equal(t, []string{created.Offer.ID}, ids)

	params := finaliseTradeParams{
		OfferCreator:          creator.addr.Hex(),
		OfferCreatorNonce:     0,
		CreatorSignature:      signFinalise(t, ts.node, creator, creator.addr, 0),
		CounterpartySignature: signFinalise(t, ts.node, counterparty, creator.addr, 0),
	}
	var finalised OfferJSON
	ts.mustCall(t, tokenFor(t, relayer.addr), "escrow_finaliseTrade", &finalised, params)
	require.Equal(t, "finalised", finalised.Status)
	require.Equal(t, counterparty.addr.Hex(), finalised.Counterparty)

	var bal BalanceJSON
	ts.mustCall(t, "", "ponzirep_balance", &bal, counterparty.addr.Hex())
	require.Equal(t, oneEther, bal.Wei)
	require.Equal(t, "1", bal.Ether)

	status, resp := ts.call(t, tokenFor(t, relayer.addr), "escrow_finaliseTrade", params)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeEscrowConflict, resp.Error.Code)

	var recs []json.RawMessage
	ts.mustCall(t, "", "escrow_events", &recs, 0)
	require.Len(t, recs, 5)
}

func TestFinaliseRejectsForeignSignature(t *testing.T) {
	creator := newAccount(t)
	counterparty := newAccount(t)
	impostor := newAccount(t)
	ts := newTestServer(t, true, Config{}, creator.addr)

	ts.mustSignedCall(t, creator, "escrow_createTradeOffer", nil,
		createTradeOfferParams{Value: "5", EscrowedAmount: "5", QuotedPrice: "1"})

	status, resp := ts.call(t, tokenFor(t, counterparty.addr), "escrow_finaliseTrade", finaliseTradeParams{
		OfferCreator:          creator.addr.Hex(),
		CreatorSignature:      signFinalise(t, ts.node, impostor, creator.addr, 0),
		CounterpartySignature: signFinalise(t, ts.node, counterparty, creator.addr, 0),
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeEscrowForbidden, resp.Error.Code)

	status, resp = ts.call(t, tokenFor(t, counterparty.addr), "escrow_finaliseTrade", finaliseTradeParams{
		OfferCreator:          creator.addr.Hex(),
		CreatorSignature:      "0xzz",
		CounterpartySignature: signFinalise(t, ts.node, counterparty, creator.addr, 0),
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeEscrowInvalidParams, resp.Error.Code)

	var held string
	ts.mustCall(t, "", "escrow_balance", &held, escrow.OfferID(creator.addr, 0).Hex())
	require.Equal(t, "5", held)
}

func TestWithdrawOverRPC(t *testing.T) {
	creator := newAccount(t)
	other := newAccount(t)
	ts := newTestServer(t, true, Config{}, creator.addr)

	status, resp := ts.signedCall(t, creator, "escrow_createTradeOffer",
		createTradeOfferParams{Value: "4", EscrowedAmount: "5", QuotedPrice: "1"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeEscrowInvalidParams, resp.Error.Code)

	ts.mustSignedCall(t, creator, "escrow_createTradeOffer", nil,
		createTradeOfferParams{Value: "5", EscrowedAmount: "5", QuotedPrice: "1"})

	status, resp = ts.signedCall(t, other, "escrow_withdrawTradeOffer", withdrawTradeOfferParams{Nonce: 0})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeEscrowNotFound, resp.Error.Code)

	var before BalanceJSON
	ts.mustCall(t, "", "ponzirep_balance", &before, creator.addr.Hex())

	var withdrawn OfferJSON
	ts.mustSignedCall(t, creator, "escrow_withdrawTradeOffer", &withdrawn, withdrawTradeOfferParams{Nonce: 0})
	require.Equal(t, "withdrawn", withdrawn.Status)

	var after BalanceJSON
	ts.mustCall(t, "", "ponzirep_balance", &after, creator.addr.Hex())
	b, _ := new(big.Int).SetString(before.Wei, 10)
	a, _ := new(big.Int).SetString(after.Wei, 10)
	require.Equal(t, int64(5), new(big.Int).Sub(a, b).Int64())
}

func TestGovernanceOverRPC(t *testing.T) {
	stranger := newAccount(t)
	ts := newTestServer(t, false, Config{})

	var gov GovernanceJSON
	ts.mustCall(t, "", "gov_governance", &gov)
	require.False(t, gov.Bound)
	require.Equal(t, ts.owner.addr.Hex(), gov.Owner)

	target := ts.node.ConfiguredGovernor().Hex()
	status, resp := ts.signedCall(t, stranger, "gov_setGovernance", setGovernanceParams{Address: target})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeEscrowForbidden, resp.Error.Code)

	status, resp = ts.signedCall(t, ts.owner, "gov_setGovernance", setGovernanceParams{Address: common.Address{}.Hex()})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeEscrowInvalidParams, resp.Error.Code)

	ts.mustSignedCall(t, ts.owner, "gov_setGovernance", &gov, setGovernanceParams{Address: target})
	require.True(t, gov.Bound)
	require.Equal(t, target, gov.Address)

	status, resp = ts.signedCall(t, ts.owner, "gov_setGovernance", setGovernanceParams{Address: stranger.addr.Hex()})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeEscrowConflict, resp.Error.Code)
}

func TestWriteRateLimit(t *testing.T) {
	creator := newAccount(t)
	ts := newTestServer(t, true, Config{RateLimit: 0.001, RateBurst: 1}, creator.addr)
	params := createTradeOfferParams{Value: "1", EscrowedAmount: "1", QuotedPrice: "1"}

	ts.mustSignedCall(t, creator, "escrow_createTradeOffer", nil, params)
	status, resp := ts.signedCall(t, creator, "escrow_createTradeOffer", params)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)

	// reads are not throttled
	var count uint64
	ts.mustCall(t, "", "escrow_getTradesCount", &count)
	ts.mustCall(t, "", "escrow_getTradesCount", &count)
	require.EqualValues(t, 1, count)
}

func TestWriteRateLimitIgnoresForwardedFor(t *testing.T) {
	ts := newTestServer(t, true, Config{RateLimit: 0.001, RateBurst: 1})
	token := tokenFor(t, newAccount(t).addr)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"escrow_finaliseTrade","params":[{}]}`)

	codes := make([]int, 0, 2)
	for _, forwarded := range []string{"198.51.100.1", "198.51.100.2"} {
		req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.NotEqual(t, http.StatusTooManyRequests, codes[0])
	require.Equal(t, http.StatusTooManyRequests, codes[1])
}

func TestRateLimiterEvictsIdleSubjects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := newRateLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.allow("alice"))
	require.False(t, limiter.allow("alice"))
	require.True(t, limiter.allow("bob"))
	require.Equal(t, 2, limiter.size())

	now = now.Add(limiterIdleTTL)
	require.True(t, limiter.allow("carol"))
	require.Equal(t, 1, limiter.size())
}

func TestListOffersThroughIndex(t *testing.T) {
	creator := newAccount(t)
	counterparty := newAccount(t)
	owner := newAccount(t)

	disabled := newTestServer(t, true, Config{})
	status, resp := disabled.call(t, "", "escrow_listOffers")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeIndexDisabled, resp.Error.Code)

	store, err := indexer.Open(indexer.DriverSQLite, filepath.Join(t.TempDir(), "index.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	spec := genesis.DevGenesis(137, owner.addr, big.NewInt(0))
	spec.Alloc[creator.addr.Hex()] = "10"
	node, err := core.NewNode(storage.NewMemDB(), spec, core.WithEventSink(store))
	require.NoError(t, err)
	defer node.Close()
	ts := &testServer{
		node:    node,
		handler: NewServer(node, Config{JWTSecret: testSecret, RateLimit: 100, RateBurst: 100, Index: store}, nil).Handler(),
		owner:   owner,
	}

	for i := 0; i < 2; i++ {
		ts.mustSignedCall(t, creator, "escrow_createTradeOffer", nil,
			createTradeOfferParams{Value: "7", EscrowedAmount: "7", QuotedPrice: "1"})
	}
	ts.mustCall(t, tokenFor(t, creator.addr), "escrow_finaliseTrade", nil, finaliseTradeParams{
		OfferCreator:          creator.addr.Hex(),
		OfferCreatorNonce:     1,
		CreatorSignature:      signFinalise(t, node, creator, creator.addr, 1),
		CounterpartySignature: signFinalise(t, node, counterparty, creator.addr, 1),
	})

	var rows []IndexedOfferJSON
	ts.mustCall(t, "", "escrow_listOffers", &rows, listOffersParams{Creator: creator.addr.Hex()})
	require.Len(t, rows, 2)
	require.Equal(t, "initialised", rows[0].Status)
	require.Equal(t, "finalised", rows[1].Status)
	require.Equal(t, counterparty.addr.Hex(), rows[1].Counterparty)

	ts.mustCall(t, "", "escrow_listOffers", &rows, listOffersParams{Status: "finalised"})
	require.Len(t, rows, 1)

	var transfers []TransferJSON
	ts.mustCall(t, "", "escrow_offerTransfers", &transfers, escrow.OfferID(creator.addr, 1).Hex())
	require.Len(t, transfers, 2)
	require.Equal(t, counterparty.addr.Hex(), transfers[1].To)
}
