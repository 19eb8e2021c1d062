package escrow

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"ponzirep/core/events"
	"ponzirep/core/types"
)

type mockState struct {
	nonces   map[common.Address]uint64
	accounts map[common.Address]*types.Account
	offers   map[common.Hash]*TradeOffer
	order    []common.Hash
	vault    map[common.Hash]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		nonces:   make(map[common.Address]uint64),
		accounts: make(map[common.Address]*types.Account),
		offers:   make(map[common.Hash]*TradeOffer),
		vault:    make(map[common.Hash]*big.Int),
	}
}

func (m *mockState) EscrowNonce(addr common.Address) (uint64, error) { return m.nonces[addr], nil }

func (m *mockState) EscrowSetNonce(addr common.Address, nonce uint64) error {
	m.nonces[addr] = nonce
	return nil
}

func (m *mockState) GetAccount(addr common.Address) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return types.NewAccount(), nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr common.Address, account *types.Account) error {
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) EscrowVaultBalance(id common.Hash) (*big.Int, error) {
	if bal, ok := m.vault[id]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) EscrowVaultCredit(id common.Hash, amount *big.Int) error {
	bal, _ := m.EscrowVaultBalance(id)
	m.vault[id] = bal.Add(bal, amount)
	return nil
}

func (m *mockState) EscrowVaultDebit(id common.Hash, amount *big.Int) error {
	bal, _ := m.EscrowVaultBalance(id)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("vault underflow")
	}
	m.vault[id] = bal.Sub(bal, amount)
	return nil
}

func (m *mockState) TradeOfferPut(o *TradeOffer) error {
	sanitized, err := SanitizeTradeOffer(o)
	if err != nil {
		return err
	}
	m.offers[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) TradeOfferGet(id common.Hash) (*TradeOffer, bool, error) {
	o, ok := m.offers[id]
	if !ok {
		return nil, false, nil
	}
	return o.Clone(), true, nil
}

func (m *mockState) TradeOfferAppend(id common.Hash) (uint64, error) {
	m.order = append(m.order, id)
	return uint64(len(m.order)), nil
}

func (m *mockState) TradeOfferCount() (uint64, error) { return uint64(len(m.order)), nil }

func (m *mockState) TradeOfferIDs() ([]common.Hash, error) {
	return append([]common.Hash(nil), m.order...), nil
}

func (m *mockState) balance(addr common.Address) *big.Int {
	acc, _ := m.GetAccount(addr)
	return acc.Balance
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

type party struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newParty(t *testing.T) party {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return party{key: key, addr: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	oneEther     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func testDomain(chainID int64) Domain {
	return NewDomain("PonziRep", big.NewInt(chainID), testContract)
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneEther)
}

type harness struct {
	engine  *Engine
	state   *mockState
	emitter *captureEmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := newMockState()
	em := &captureEmitter{}
	engine := NewEngine(testDomain(137))
	engine.SetState(st)
	engine.SetEmitter(em)
	return &harness{engine: engine, state: st, emitter: em}
}

func (h *harness) fund(addr common.Address, amount *big.Int) {
	h.state.accounts[addr] = &types.Account{Balance: new(big.Int).Set(amount)}
}

func (h *harness) sign(t *testing.T, p party, creator common.Address, nonce uint64) []byte {
	t.Helper()
	sig, err := Sign(p.key, h.engine.Domain(), FinaliseTrade{OfferCreator: creator, OfferCreatorNonce: nonce})
	require.NoError(t, err)
	return sig
}

func TestCreateTradeOfferScenarioA(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	h.fund(x.addr, ether(10))

	nonce, err := h.engine.Nonce(x.addr)
	require.NoError(t, err)
	require.Zero(t, nonce)

	offer, count, err := h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1800))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, OfferID(x.addr, 0), offer.ID)
	require.Equal(t, OfferInitialised, offer.Status)

	total, err := h.engine.TradesCount()
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	stored, ok, err := h.engine.TradeOffer(offer.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, OfferInitialised, stored.Status)
	require.Equal(t, 0, stored.EscrowedAmount.Cmp(ether(1)))
	require.Equal(t, 0, stored.QuotedPrice.Cmp(ether(1800)))

	next, err := h.engine.Nonce(x.addr)
	require.NoError(t, err)
	require.EqualValues(t, 1, next)

	held, err := h.engine.EscrowBalance(offer.ID)
	require.NoError(t, err)
	require.Equal(t, 0, held.Cmp(ether(1)))
	require.Equal(t, 0, h.state.balance(x.addr).Cmp(ether(9)))
	require.Equal(t, 0, h.state.balance(testContract).Cmp(ether(1)))
	require.Equal(t, []string{events.TypeTransfer, EventTypeOfferCreated}, h.emitter.types())
}

func TestCreateTradeOfferRejectsValueMismatch(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	h.fund(x.addr, ether(10))

	for _, attached := range []*big.Int{nil, ether(2), big.NewInt(0)} {
		_, _, err := h.engine.CreateTradeOffer(x.addr, attached, ether(1), ether(1800))
		require.ErrorIs(t, err, ErrValueMismatch)
	}
	nonce, err := h.engine.Nonce(x.addr)
	require.NoError(t, err)
	require.Zero(t, nonce, "rejected creation must not consume a nonce")
	require.Empty(t, h.emitter.events)
}

func TestCreateTradeOfferRejectsBadAmounts(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	h.fund(x.addr, ether(10))

	_, _, err := h.engine.CreateTradeOffer(x.addr, big.NewInt(0), big.NewInt(0), ether(1))
	require.ErrorIs(t, err, ErrInvalidAmount)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	_, _, err = h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), tooBig)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), big.NewInt(-1))
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = h.engine.CreateTradeOffer(common.Address{}, ether(1), ether(1), ether(1))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreateTradeOfferInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	h.fund(x.addr, big.NewInt(5))

	_, _, err := h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1800))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestNonceIncrementsPerOffer(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	y := newParty(t)
	h.fund(x.addr, ether(10))
	h.fund(y.addr, ether(10))

	seen := make(map[common.Hash]struct{})
	for i := 0; i < 3; i++ {
		offer, count, err := h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1))
		require.NoError(t, err)
		require.EqualValues(t, i, offer.Nonce)
		require.EqualValues(t, i+1, count)
		seen[offer.ID] = struct{}{}
	}
	offer, _, err := h.engine.CreateTradeOffer(y.addr, ether(1), ether(1), ether(1))
	require.NoError(t, err)
	require.Zero(t, offer.Nonce)
	seen[offer.ID] = struct{}{}
	require.Len(t, seen, 4)

	ids, err := h.engine.Trades()
	require.NoError(t, err)
	require.Equal(t, []common.Hash{OfferID(x.addr, 0), OfferID(x.addr, 1), OfferID(x.addr, 2), OfferID(y.addr, 0)}, ids)

	xn, _ := h.engine.Nonce(x.addr)
	yn, _ := h.engine.Nonce(y.addr)
	require.EqualValues(t, 3, xn)
	require.EqualValues(t, 1, yn)
}

func TestFinaliseTradeScenarioB(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	y := newParty(t)
	relayer := newParty(t)
	h.fund(x.addr, ether(2))

	offer, _, err := h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1800))
	require.NoError(t, err)

	sigX := h.sign(t, x, x.addr, 0)
	sigY := h.sign(t, y, x.addr, 0)

	finalised, err := h.engine.FinaliseTrade(x.addr, 0, sigX, sigY)
	require.NoError(t, err)
	require.Equal(t, OfferFinalised, finalised.Status)
	require.Equal(t, y.addr, finalised.Counterparty)

	stored, _, err := h.engine.TradeOffer(offer.ID)
	require.NoError(t, err)
	require.Equal(t, OfferFinalised, stored.Status)
	require.Equal(t, 0, h.state.balance(y.addr).Cmp(ether(1)))
	require.Zero(t, h.state.balance(relayer.addr).Sign())
	held, _ := h.engine.EscrowBalance(offer.ID)
	require.Zero(t, held.Sign())
	require.Zero(t, h.state.balance(testContract).Sign())

	_, err = h.engine.FinaliseTrade(x.addr, 0, sigX, sigY)
	require.ErrorIs(t, err, ErrInvalidStatus)
	_, err = h.engine.WithdrawTradeOffer(x.addr, 0)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestWithdrawTradeOfferScenarioC(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	y := newParty(t)
	h.fund(x.addr, ether(3))

	offer, _, err := h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1800))
	require.NoError(t, err)
	require.Equal(t, 0, h.state.balance(x.addr).Cmp(ether(2)))

	withdrawn, err := h.engine.WithdrawTradeOffer(x.addr, 0)
	require.NoError(t, err)
	require.Equal(t, OfferWithdrawn, withdrawn.Status)
	require.Equal(t, 0, h.state.balance(x.addr).Cmp(ether(3)))
	held, _ := h.engine.EscrowBalance(offer.ID)
	require.Zero(t, held.Sign())

	_, err = h.engine.FinaliseTrade(x.addr, 0, h.sign(t, x, x.addr, 0), h.sign(t, y, x.addr, 0))
	require.ErrorIs(t, err, ErrInvalidStatus)
	_, err = h.engine.WithdrawTradeOffer(x.addr, 0)
	require.ErrorIs(t, err, ErrInvalidStatus)

	count, _ := h.engine.TradesCount()
	require.EqualValues(t, 1, count, "terminal offers stay indexed")
}

func TestWithdrawTradeOfferOnlyCreator(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	y := newParty(t)
	h.fund(x.addr, ether(1))

	_, _, err := h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1))
	require.NoError(t, err)

	_, err = h.engine.WithdrawTradeOffer(y.addr, 0)
	require.ErrorIs(t, err, ErrOfferNotFound)
	_, err = h.engine.WithdrawTradeOffer(x.addr, 7)
	require.ErrorIs(t, err, ErrOfferNotFound)

	stored, _, _ := h.engine.TradeOffer(OfferID(x.addr, 0))
	require.Equal(t, OfferInitialised, stored.Status)
}

func TestFinaliseTradeSignatureFailures(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	y := newParty(t)
	z := newParty(t)
	h.fund(x.addr, ether(1))
	_, _, err := h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1))
	require.NoError(t, err)

	sigX := h.sign(t, x, x.addr, 0)
	sigY := h.sign(t, y, x.addr, 0)

	cases := []struct {
		name    string
		creator []byte
		counter []byte
		want    error
	}{
		{"creator signed by stranger", h.sign(t, z, x.addr, 0), sigY, ErrSignerMismatch},
		{"creator signature for other nonce", h.sign(t, x, x.addr, 1), sigY, ErrSignerMismatch},
		{"counterparty is creator", sigX, sigX, ErrSameSigner},
		{"truncated creator signature", sigX[:64], sigY, ErrInvalidSignature},
		{"empty counterparty signature", sigX, nil, ErrInvalidSignature},
		{"bad recovery byte", sigX, append([]byte{0x05}, sigY[1:]...), ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.FinaliseTrade(x.addr, 0, tc.creator, tc.counter)
			require.ErrorIs(t, err, tc.want)
			stored, _, _ := h.engine.TradeOffer(OfferID(x.addr, 0))
			require.Equal(t, OfferInitialised, stored.Status)
			held, _ := h.engine.EscrowBalance(stored.ID)
			require.Equal(t, 0, held.Cmp(ether(1)))
		})
	}

	_, err = h.engine.FinaliseTrade(y.addr, 0, sigX, sigY)
	require.ErrorIs(t, err, ErrOfferNotFound)
}

func TestFinaliseTradeRejectsReplayFromOtherChain(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	y := newParty(t)
	h.fund(x.addr, ether(1))

	// Scenario D: the deployment on chain 10 rejects consent signed for 137.
	other := NewEngine(testDomain(10))
	other.SetState(h.state)

	_, _, err := other.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1))
	require.NoError(t, err)

	sigX := h.sign(t, x, x.addr, 0)
	sigY := h.sign(t, y, x.addr, 0)
	_, err = other.FinaliseTrade(x.addr, 0, sigX, sigY)
	require.ErrorIs(t, err, ErrSignerMismatch)
}

func TestFinaliseTradeRecipientRejectsValue(t *testing.T) {
	h := newHarness(t)
	x := newParty(t)
	y := newParty(t)
	h.fund(x.addr, ether(1))
	h.state.accounts[y.addr] = &types.Account{Balance: big.NewInt(0), RejectsValue: true}

	_, _, err := h.engine.CreateTradeOffer(x.addr, ether(1), ether(1), ether(1))
	require.NoError(t, err)
	_, err = h.engine.FinaliseTrade(x.addr, 0, h.sign(t, x, x.addr, 0), h.sign(t, y, x.addr, 0))
	require.True(t, errors.Is(err, ErrValueRejected), "got %v", err)
}

func TestTradeOfferUnknownReportsNone(t *testing.T) {
	h := newHarness(t)
	offer, ok, err := h.engine.TradeOffer(common.HexToHash("0x01"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, OfferNone, offer.Status)
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine(testDomain(137))
	_, _, err := engine.CreateTradeOffer(common.HexToAddress("0x01"), ether(1), ether(1), ether(1))
	require.ErrorIs(t, err, ErrNilState)
	_, err = engine.Nonce(common.HexToAddress("0x01"))
	require.ErrorIs(t, err, ErrNilState)
}
