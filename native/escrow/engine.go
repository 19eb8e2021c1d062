package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ponzirep/core/events"
	"ponzirep/core/types"
)

type engineState interface {
	nonceState
	vaultState
	TradeOfferPut(*TradeOffer) error
	TradeOfferGet(id common.Hash) (*TradeOffer, bool, error)
	TradeOfferAppend(id common.Hash) (uint64, error)
	TradeOfferCount() (uint64, error)
	TradeOfferIDs() ([]common.Hash, error)
}

// Engine is the trade offer registry. It composes the nonce ledger, the
// signature verifier and the vault, and relies on its host to run each call
// as one atomic transition: when a method returns an error the host discards
// every state write the call made.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	verifier *SignatureVerifier
	nonces   *NonceLedger
	vault    *Vault
}

// NewEngine creates an engine for the given signing domain. The domain's
// verifying contract doubles as the vault account.
func NewEngine(domain Domain) *Engine {
	e := &Engine{
		emitter:  events.NoopEmitter{},
		verifier: NewSignatureVerifier(domain),
	}
	e.SetState(nil)
	return e
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	if state == nil {
		e.nonces = NewNonceLedger(nil)
		e.vault = NewVault(nil, e.verifier.domain.VerifyingContract, e.emitRaw)
		return
	}
	e.nonces = NewNonceLedger(state)
	e.vault = NewVault(state, e.verifier.domain.VerifyingContract, e.emitRaw)
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Domain returns the signing domain clients must use for consent messages.
func (e *Engine) Domain() Domain { return e.verifier.Domain() }

// VaultAccount returns the address holding escrowed value.
func (e *Engine) VaultAccount() common.Address { return e.vault.Account() }

func (e *Engine) emit(evt *types.Event) {
	if evt == nil {
		return
	}
	e.emitRaw(escrowEvent{evt: evt})
}

func (e *Engine) emitRaw(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	return nil
}

// CreateTradeOffer escrows value from caller and opens a new offer under the
// caller's next nonce. value is the native amount attached to the call and
// must equal escrowedAmount. It returns the stored offer and the number of
// offers known afterwards.
func (e *Engine) CreateTradeOffer(caller common.Address, value, escrowedAmount, quotedPrice *big.Int) (*TradeOffer, uint64, error) {
	if err := e.ready(); err != nil {
		return nil, 0, err
	}
	if caller == (common.Address{}) {
		return nil, 0, fmt.Errorf("%w: zero creator", ErrUnauthorized)
	}
	if err := checkUint256("escrowed amount", escrowedAmount); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if escrowedAmount.Sign() == 0 {
		return nil, 0, fmt.Errorf("%w: escrowed amount must be positive", ErrInvalidAmount)
	}
	if err := checkUint256("quoted price", quotedPrice); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if value == nil || value.Cmp(escrowedAmount) != 0 {
		return nil, 0, fmt.Errorf("%w: declared %s, attached %s", ErrValueMismatch, escrowedAmount, formatAmount(value))
	}

	nonce, err := e.nonces.consume(caller)
	if err != nil {
		return nil, 0, err
	}
	id := OfferID(caller, nonce)
	if _, exists, err := e.state.TradeOfferGet(id); err != nil {
		return nil, 0, err
	} else if exists {
		return nil, 0, fmt.Errorf("%w: %s", ErrOfferExists, id.Hex())
	}
	offer := &TradeOffer{
		ID:             id,
		Creator:        caller,
		Nonce:          nonce,
		EscrowedAmount: cloneBigInt(escrowedAmount),
		QuotedPrice:    cloneBigInt(quotedPrice),
		Status:         OfferInitialised,
	}
	if err := e.vault.Deposit(id, caller, offer.EscrowedAmount, value); err != nil {
		return nil, 0, err
	}
	if err := e.state.TradeOfferPut(offer); err != nil {
		return nil, 0, err
	}
	count, err := e.state.TradeOfferAppend(id)
	if err != nil {
		return nil, 0, err
	}
	e.emit(NewOfferCreatedEvent(offer, count))
	return offer.Clone(), count, nil
}

// FinaliseTrade settles an initialised offer once both the creator and a
// counterparty have signed the consent message for it. Anyone may submit the
// signatures. The escrow is released to the address recovered from the
// counterparty signature.
func (e *Engine) FinaliseTrade(offerCreator common.Address, offerCreatorNonce uint64, creatorSig, counterpartySig []byte) (*TradeOffer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	offer, err := e.loadInitialised(OfferID(offerCreator, offerCreatorNonce))
	if err != nil {
		return nil, err
	}
	msg := FinaliseTrade{OfferCreator: offerCreator, OfferCreatorNonce: offerCreatorNonce}
	creator, err := e.verifier.Recover(msg, creatorSig)
	if err != nil {
		return nil, fmt.Errorf("creator signature: %w", err)
	}
	if creator != offer.Creator {
		return nil, fmt.Errorf("creator signature: %w: recovered %s", ErrSignerMismatch, creator.Hex())
	}
	counterparty, err := e.verifier.Recover(msg, counterpartySig)
	if err != nil {
		return nil, fmt.Errorf("counterparty signature: %w", err)
	}
	if counterparty == offer.Creator {
		return nil, ErrSameSigner
	}
	if err := e.checkCustody(offer); err != nil {
		return nil, err
	}
	if _, err := e.vault.Release(offer.ID, counterparty); err != nil {
		return nil, err
	}
	offer.Status = OfferFinalised
	offer.Counterparty = counterparty
	if err := e.state.TradeOfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferFinalisedEvent(offer))
	return offer.Clone(), nil
}

// WithdrawTradeOffer refunds the caller's own initialised offer.
func (e *Engine) WithdrawTradeOffer(caller common.Address, nonce uint64) (*TradeOffer, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	offer, err := e.loadInitialised(OfferID(caller, nonce))
	if err != nil {
		return nil, err
	}
	if offer.Creator != caller {
		return nil, ErrUnauthorized
	}
	if err := e.checkCustody(offer); err != nil {
		return nil, err
	}
	if _, err := e.vault.Refund(offer.ID, offer.Creator); err != nil {
		return nil, err
	}
	offer.Status = OfferWithdrawn
	if err := e.state.TradeOfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferWithdrawnEvent(offer))
	return offer.Clone(), nil
}

func (e *Engine) loadInitialised(id common.Hash) (*TradeOffer, error) {
	offer, ok, err := e.state.TradeOfferGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, id.Hex())
	}
	if offer.Status != OfferInitialised {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidStatus, id.Hex(), offer.Status)
	}
	return offer, nil
}

// checkCustody asserts the vault still holds exactly the offer's escrow.
func (e *Engine) checkCustody(offer *TradeOffer) error {
	held, err := e.vault.Balance(offer.ID)
	if err != nil {
		return err
	}
	if held.Cmp(offer.EscrowedAmount) != 0 {
		return fmt.Errorf("%w: offer %s holds %s, escrowed %s", ErrVaultBalance, offer.ID.Hex(), held, offer.EscrowedAmount)
	}
	return nil
}

// Nonce returns the next nonce for addr.
func (e *Engine) Nonce(addr common.Address) (uint64, error) {
	return e.nonces.Current(addr)
}

// TradesCount returns the number of offers ever created.
func (e *Engine) TradesCount() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.TradeOfferCount()
}

// Trades returns every offer id in creation order.
func (e *Engine) Trades() ([]common.Hash, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.TradeOfferIDs()
}

// TradeOffer returns the stored offer. Unknown ids yield a record with status
// OfferNone and ok=false.
func (e *Engine) TradeOffer(id common.Hash) (*TradeOffer, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	offer, ok, err := e.state.TradeOfferGet(id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return &TradeOffer{ID: id, EscrowedAmount: big.NewInt(0), QuotedPrice: big.NewInt(0), Status: OfferNone}, false, nil
	}
	return offer, true, nil
}

// EscrowBalance returns the value the vault holds for an offer.
func (e *Engine) EscrowBalance(id common.Hash) (*big.Int, error) {
	return e.vault.Balance(id)
}
