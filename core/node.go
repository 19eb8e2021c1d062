package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ponzirep/core/events"
	"ponzirep/core/genesis"
	"ponzirep/core/state"
	"ponzirep/native/escrow"
	"ponzirep/native/governance"
	"ponzirep/observability/metrics"
	"ponzirep/storage"
	"ponzirep/storage/trie"
)

var headKey = []byte("ponzirep/head")

const tracerName = "ponzirep/core"

var (
	ErrNilDatabase     = errors.New("node: database required")
	ErrGenesisMismatch = errors.New("node: stored ledger does not match genesis")
)

// headRecord is the last committed ledger position, stored outside the trie.
type headRecord struct {
	Root     common.Hash
	Height   uint64
	ChainID  uint64
	Contract common.Address
}

// Node hosts the escrow and governance modules on a single state trie. Every
// state-changing call runs alone and either commits as a whole or leaves no
// trace: state writes are reverted and buffered events dropped.
type Node struct {
	mu sync.Mutex

	db      storage.Database
	trie    *trie.Trie
	state   *state.Manager
	escrow  *escrow.Engine
	gov     *governance.Binding
	pending *events.Buffer
	events  *events.Recorder

	logger     *slog.Logger
	metrics    *metrics.EscrowMetrics
	tracer     trace.Tracer
	sink       events.Emitter
	eventLimit int

	chainID  *big.Int
	contract common.Address
	governor common.Address
	height   uint64
	hasHead  bool
}

// Option customises a Node at construction.
type Option func(*Node)

// WithLogger sets the node logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithEventSink forwards every committed event to sink.
func WithEventSink(sink events.Emitter) Option {
	return func(n *Node) { n.sink = sink }
}

// WithEventLimit bounds how many committed events the node retains.
func WithEventLimit(limit int) Option {
	return func(n *Node) { n.eventLimit = limit }
}

// WithTracerProvider sets where ledger operation spans are recorded. The
// global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(n *Node) {
		if tp != nil {
			n.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithMetrics records ledger activity into m.
func WithMetrics(m *metrics.EscrowMetrics) Option {
	return func(n *Node) { n.metrics = m }
}

// NewNode opens the ledger stored in db. An empty database is initialised
// from spec; an existing one must have been created from a genesis with the
// same chain id and contract address.
func NewNode(db storage.Database, spec *genesis.GenesisSpec, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	if spec == nil {
		return nil, fmt.Errorf("node: genesis spec required")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	n := &Node{
		db:       db,
		pending:  &events.Buffer{},
		logger:   slog.Default(),
		chainID:  spec.ChainIDValue(),
		contract: spec.ContractAddress(),
		governor: spec.GovernorAddress(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.events = events.NewRecorder(n.eventLimit, n.sink)

	head, ok, err := loadHead(db)
	if err != nil {
		return nil, err
	}
	var root []byte
	if ok {
		if head.ChainID != spec.ChainID || head.Contract != n.contract {
			return nil, fmt.Errorf("%w: stored chain %d contract %s", ErrGenesisMismatch, head.ChainID, head.Contract.Hex())
		}
		root = head.Root.Bytes()
		n.height = head.Height
		n.hasHead = true
	}
	n.trie, err = trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("node: open state trie: %w", err)
	}
	n.state = state.NewManager(n.trie)

	n.escrow = escrow.NewEngine(escrow.NewDomain(spec.Token.Name, n.chainID, n.contract))
	n.escrow.SetState(n.state)
	n.escrow.SetEmitter(n.pending)

	owner := spec.OwnerAddress()
	if ok {
		token, err := n.state.Token()
		if err != nil {
			return nil, err
		}
		if token == nil {
			return nil, fmt.Errorf("%w: token metadata missing", ErrGenesisMismatch)
		}
		owner = token.Owner
	}
	n.gov = governance.NewBinding(owner)
	n.gov.SetState(n.state)
	n.gov.SetEmitter(n.pending)

	if !ok {
		if err := n.initGenesis(spec); err != nil {
			return nil, err
		}
	}
	n.logger.Info("ledger opened",
		slog.Uint64("height", n.height),
		slog.String("root", n.trie.Root().Hex()),
		slog.String("contract", n.contract.Hex()),
		slog.String("chainId", n.chainID.String()))
	return n, nil
}

func (n *Node) initGenesis(spec *genesis.GenesisSpec) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.execute(context.Background(), "genesis", func() error {
		if err := genesis.Apply(spec, n.state); err != nil {
			return err
		}
		if spec.AutoBind() {
			// Deploy order: token, governor, then the owner binds the governor.
			return n.gov.SetGovernance(spec.OwnerAddress(), spec.GovernorAddress())
		}
		return nil
	})
}

// execute runs fn as one atomic transition inside a span named after op.
// The caller holds n.mu.
func (n *Node) execute(ctx context.Context, op string, fn func() error) error {
	_, span := n.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("ledger.op", op)))
	defer span.End()

	snapshot := n.trie.Snapshot()
	if err := fn(); err != nil {
		n.trie.RevertToSnapshot(snapshot)
		n.pending.Discard()
		reason := failureReason(err)
		n.metrics.ObserveFailure(op, reason)
		n.logger.Debug("ledger operation aborted", slog.String("op", op), slog.Any("error", err))
		span.SetAttributes(attribute.String("ledger.failure", reason))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := n.commit(op); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int64("ledger.height", int64(n.height)))
	span.SetStatus(codes.Ok, "committed")
	return nil
}

func (n *Node) commit(op string) error {
	height := n.height + 1
	if !n.hasHead {
		height = 0
	}
	parent := n.trie.Root()
	root, err := n.trie.Commit(parent, height)
	if err != nil {
		n.pending.Discard()
		if resetErr := n.trie.Reset(parent); resetErr != nil {
			return fmt.Errorf("node: commit %s: %v (reset failed: %w)", op, err, resetErr)
		}
		return fmt.Errorf("node: commit %s: %w", op, err)
	}
	head := headRecord{Root: root, Height: height, ChainID: n.chainID.Uint64(), Contract: n.contract}
	if err := storeHead(n.db, head); err != nil {
		n.pending.Discard()
		if resetErr := n.trie.Reset(parent); resetErr != nil {
			return fmt.Errorf("node: store head: %v (reset failed: %w)", err, resetErr)
		}
		return err
	}
	n.height = height
	n.hasHead = true
	n.pending.Flush(n.events)

	n.metrics.SetHeight(height)
	if held, err := n.state.Balance(n.contract); err == nil {
		n.metrics.SetValueHeld(held)
	}
	n.logger.Debug("ledger committed", slog.String("op", op), slog.Uint64("height", height), slog.String("root", root.Hex()))
	return nil
}

func loadHead(db storage.Database) (headRecord, bool, error) {
	var head headRecord
	raw, err := db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return head, false, nil
	}
	if err != nil {
		return head, false, fmt.Errorf("node: load head: %w", err)
	}
	if err := rlp.DecodeBytes(raw, &head); err != nil {
		return head, false, fmt.Errorf("node: decode head: %w", err)
	}
	return head, true, nil
}

func storeHead(db storage.Database, head headRecord) error {
	raw, err := rlp.EncodeToBytes(&head)
	if err != nil {
		return fmt.Errorf("node: encode head: %w", err)
	}
	if err := db.Put(headKey, raw); err != nil {
		return fmt.Errorf("node: store head: %w", err)
	}
	return nil
}

// CreateTradeOffer escrows value from caller in a new offer.
func (n *Node) CreateTradeOffer(ctx context.Context, caller common.Address, value, escrowedAmount, quotedPrice *big.Int) (*escrow.TradeOffer, uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var (
		offer *escrow.TradeOffer
		count uint64
	)
	err := n.execute(ctx, "createTradeOffer", func() error {
		var err error
		offer, count, err = n.escrow.CreateTradeOffer(caller, value, escrowedAmount, quotedPrice)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	n.metrics.ObserveTransition(offer.Status.String())
	n.logger.Info("trade offer created",
		slog.String("offerId", offer.ID.Hex()),
		slog.String("creator", caller.Hex()),
		slog.Uint64("nonce", offer.Nonce))
	return offer, count, nil
}

// FinaliseTrade settles an offer with both parties' consent signatures. The
// submitter is not part of the authorisation.
func (n *Node) FinaliseTrade(ctx context.Context, offerCreator common.Address, offerCreatorNonce uint64, creatorSig, counterpartySig []byte) (*escrow.TradeOffer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var offer *escrow.TradeOffer
	err := n.execute(ctx, "finaliseTrade", func() error {
		var err error
		offer, err = n.escrow.FinaliseTrade(offerCreator, offerCreatorNonce, creatorSig, counterpartySig)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.ObserveTransition(offer.Status.String())
	n.logger.Info("trade finalised",
		slog.String("offerId", offer.ID.Hex()),
		slog.String("counterparty", offer.Counterparty.Hex()))
	return offer, nil
}

// WithdrawTradeOffer refunds the caller's initialised offer.
func (n *Node) WithdrawTradeOffer(ctx context.Context, caller common.Address, nonce uint64) (*escrow.TradeOffer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var offer *escrow.TradeOffer
	err := n.execute(ctx, "withdrawTradeOffer", func() error {
		var err error
		offer, err = n.escrow.WithdrawTradeOffer(caller, nonce)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.ObserveTransition(offer.Status.String())
	n.logger.Info("trade offer withdrawn", slog.String("offerId", offer.ID.Hex()))
	return offer, nil
}

// SetGovernance binds the governance address. Only the token owner may call
// it, and only once.
func (n *Node) SetGovernance(ctx context.Context, caller, addr common.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.execute(ctx, "setGovernance", func() error {
		return n.gov.SetGovernance(caller, addr)
	})
	if err != nil {
		return err
	}
	n.logger.Info("governance bound", slog.String("governance", addr.Hex()))
	return nil
}

// Nonce returns the next offer nonce of addr.
func (n *Node) Nonce(addr common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Nonce(addr)
}

// TradesCount returns the number of offers ever created.
func (n *Node) TradesCount() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.TradesCount()
}

// Trades returns every offer id in creation order.
func (n *Node) Trades() ([]common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Trades()
}

// TradeOffer returns an offer by id. Unknown ids report status none.
func (n *Node) TradeOffer(id common.Hash) (*escrow.TradeOffer, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.TradeOffer(id)
}

// EscrowBalance returns the value the vault holds for an offer.
func (n *Node) EscrowBalance(id common.Hash) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.EscrowBalance(id)
}

// Governance returns the bound governance address.
func (n *Node) Governance() (common.Address, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gov.Governance()
}

// Balance returns the native balance of addr.
func (n *Node) Balance(addr common.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Balance(addr)
}

// Token returns the token metadata recorded at genesis.
func (n *Node) Token() (*state.TokenMetadata, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Token()
}

// Domain returns the signing domain for consent messages.
func (n *Node) Domain() escrow.Domain { return n.escrow.Domain() }

// Contract returns the escrow contract address.
func (n *Node) Contract() common.Address { return n.contract }

// Owner returns the account allowed to bind governance.
func (n *Node) Owner() common.Address { return n.gov.Owner() }

// ConfiguredGovernor returns the governor address named by the genesis, or
// zero when it names none.
func (n *Node) ConfiguredGovernor() common.Address { return n.governor }

// Head returns the last committed height and state root.
func (n *Node) Head() (uint64, common.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height, n.trie.Root()
}

// Events returns the retained committed events with a sequence >= from.
func (n *Node) Events(from int64) []events.Record {
	return n.events.Since(from)
}

// SubscribeEvents returns the retained events with a sequence >= from and a
// channel of events committed afterwards. Callers must invoke cancel.
func (n *Node) SubscribeEvents(from int64) ([]events.Record, <-chan events.Record, func()) {
	return n.events.Subscribe(from, 256)
}

// EventSubscribers reports how many event subscriptions are open.
func (n *Node) EventSubscribers() int { return n.events.Subscribers() }

// Close releases the underlying database.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.db.Close()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, escrow.ErrValueMismatch):
		return "value_mismatch"
	case errors.Is(err, escrow.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, escrow.ErrOfferNotFound):
		return "not_found"
	case errors.Is(err, escrow.ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, escrow.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, escrow.ErrSignerMismatch):
		return "signer_mismatch"
	case errors.Is(err, escrow.ErrSameSigner):
		return "same_signer"
	case errors.Is(err, escrow.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, escrow.ErrValueRejected):
		return "value_rejected"
	case errors.Is(err, escrow.ErrUnauthorized), errors.Is(err, governance.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, governance.ErrAlreadyBound):
		return "already_bound"
	case errors.Is(err, governance.ErrZeroAddress):
		return "zero_address"
	default:
		return "internal"
	}
}
