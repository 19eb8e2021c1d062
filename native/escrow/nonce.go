package escrow

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

type nonceState interface {
	EscrowNonce(addr common.Address) (uint64, error)
	EscrowSetNonce(addr common.Address, nonce uint64) error
}

// NonceLedger tracks the per-account offer counters. A counter starts at zero
// and only ever moves up by one per created offer.
type NonceLedger struct {
	state nonceState
}

// NewNonceLedger wires a ledger to the provided state.
func NewNonceLedger(state nonceState) *NonceLedger {
	return &NonceLedger{state: state}
}

// Current returns the next nonce the account will use. Unseen accounts
// report zero.
func (l *NonceLedger) Current(addr common.Address) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, ErrNilState
	}
	return l.state.EscrowNonce(addr)
}

// consume returns the current nonce and stores its successor. Only offer
// creation calls it.
func (l *NonceLedger) consume(addr common.Address) (uint64, error) {
	current, err := l.Current(addr)
	if err != nil {
		return 0, err
	}
	if current == math.MaxUint64 {
		return 0, fmt.Errorf("%w: %s", ErrNonceOverflow, addr.Hex())
	}
	if err := l.state.EscrowSetNonce(addr, current+1); err != nil {
		return 0, err
	}
	return current, nil
}
