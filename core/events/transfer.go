package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ponzirep/core/types"
)

const (
	// TypeTransfer is emitted for native value movements.
	TypeTransfer = "transfer.native"
)

// Transfer records a native value movement between two accounts. Reason
// names the escrow step that caused it (deposit, release, refund).
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
	Reason string
	Offer  common.Hash
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   e.From.Hex(),
		"to":     e.To.Hex(),
		"amount": formatAmount(e.Amount),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	if e.Offer != (common.Hash{}) {
		attrs["offerId"] = e.Offer.Hex()
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
