package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// OfferStatus represents the lifecycle states of a trade offer. The numeric
// values match the status enum exposed to off-chain clients.
type OfferStatus uint8

const (
	OfferNone OfferStatus = iota
	OfferInitialised
	OfferFinalised
	OfferWithdrawn
)

// Valid reports whether the status value is within the supported range.
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferNone, OfferInitialised, OfferFinalised, OfferWithdrawn:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s OfferStatus) Terminal() bool {
	return s == OfferFinalised || s == OfferWithdrawn
}

func (s OfferStatus) String() string {
	switch s {
	case OfferNone:
		return "none"
	case OfferInitialised:
		return "initialised"
	case OfferFinalised:
		return "finalised"
	case OfferWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// TradeOffer is a creator's escrowed native value awaiting counterparty
// consent. The identifier is derived from the creator and the creator's
// nonce at creation; neither changes afterwards.
//
// Counterparty stays zero until the offer is finalised and then records the
// co-signer that received the escrow.
type TradeOffer struct {
	ID             common.Hash
	Creator        common.Address
	Nonce          uint64
	EscrowedAmount *big.Int
	QuotedPrice    *big.Int
	Status         OfferStatus
	Counterparty   common.Address
}

// Clone returns a deep copy of the offer so callers can safely mutate the copy
// without affecting the stored instance.
func (o *TradeOffer) Clone() *TradeOffer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.EscrowedAmount = cloneBigInt(o.EscrowedAmount)
	clone.QuotedPrice = cloneBigInt(o.QuotedPrice)
	return &clone
}

// SanitizeTradeOffer validates the supplied offer and returns a clone. Both
// amounts must be set. The original value is not mutated.
func SanitizeTradeOffer(o *TradeOffer) (*TradeOffer, error) {
	if o == nil {
		return nil, fmt.Errorf("trade offer: nil offer")
	}
	if o.EscrowedAmount == nil {
		return nil, fmt.Errorf("trade offer: escrowed amount required")
	}
	if o.QuotedPrice == nil {
		return nil, fmt.Errorf("trade offer: quoted price required")
	}
	clone := o.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("trade offer: invalid status %d", clone.Status)
	}
	if clone.Status == OfferNone {
		return nil, fmt.Errorf("trade offer: status none cannot be stored")
	}
	if err := checkUint256("escrowed amount", clone.EscrowedAmount); err != nil {
		return nil, err
	}
	if err := checkUint256("quoted price", clone.QuotedPrice); err != nil {
		return nil, err
	}
	if clone.Creator == (common.Address{}) {
		return nil, fmt.Errorf("trade offer: creator required")
	}
	if want := OfferID(clone.Creator, clone.Nonce); clone.ID != want {
		return nil, fmt.Errorf("trade offer: id %s does not match creator/nonce (want %s)", clone.ID.Hex(), want.Hex())
	}
	return clone, nil
}

var offerIDArguments = mustOfferIDArguments()

func mustOfferIDArguments() abi.Arguments {
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uintType, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: addressType}, {Type: uintType}}
}

// OfferID computes keccak256(abi.encode(creator, nonce)).
func OfferID(creator common.Address, nonce uint64) common.Hash {
	packed, err := offerIDArguments.Pack(creator, new(big.Int).SetUint64(nonce))
	if err != nil {
		// Both argument types are fixed; packing cannot fail.
		panic(fmt.Sprintf("escrow: pack offer id: %v", err))
	}
	return ethcrypto.Keccak256Hash(packed)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// checkUint256 rejects values that do not fit an unsigned 256-bit word.
func checkUint256(field string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("trade offer: %s required", field)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("trade offer: %s must not be negative", field)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("trade offer: %s exceeds 256 bits", field)
	}
	return nil
}
