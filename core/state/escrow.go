package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ponzirep/native/escrow"
)

func escrowNonceKey(addr common.Address) []byte {
	return prefixedKey(escrowNoncePrefix, addr.Bytes())
}

func escrowOfferKey(id common.Hash) []byte {
	return prefixedKey(escrowOfferPrefix, id.Bytes())
}

func escrowOfferIndexKey(idx uint64) []byte {
	return prefixedKey(escrowOfferIdxPref, uint64Bytes(idx))
}

func escrowVaultKey(id common.Hash) []byte {
	return prefixedKey(escrowVaultPrefix, id.Bytes())
}

// EscrowNonce returns the next offer nonce for addr.
func (m *Manager) EscrowNonce(addr common.Address) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(escrowNonceKey(addr), &nonce); err != nil {
		return 0, fmt.Errorf("state: load nonce %s: %w", addr.Hex(), err)
	}
	return nonce, nil
}

// EscrowSetNonce stores the next offer nonce for addr. Nonces never move
// backwards.
func (m *Manager) EscrowSetNonce(addr common.Address, nonce uint64) error {
	current, err := m.EscrowNonce(addr)
	if err != nil {
		return err
	}
	if nonce < current {
		return fmt.Errorf("state: nonce for %s cannot decrease from %d to %d", addr.Hex(), current, nonce)
	}
	return m.KVPut(escrowNonceKey(addr), nonce)
}

// TradeOfferPut validates and stores an offer record.
func (m *Manager) TradeOfferPut(offer *escrow.TradeOffer) error {
	sanitized, err := escrow.SanitizeTradeOffer(offer)
	if err != nil {
		return err
	}
	return m.KVPut(escrowOfferKey(sanitized.ID), sanitized)
}

// TradeOfferGet loads an offer record by id.
func (m *Manager) TradeOfferGet(id common.Hash) (*escrow.TradeOffer, bool, error) {
	offer := new(escrow.TradeOffer)
	ok, err := m.KVGet(escrowOfferKey(id), offer)
	if err != nil {
		return nil, false, fmt.Errorf("state: load offer %s: %w", id.Hex(), err)
	}
	if !ok {
		return nil, false, nil
	}
	return offer.Clone(), true, nil
}

// TradeOfferAppend records id at the end of the creation-ordered index and
// returns the new count.
func (m *Manager) TradeOfferAppend(id common.Hash) (uint64, error) {
	count, err := m.TradeOfferCount()
	if err != nil {
		return 0, err
	}
	if err := m.KVPut(escrowOfferIndexKey(count), id); err != nil {
		return 0, err
	}
	count++
	if err := m.KVPut(escrowOfferCountKey, count); err != nil {
		return 0, err
	}
	return count, nil
}

// TradeOfferCount returns the number of indexed offers.
func (m *Manager) TradeOfferCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(escrowOfferCountKey, &count); err != nil {
		return 0, fmt.Errorf("state: load offer count: %w", err)
	}
	return count, nil
}

// TradeOfferIDs returns every indexed offer id in creation order.
func (m *Manager) TradeOfferIDs() ([]common.Hash, error) {
	count, err := m.TradeOfferCount()
	if err != nil {
		return nil, err
	}
	ids := make([]common.Hash, 0, count)
	for i := uint64(0); i < count; i++ {
		var id common.Hash
		ok, err := m.KVGet(escrowOfferIndexKey(i), &id)
		if err != nil {
			return nil, fmt.Errorf("state: load offer index %d: %w", i, err)
		}
		if !ok {
			return nil, fmt.Errorf("state: offer index %d missing", i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EscrowVaultBalance returns the value held for an offer.
func (m *Manager) EscrowVaultBalance(id common.Hash) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(escrowVaultKey(id), balance)
	if err != nil {
		return nil, fmt.Errorf("state: load vault balance %s: %w", id.Hex(), err)
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// EscrowVaultCredit adds amount to the value held for an offer.
func (m *Manager) EscrowVaultCredit(id common.Hash, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: vault credit must be non-negative")
	}
	current, err := m.EscrowVaultBalance(id)
	if err != nil {
		return err
	}
	return m.KVPut(escrowVaultKey(id), new(big.Int).Add(current, amount))
}

// EscrowVaultDebit removes amount from the value held for an offer.
func (m *Manager) EscrowVaultDebit(id common.Hash, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: vault debit must be non-negative")
	}
	current, err := m.EscrowVaultBalance(id)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("state: vault balance %s below debit %s for %s", current, amount, id.Hex())
	}
	return m.KVPut(escrowVaultKey(id), new(big.Int).Sub(current, amount))
}
