package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ponzirep/core/types"
)

type accountRecord struct {
	Balance      *big.Int
	RejectsValue bool
}

func accountKey(addr common.Address) []byte {
	return prefixedKey(accountPrefix, addr.Bytes())
}

// GetAccount returns the account stored for addr. Unknown addresses yield an
// empty account.
func (m *Manager) GetAccount(addr common.Address) (*types.Account, error) {
	var rec accountRecord
	ok, err := m.KVGet(accountKey(addr), &rec)
	if err != nil {
		return nil, fmt.Errorf("state: load account %s: %w", addr.Hex(), err)
	}
	if !ok {
		return types.NewAccount(), nil
	}
	account := &types.Account{Balance: rec.Balance, RejectsValue: rec.RejectsValue}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account, nil
}

// PutAccount stores the account for addr.
func (m *Manager) PutAccount(addr common.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %s", addr.Hex())
	}
	return m.KVPut(accountKey(addr), &accountRecord{Balance: balance, RejectsValue: account.RejectsValue})
}

// Balance returns the native balance of addr.
func (m *Manager) Balance(addr common.Address) (*big.Int, error) {
	account, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Credit adds amount to the balance of addr.
func (m *Manager) Credit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.PutAccount(addr, account)
}

// SetRejectsValue flags whether addr refuses incoming value transfers.
func (m *Manager) SetRejectsValue(addr common.Address, rejects bool) error {
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.RejectsValue = rejects
	return m.PutAccount(addr, account)
}
