package types

import "math/big"

// Account holds the native-currency balance of an address on the host ledger.
//
// RejectsValue marks accounts that refuse incoming value transfers, the way a
// contract without a payable fallback does. Any transition that would credit
// such an account fails as a whole.
type Account struct {
	Balance      *big.Int `json:"balance"`
	RejectsValue bool     `json:"rejectsValue"`
}

// NewAccount returns an empty account with a non-nil balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	} else {
		clone.Balance = big.NewInt(0)
	}
	return &clone
}
