package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ponzirep/core/events"
	"ponzirep/core/types"
)

const (
	transferReasonDeposit = "escrow.deposit"
	transferReasonRelease = "escrow.release"
	transferReasonRefund  = "escrow.refund"
)

type vaultState interface {
	GetAccount(addr common.Address) (*types.Account, error)
	PutAccount(addr common.Address, account *types.Account) error
	EscrowVaultBalance(id common.Hash) (*big.Int, error)
	EscrowVaultCredit(id common.Hash, amount *big.Int) error
	EscrowVaultDebit(id common.Hash, amount *big.Int) error
}

// Vault holds native value on behalf of individual offers. The value sits on
// the contract's own account; the per-offer ledger tracks how much of it each
// offer owns.
type Vault struct {
	state   vaultState
	account common.Address
	emit    func(events.Event)
}

// NewVault returns a vault whose funds live on account.
func NewVault(state vaultState, account common.Address, emit func(events.Event)) *Vault {
	if emit == nil {
		emit = func(events.Event) {}
	}
	return &Vault{state: state, account: account, emit: emit}
}

// Account returns the address holding escrowed value.
func (v *Vault) Account() common.Address { return v.account }

// Balance returns the value currently held for an offer.
func (v *Vault) Balance(id common.Hash) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, ErrNilState
	}
	return v.state.EscrowVaultBalance(id)
}

// Deposit moves attached value from the payer into custody for an offer. The
// attached value must equal the declared amount exactly.
func (v *Vault) Deposit(id common.Hash, from common.Address, declared, attached *big.Int) error {
	if v == nil || v.state == nil {
		return ErrNilState
	}
	if declared == nil || attached == nil || declared.Cmp(attached) != 0 {
		return fmt.Errorf("%w: declared %s, attached %s", ErrValueMismatch, formatAmount(declared), formatAmount(attached))
	}
	if err := v.transfer(from, v.account, declared, transferReasonDeposit, id); err != nil {
		return err
	}
	return v.state.EscrowVaultCredit(id, declared)
}

// Release pays the offer's full balance to the recipient and returns the
// amount moved.
func (v *Vault) Release(id common.Hash, to common.Address) (*big.Int, error) {
	return v.payout(id, to, transferReasonRelease)
}

// Refund returns the offer's full balance to its creator.
func (v *Vault) Refund(id common.Hash, creator common.Address) (*big.Int, error) {
	return v.payout(id, creator, transferReasonRefund)
}

func (v *Vault) payout(id common.Hash, to common.Address, reason string) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, ErrNilState
	}
	amount, err := v.state.EscrowVaultBalance(id)
	if err != nil {
		return nil, err
	}
	if err := v.transfer(v.account, to, amount, reason, id); err != nil {
		return nil, err
	}
	if err := v.state.EscrowVaultDebit(id, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (v *Vault) transfer(from, to common.Address, amount *big.Int, reason string, id common.Hash) error {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInvalidAmount)
	}
	if amt.Sign() == 0 {
		return nil
	}
	toAcc, err := v.state.GetAccount(to)
	if err != nil {
		return err
	}
	if toAcc.RejectsValue {
		return fmt.Errorf("%w: %s", ErrValueRejected, to.Hex())
	}
	fromAcc, err := v.state.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromAcc.Balance, amt)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	if err := v.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	// Reload in case from == to.
	toAcc, err = v.state.GetAccount(to)
	if err != nil {
		return err
	}
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := v.state.PutAccount(to, toAcc); err != nil {
		return err
	}
	v.emit(events.Transfer{From: from, To: to, Amount: amt, Reason: reason, Offer: id})
	return nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
