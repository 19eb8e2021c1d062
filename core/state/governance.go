package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// GovernanceGet returns the bound governance address, if any.
func (m *Manager) GovernanceGet() (common.Address, bool, error) {
	var addr common.Address
	ok, err := m.KVGet(governanceKey, &addr)
	if err != nil {
		return common.Address{}, false, fmt.Errorf("state: load governance: %w", err)
	}
	return addr, ok, nil
}

// GovernancePut stores the governance address. The record is write-once: a
// second write fails even with the same address.
func (m *Manager) GovernancePut(addr common.Address) error {
	if _, ok, err := m.GovernanceGet(); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("state: governance already bound")
	}
	return m.KVPut(governanceKey, addr)
}
