package genesis

import (
	"fmt"

	"ponzirep/core/state"
)

// Apply writes the genesis records into manager in a deterministic order:
// token metadata, allocations sorted by address, then value-rejecting
// accounts. The governance binding is left to the caller so it flows through
// the binding's own checks and events.
func Apply(spec *GenesisSpec, manager *state.Manager) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return fmt.Errorf("state manager must not be nil")
	}
	if spec.chainID == nil {
		if err := spec.Validate(); err != nil {
			return err
		}
	}

	// 1) Token
	if err := manager.RegisterToken(&state.TokenMetadata{
		Name:     spec.Token.Name,
		Symbol:   spec.Token.Symbol,
		Owner:    spec.owner,
		Founders: spec.founders,
	}); err != nil {
		return fmt.Errorf("register token: %w", err)
	}

	// 2) Allocations
	for _, addr := range spec.sortedAlloc() {
		if err := manager.Credit(addr, spec.alloc[addr]); err != nil {
			return fmt.Errorf("alloc[%s]: %w", addr.Hex(), err)
		}
	}

	// 3) Accounts that refuse incoming value
	for _, addr := range spec.rejects {
		if err := manager.SetRejectsValue(addr, true); err != nil {
			return fmt.Errorf("rejectsValue[%s]: %w", addr.Hex(), err)
		}
	}
	return nil
}
