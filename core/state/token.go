package state

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenMetadata describes the token contract hosting the escrow: its name and
// symbol, the deploy-time owner, and the founder set passed at construction.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Owner    common.Address
	Founders []common.Address
}

// RegisterToken stores the token metadata. It may only run once per state.
func (m *Manager) RegisterToken(meta *TokenMetadata) error {
	if meta == nil {
		return fmt.Errorf("token metadata required")
	}
	name := strings.TrimSpace(meta.Name)
	symbol := strings.ToUpper(strings.TrimSpace(meta.Symbol))
	if name == "" {
		return fmt.Errorf("token name must not be empty")
	}
	if symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if existing, err := m.Token(); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", existing.Symbol)
	}
	stored := &TokenMetadata{
		Name:     name,
		Symbol:   symbol,
		Owner:    meta.Owner,
		Founders: append([]common.Address(nil), meta.Founders...),
	}
	return m.KVPut(tokenMetadataKey, stored)
}

// Token returns the registered metadata, or nil before registration.
func (m *Manager) Token() (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey, meta)
	if err != nil {
		return nil, fmt.Errorf("state: load token metadata: %w", err)
	}
	if !ok {
		return nil, nil
	}
	if meta.Founders == nil {
		meta.Founders = []common.Address{}
	}
	return meta, nil
}
