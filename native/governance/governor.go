package governance

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// GovernorConfig holds the constructor parameters of the external governor
// contract. The escrow only needs the governor's address; the voting knobs
// are carried as opaque configuration.
type GovernorConfig struct {
	Name            string
	Token           common.Address
	VotingDelay     uint64 // blocks
	VotingPeriod    uint64 // blocks
	QuorumNumerator uint64 // percent of supply
}

// Validate checks the parameters for shape only.
func (c GovernorConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("governor: name required")
	}
	if c.Token == (common.Address{}) {
		return fmt.Errorf("governor: token address required")
	}
	if c.VotingPeriod == 0 {
		return fmt.Errorf("governor: voting period must be positive")
	}
	if c.QuorumNumerator > 100 {
		return fmt.Errorf("governor: quorum numerator %d exceeds 100", c.QuorumNumerator)
	}
	return nil
}

// DeployedAddress returns the address a deployer's contract creation at the
// given account nonce lands on.
func DeployedAddress(deployer common.Address, nonce uint64) common.Address {
	return ethcrypto.CreateAddress(deployer, nonce)
}
