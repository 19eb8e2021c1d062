package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"ponzirep/core/types"
	"ponzirep/crypto"
	"ponzirep/native/governance"
)

// GenesisSpec describes the deployment the ledger starts from: the token that
// hosts the escrow, its owner and deployer, the chain it is bound to, and the
// native balances accounts begin with.
type GenesisSpec struct {
	ChainID      uint64            `json:"chainId" yaml:"chainId"`
	Token        TokenSpec         `json:"token" yaml:"token"`
	Owner        string            `json:"owner" yaml:"owner"`
	Deployer     string            `json:"deployer,omitempty" yaml:"deployer,omitempty"`
	Contract     string            `json:"contract,omitempty" yaml:"contract,omitempty"`
	Founders     []string          `json:"founders,omitempty" yaml:"founders,omitempty"`
	Alloc        map[string]string `json:"alloc,omitempty" yaml:"alloc,omitempty"` // addr -> ether amount
	RejectsValue []string          `json:"rejectsValue,omitempty" yaml:"rejectsValue,omitempty"`
	Governor     *GovernorSpec     `json:"governor,omitempty" yaml:"governor,omitempty"`

	chainID  *big.Int
	owner    common.Address
	deployer common.Address
	contract common.Address
	founders []common.Address
	alloc    map[common.Address]*big.Int
	rejects  []common.Address
	governor common.Address
}

type TokenSpec struct {
	Name   string `json:"name" yaml:"name"`
	Symbol string `json:"symbol" yaml:"symbol"`
}

// GovernorSpec carries the governor contract's constructor parameters. The
// governor address defaults to the deployer's second contract creation.
type GovernorSpec struct {
	Name            string `json:"name" yaml:"name"`
	Address         string `json:"address,omitempty" yaml:"address,omitempty"`
	VotingDelay     uint64 `json:"votingDelay" yaml:"votingDelay"`
	VotingPeriod    uint64 `json:"votingPeriod" yaml:"votingPeriod"`
	QuorumNumerator uint64 `json:"quorumNumerator" yaml:"quorumNumerator"`
	AutoBind        bool   `json:"autoBind" yaml:"autoBind"`
}

// LoadGenesisSpec reads and validates a genesis file. Files ending in .yaml
// or .yml are decoded as YAML, everything else as JSON. Unknown fields are
// rejected in both formats.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// DevGenesis returns a single-owner genesis funding the owner with the given
// amount of wei.
func DevGenesis(chainID uint64, owner common.Address, funds *big.Int) *GenesisSpec {
	alloc := map[string]string{}
	if funds != nil && funds.Sign() > 0 {
		alloc[owner.Hex()] = types.FormatEther(funds)
	}
	return &GenesisSpec{
		ChainID:  chainID,
		Token:    TokenSpec{Name: "PonziRep", Symbol: "PP"},
		Owner:    owner.Hex(),
		Founders: []string{owner.Hex()},
		Alloc:    alloc,
		Governor: &GovernorSpec{
			Name:            "Church of Ponzology",
			VotingDelay:     5,
			VotingPeriod:    12,
			QuorumNumerator: 10,
			AutoBind:        true,
		},
	}
}

func parseAddress(field, value string) (common.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr.IsZero() {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr.Common(), nil
}

// Validate checks the spec and resolves the derived addresses. It must run
// before the accessors are used.
func (s *GenesisSpec) Validate() error {
	if s.ChainID == 0 {
		return fmt.Errorf("chainId must be positive")
	}
	s.chainID = new(big.Int).SetUint64(s.ChainID)

	if strings.TrimSpace(s.Token.Name) == "" {
		return fmt.Errorf("token.name must be provided")
	}
	if strings.TrimSpace(s.Token.Symbol) == "" {
		return fmt.Errorf("token.symbol must be provided")
	}

	owner, err := parseAddress("owner", s.Owner)
	if err != nil {
		return err
	}
	s.owner = owner

	s.deployer = owner
	if strings.TrimSpace(s.Deployer) != "" {
		if s.deployer, err = parseAddress("deployer", s.Deployer); err != nil {
			return err
		}
	}

	s.contract = governance.DeployedAddress(s.deployer, 0)
	if strings.TrimSpace(s.Contract) != "" {
		if s.contract, err = parseAddress("contract", s.Contract); err != nil {
			return err
		}
	}

	s.founders = make([]common.Address, 0, len(s.Founders))
	for i, f := range s.Founders {
		addr, err := parseAddress(fmt.Sprintf("founders[%d]", i), f)
		if err != nil {
			return err
		}
		s.founders = append(s.founders, addr)
	}

	s.alloc = make(map[common.Address]*big.Int, len(s.Alloc))
	for account, amount := range s.Alloc {
		addr, err := parseAddress(fmt.Sprintf("alloc[%q]", account), account)
		if err != nil {
			return err
		}
		if addr == s.contract {
			return fmt.Errorf("alloc[%q]: contract account cannot be pre-funded", account)
		}
		if _, dup := s.alloc[addr]; dup {
			return fmt.Errorf("alloc[%q]: duplicate account", account)
		}
		wei, err := types.ParseEther(amount)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		s.alloc[addr] = wei
	}

	s.rejects = make([]common.Address, 0, len(s.RejectsValue))
	for i, r := range s.RejectsValue {
		addr, err := parseAddress(fmt.Sprintf("rejectsValue[%d]", i), r)
		if err != nil {
			return err
		}
		s.rejects = append(s.rejects, addr)
	}

	s.governor = common.Address{}
	if g := s.Governor; g != nil {
		s.governor = governance.DeployedAddress(s.deployer, 1)
		if strings.TrimSpace(g.Address) != "" {
			if s.governor, err = parseAddress("governor.address", g.Address); err != nil {
				return err
			}
		}
		if err := s.GovernorConfig().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *GenesisSpec) ChainIDValue() *big.Int          { return new(big.Int).Set(s.chainID) }
func (s *GenesisSpec) OwnerAddress() common.Address    { return s.owner }
func (s *GenesisSpec) DeployerAddress() common.Address { return s.deployer }
func (s *GenesisSpec) ContractAddress() common.Address { return s.contract }
func (s *GenesisSpec) GovernorAddress() common.Address { return s.governor }

// GovernorConfig returns the governor constructor parameters, bound to the
// token contract.
func (s *GenesisSpec) GovernorConfig() governance.GovernorConfig {
	if s.Governor == nil {
		return governance.GovernorConfig{}
	}
	return governance.GovernorConfig{
		Name:            s.Governor.Name,
		Token:           s.contract,
		VotingDelay:     s.Governor.VotingDelay,
		VotingPeriod:    s.Governor.VotingPeriod,
		QuorumNumerator: s.Governor.QuorumNumerator,
	}
}

// AutoBind reports whether the governor should be bound at genesis.
func (s *GenesisSpec) AutoBind() bool {
	return s.Governor != nil && s.Governor.AutoBind
}

// sortedAlloc returns the allocations ordered by address.
func (s *GenesisSpec) sortedAlloc() []common.Address {
	out := make([]common.Address, 0, len(s.alloc))
	for addr := range s.alloc {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
