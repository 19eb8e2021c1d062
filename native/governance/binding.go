package governance

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"ponzirep/core/events"
	"ponzirep/core/types"
)

const (
	// EventTypeGovernanceBound is emitted when the governance address is set.
	EventTypeGovernanceBound = "governance.bound"
)

var (
	ErrStateNotConfigured = errors.New("governance: state not configured")
	ErrAlreadyBound       = errors.New("governance: already bound")
	ErrNotBound           = errors.New("governance: not bound")
	ErrUnauthorized       = errors.New("governance: unauthorized caller")
	ErrZeroAddress        = errors.New("governance: zero address")
)

type bindingState interface {
	GovernanceGet() (common.Address, bool, error)
	GovernancePut(addr common.Address) error
}

type governanceEvent struct {
	evt *types.Event
}

func (e governanceEvent) EventType() string { return e.evt.Type }

func (e governanceEvent) Event() *types.Event { return e.evt }

// Binding is the write-once pointer from the token contract to its governance
// authority. Only the deploy-time owner may set it, and only once.
type Binding struct {
	state   bindingState
	emitter events.Emitter
	owner   common.Address
}

// NewBinding creates a binding that owner is allowed to set.
func NewBinding(owner common.Address) *Binding {
	return &Binding{emitter: events.NoopEmitter{}, owner: owner}
}

// SetState wires the binding to its state backend.
func (b *Binding) SetState(state bindingState) { b.state = state }

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (b *Binding) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// Owner returns the account allowed to bind governance.
func (b *Binding) Owner() common.Address { return b.owner }

// SetGovernance binds addr permanently.
func (b *Binding) SetGovernance(caller, addr common.Address) error {
	if b == nil || b.state == nil {
		return ErrStateNotConfigured
	}
	if caller != b.owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	if existing, ok, err := b.state.GovernanceGet(); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, existing.Hex())
	}
	if err := b.state.GovernancePut(addr); err != nil {
		return err
	}
	b.emitter.Emit(governanceEvent{evt: &types.Event{
		Type: EventTypeGovernanceBound,
		Attributes: map[string]string{
			"governance": addr.Hex(),
			"setBy":      caller.Hex(),
		},
	}})
	return nil
}

// Governance returns the bound address.
func (b *Binding) Governance() (common.Address, bool, error) {
	if b == nil || b.state == nil {
		return common.Address{}, false, ErrStateNotConfigured
	}
	return b.state.GovernanceGet()
}

// Authorize gates privileged operations on the caller being the bound
// governance address.
func (b *Binding) Authorize(caller common.Address) error {
	gov, ok, err := b.Governance()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotBound
	}
	if caller != gov {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}
	return nil
}
