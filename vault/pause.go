package vault

import (
	"fmt"

	"github.com/custodia-network/vaultd/ledger"
	"github.com/custodia-network/vaultd/types"
)

// PauseSwitch is the single global gate managers flip to halt new deposits.
// It brakes deposits only: withdrawals, internal transfers and administrative
// operations keep running while it is set.
type PauseSwitch struct {
	ledger *ledger.Store
}

// NewPauseSwitch builds the deposit gate over the ledger's global state
func NewPauseSwitch(l *ledger.Store) *PauseSwitch {
	return &PauseSwitch{ledger: l}
}

// Paused reports whether new deposits are blocked
func (p *PauseSwitch) Paused() (bool, error) {
	return p.ledger.Paused()
}

// RequireOpen fails with ErrPaused when the gate is set
func (p *PauseSwitch) RequireOpen() error {
	paused, err := p.ledger.Paused()
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("%w: new deposits are halted", types.ErrPaused)
	}
	return nil
}

// Pause blocks initiation of new deposits
func (p *PauseSwitch) Pause() error {
	return p.ledger.SetPaused(true)
}

// Unpause reopens deposits
func (p *PauseSwitch) Unpause() error {
	return p.ledger.SetPaused(false)
}
