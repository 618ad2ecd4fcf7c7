package vault

import (
	"fmt"
	"math/big"

	"github.com/custodia-network/vaultd/ledger"
	"github.com/custodia-network/vaultd/types"
	"github.com/syndtr/goleveldb/leveldb"
)

// CapEnforcer decides whether a deposit may proceed against the configured
// USD ceiling. The check reads the running accumulator; the engine commits
// the reserved delta in the same batch as the balance mutation, so check and
// commit are indivisible under the engine's serialization.
type CapEnforcer struct {
	ledger *ledger.Store
}

// NewCapEnforcer builds a cap enforcer over the ledger's global state
func NewCapEnforcer(l *ledger.Store) *CapEnforcer {
	return &CapEnforcer{ledger: l}
}

// CheckAndReserve verifies total + usdDelta <= cap and stages the new
// accumulator value into the batch. The new total is returned for the audit
// record.
func (c *CapEnforcer) CheckAndReserve(batch *leveldb.Batch, usdDelta *big.Int) (*big.Int, error) {
	cap, err := c.ledger.BankCap()
	if err != nil {
		return nil, err
	}
	total, err := c.ledger.TotalDeposited()
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(total, usdDelta)
	if next.Cmp(cap) > 0 {
		return nil, fmt.Errorf("%w: total would be %s against cap %s", types.ErrCapExceeded, next, cap)
	}
	c.ledger.StagePutTotalDeposited(batch, next)
	return next, nil
}

// Release stages a decrement of the accumulator, floored at zero so the
// unsigned invariant holds even when the withdrawal-time price exceeds the
// deposit-time price.
func (c *CapEnforcer) Release(batch *leveldb.Batch, usdDelta *big.Int) (*big.Int, error) {
	total, err := c.ledger.TotalDeposited()
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Sub(total, usdDelta)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	c.ledger.StagePutTotalDeposited(batch, next)
	return next, nil
}

// Raise rejects any new cap that does not strictly increase the ceiling. The
// cap is monotonically non-decreasing so a manager can never squeeze existing
// depositors back out.
func (c *CapEnforcer) Raise(newCap *big.Int) error {
	if newCap == nil || newCap.Sign() <= 0 {
		return fmt.Errorf("%w: cap must be positive", types.ErrInvalidInput)
	}
	cap, err := c.ledger.BankCap()
	if err != nil {
		return err
	}
	if newCap.Cmp(cap) <= 0 {
		return fmt.Errorf("%w: new cap %s must exceed current cap %s", types.ErrInvalidInput, newCap, cap)
	}
	batch := new(leveldb.Batch)
	c.ledger.StagePutBankCap(batch, newCap)
	return c.ledger.Commit(batch)
}
