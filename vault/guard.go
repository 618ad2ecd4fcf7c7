package vault

import (
	"sync/atomic"

	"github.com/custodia-network/vaultd/types"
)

// guard is the in-progress lock set before any external collaborator call
// (oracle reads, asset transfers) and cleared on every exit path. A nested
// call back into the guarded operation set while the flag is held is
// rejected with ErrReentrantCall.
type guard struct {
	busy atomic.Bool
}

func (g *guard) enter() error {
	if !g.busy.CompareAndSwap(false, true) {
		return types.ErrReentrantCall
	}
	return nil
}

func (g *guard) exit() {
	g.busy.Store(false)
}

func (g *guard) held() bool {
	return g.busy.Load()
}
