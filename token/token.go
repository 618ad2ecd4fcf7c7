package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Transferor moves assets between the vault and the outside world. Every
// method reports success or failure synchronously; a failure means no asset
// moved and the calling operation must abort without mutating the ledger.
type Transferor interface {
	// TransferNative sends the native asset from the vault to the recipient.
	TransferNative(ctx context.Context, to common.Address, amount *big.Int) error
	// Transfer sends token units from the vault to the recipient.
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
	// TransferFrom pulls token units from a depositor into the vault. The
	// depositor must have approved the vault beforehand.
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}
