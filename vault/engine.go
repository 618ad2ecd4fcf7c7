package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/custodia-network/vaultd/audit"
	"github.com/custodia-network/vaultd/ledger"
	"github.com/custodia-network/vaultd/oracle"
	"github.com/custodia-network/vaultd/roles"
	"github.com/custodia-network/vaultd/token"
	"github.com/custodia-network/vaultd/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
)

// DefaultNativeDecimals is the atomic-unit scale of the native asset.
const DefaultNativeDecimals = 18

// Engine orchestrates every vault operation: authorize, check global gates,
// price the USD effect, enforce the cap, mutate the ledger, emit the audit
// event. All mutating calls execute in a total order behind a single mutex;
// each call stages its writes into one batch and commits once, so any
// failure leaves the ledger exactly as it was.
type Engine struct {
	mu    sync.Mutex
	guard guard

	ledger   *ledger.Store
	registry *roles.Registry
	price    oracle.PriceSource
	assets   token.Transferor
	audit    *audit.Log
	cap      *CapEnforcer
	pause    *PauseSwitch

	vaultAddr      common.Address
	nativeDecimals uint
	log            *logrus.Logger
}

// Config wires the engine's collaborators
type Config struct {
	Ledger   *ledger.Store
	Registry *roles.Registry
	Price    oracle.PriceSource
	Assets   token.Transferor
	Audit    *audit.Log
	// VaultAddr is the vault's own on-chain address, the destination of
	// pulled token deposits.
	VaultAddr common.Address
	// NativeDecimals defaults to 18 when zero.
	NativeDecimals uint
	Log            *logrus.Logger
}

// NewEngine builds the transfer engine
func NewEngine(cfg Config) *Engine {
	decimals := cfg.NativeDecimals
	if decimals == 0 {
		decimals = DefaultNativeDecimals
	}
	return &Engine{
		ledger:         cfg.Ledger,
		registry:       cfg.Registry,
		price:          cfg.Price,
		assets:         cfg.Assets,
		audit:          cfg.Audit,
		cap:            NewCapEnforcer(cfg.Ledger),
		pause:          NewPauseSwitch(cfg.Ledger),
		vaultAddr:      cfg.VaultAddr,
		nativeDecimals: decimals,
		log:            cfg.Log,
	}
}

// Cap exposes the enforcer for read paths
func (e *Engine) Cap() *CapEnforcer { return e.cap }

// Pause exposes the deposit gate for read paths
func (e *Engine) Pause() *PauseSwitch { return e.pause }

func (e *Engine) authorize(role types.Role, id common.Address) error {
	has, err := e.registry.Has(role, id)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("%w: %s lacks role %s", types.ErrUnauthorized, id.Hex(), role)
	}
	return nil
}

func requireIdentity(id common.Address) error {
	if id == (common.Address{}) {
		return fmt.Errorf("%w: zero identity", types.ErrInvalidInput)
	}
	return nil
}

func requireAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", types.ErrInvalidInput)
	}
	return nil
}

func (e *Engine) requireAccount(id common.Address) (*types.Account, error) {
	acc, err := e.ledger.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if acc == nil || !acc.Exists {
		return nil, fmt.Errorf("%w: no account for %s", types.ErrNotFound, id.Hex())
	}
	return acc, nil
}

// enter rejects nested re-entry while an external collaborator call is in
// flight, then takes the serialization lock.
func (e *Engine) enter() (func(), error) {
	if e.guard.held() {
		return nil, types.ErrReentrantCall
	}
	e.mu.Lock()
	return e.mu.Unlock, nil
}

// fetchPrice reads the oracle under the reentrancy guard and validates the
// sign. There is no staleness check beyond positivity and never a fallback.
func (e *Engine) fetchPrice(ctx context.Context) (*big.Int, error) {
	if err := e.guard.enter(); err != nil {
		return nil, err
	}
	defer e.guard.exit()

	price, err := e.price.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrOraclePriceInvalid, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: reported price %v", types.ErrOraclePriceInvalid, price)
	}
	return price, nil
}

// externally runs an asset-transfer call under the reentrancy guard, mapping
// any failure to ErrExternalTransferFailed.
func (e *Engine) externally(fn func() error) error {
	if err := e.guard.enter(); err != nil {
		return err
	}
	defer e.guard.exit()

	if err := fn(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrExternalTransferFailed, err)
	}
	return nil
}

func (e *Engine) emit(ev types.Event) {
	if err := e.audit.Append(ev); err != nil {
		e.log.Warnf("Failed to append audit event %s: %v", ev.Kind, err)
	}
}

// CreateAccount registers a new account for target and grants it the Client
// role in the same atomic write. Administrator only.
func (e *Engine) CreateAccount(caller, target common.Address) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleAdmin, caller); err != nil {
		return err
	}
	if err := requireIdentity(target); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if _, err := e.ledger.CreateAccount(batch, target); err != nil {
		return err
	}
	e.registry.StageGrant(batch, types.RoleClient, target)
	if err := e.ledger.Commit(batch); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventAccountCreated, caller)
	ev.Target = target
	e.emit(ev)
	return nil
}

// Balance returns the caller's own native balance. Client only.
func (e *Engine) Balance(caller common.Address) (*big.Int, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := e.authorize(types.RoleClient, caller); err != nil {
		return nil, err
	}
	acc, err := e.requireAccount(caller)
	if err != nil {
		return nil, err
	}
	return acc.NativeBalance, nil
}

// TokenBalance returns the caller's balance of one token. Client only.
func (e *Engine) TokenBalance(caller, tokenAddr common.Address) (*big.Int, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := e.authorize(types.RoleClient, caller); err != nil {
		return nil, err
	}
	if _, err := e.requireAccount(caller); err != nil {
		return nil, err
	}
	return e.ledger.TokenBalance(tokenAddr, caller)
}

// Deposit credits native units already received with the call, after pricing
// them against the USD cap at the current oracle price.
func (e *Engine) Deposit(ctx context.Context, caller common.Address, amount *big.Int) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleClient, caller); err != nil {
		return err
	}
	if _, err := e.requireAccount(caller); err != nil {
		return err
	}
	if err := requireAmount(amount); err != nil {
		return err
	}
	if err := e.pause.RequireOpen(); err != nil {
		return err
	}

	price, err := e.fetchPrice(ctx)
	if err != nil {
		return err
	}
	usd := oracle.USDValue(amount, price, e.nativeDecimals)

	batch := new(leveldb.Batch)
	if _, err := e.cap.CheckAndReserve(batch, usd); err != nil {
		return err
	}
	if _, err := e.ledger.StageCreditNative(batch, caller, amount); err != nil {
		return err
	}
	if err := e.ledger.Commit(batch); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventDepositMade, caller)
	ev.Amount = amount
	ev.USDValue = usd
	e.emit(ev)
	return nil
}

// Withdraw debits the caller's native balance and sends the asset out. The
// accumulator is released at the current price, not the deposit-time price;
// the resulting drift is intentional. The ledger commit happens only after
// the outbound transfer succeeds.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleClient, caller); err != nil {
		return err
	}
	if _, err := e.requireAccount(caller); err != nil {
		return err
	}
	if err := requireAmount(amount); err != nil {
		return err
	}

	price, err := e.fetchPrice(ctx)
	if err != nil {
		return err
	}
	usd := oracle.USDValue(amount, price, e.nativeDecimals)

	batch := new(leveldb.Batch)
	if _, err := e.ledger.StageDebitNative(batch, caller, amount); err != nil {
		return err
	}
	if _, err := e.cap.Release(batch, usd); err != nil {
		return err
	}

	if err := e.externally(func() error {
		return e.assets.TransferNative(ctx, caller, amount)
	}); err != nil {
		return err
	}
	if err := e.ledger.Commit(batch); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventWithdrawalMade, caller)
	ev.Amount = amount
	ev.USDValue = usd
	e.emit(ev)
	return nil
}

// DepositToken pulls token units from the caller into the vault. Token
// deposits never count against the USD cap but require the token to be
// whitelisted at call time.
func (e *Engine) DepositToken(ctx context.Context, caller, tokenAddr common.Address, amount *big.Int) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleClient, caller); err != nil {
		return err
	}
	if _, err := e.requireAccount(caller); err != nil {
		return err
	}
	if err := requireIdentity(tokenAddr); err != nil {
		return err
	}
	if err := requireAmount(amount); err != nil {
		return err
	}
	if err := e.pause.RequireOpen(); err != nil {
		return err
	}
	allowed, err := e.ledger.TokenAllowed(tokenAddr)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s", types.ErrTokenNotAllowed, tokenAddr.Hex())
	}

	batch := new(leveldb.Batch)
	if _, err := e.ledger.StageCreditToken(batch, tokenAddr, caller, amount); err != nil {
		return err
	}

	if err := e.externally(func() error {
		return e.assets.TransferFrom(ctx, tokenAddr, caller, e.vaultAddr, amount)
	}); err != nil {
		return err
	}
	if err := e.ledger.Commit(batch); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventTokenDeposit, caller)
	ev.Token = tokenAddr
	ev.Amount = amount
	e.emit(ev)
	return nil
}

// WithdrawToken debits the caller's token balance and sends the token out.
// Whitelist membership is not checked: balances of a since-disallowed token
// stay withdrawable.
func (e *Engine) WithdrawToken(ctx context.Context, caller, tokenAddr common.Address, amount *big.Int) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleClient, caller); err != nil {
		return err
	}
	if _, err := e.requireAccount(caller); err != nil {
		return err
	}
	if err := requireIdentity(tokenAddr); err != nil {
		return err
	}
	if err := requireAmount(amount); err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	if _, err := e.ledger.StageDebitToken(batch, tokenAddr, caller, amount); err != nil {
		return err
	}

	if err := e.externally(func() error {
		return e.assets.Transfer(ctx, tokenAddr, caller, amount)
	}); err != nil {
		return err
	}
	if err := e.ledger.Commit(batch); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventTokenWithdrawal, caller)
	ev.Token = tokenAddr
	ev.Amount = amount
	e.emit(ev)
	return nil
}

// TransferTo moves native balance between two vault accounts. No external
// asset moves and the deposited-USD accumulator is untouched.
func (e *Engine) TransferTo(caller, to common.Address, amount *big.Int) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleClient, caller); err != nil {
		return err
	}
	if err := requireIdentity(to); err != nil {
		return err
	}
	if to == caller {
		return fmt.Errorf("%w: self transfer", types.ErrInvalidInput)
	}
	if err := requireAmount(amount); err != nil {
		return err
	}
	if _, err := e.requireAccount(caller); err != nil {
		return err
	}
	if _, err := e.requireAccount(to); err != nil {
		return err
	}

	if err := e.ledger.TransferNativeInternal(caller, to, amount); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventTransferMade, caller)
	ev.Target = to
	ev.Amount = amount
	e.emit(ev)
	return nil
}

// AllowToken opens a token for deposits. Manager only.
func (e *Engine) AllowToken(caller, tokenAddr common.Address) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleManager, caller); err != nil {
		return err
	}
	if err := requireIdentity(tokenAddr); err != nil {
		return err
	}
	if err := e.ledger.AllowToken(tokenAddr); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventTokenAllowed, caller)
	ev.Token = tokenAddr
	e.emit(ev)
	return nil
}

// DisallowToken blocks new deposits of a token; held balances stay
// withdrawable. Manager only.
func (e *Engine) DisallowToken(caller, tokenAddr common.Address) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleManager, caller); err != nil {
		return err
	}
	if err := requireIdentity(tokenAddr); err != nil {
		return err
	}
	if err := e.ledger.DisallowToken(tokenAddr); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventTokenDisallowed, caller)
	ev.Token = tokenAddr
	e.emit(ev)
	return nil
}

// ViewBalanceAsManager reads any client's native balance. Manager only.
func (e *Engine) ViewBalanceAsManager(caller, target common.Address) (*big.Int, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := e.authorize(types.RoleManager, caller); err != nil {
		return nil, err
	}
	acc, err := e.requireAccount(target)
	if err != nil {
		return nil, err
	}
	return acc.NativeBalance, nil
}

// ViewTokenBalanceAsManager reads any client's token balance. Manager only.
func (e *Engine) ViewTokenBalanceAsManager(caller, target, tokenAddr common.Address) (*big.Int, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if err := e.authorize(types.RoleManager, caller); err != nil {
		return nil, err
	}
	if _, err := e.requireAccount(target); err != nil {
		return nil, err
	}
	return e.ledger.TokenBalance(tokenAddr, target)
}

// IncreaseBankCap raises the USD ceiling. Manager only; the cap never
// decreases.
func (e *Engine) IncreaseBankCap(caller common.Address, newCap *big.Int) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleManager, caller); err != nil {
		return err
	}
	if err := e.cap.Raise(newCap); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventBankCapRaised, caller)
	ev.USDValue = newCap
	e.emit(ev)
	return nil
}

// PauseDeposits halts new deposits. Manager only.
func (e *Engine) PauseDeposits(caller common.Address) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleManager, caller); err != nil {
		return err
	}
	if err := e.pause.Pause(); err != nil {
		return err
	}

	e.emit(types.NewEvent(types.EventDepositsPaused, caller))
	return nil
}

// UnpauseDeposits reopens deposits. Manager only.
func (e *Engine) UnpauseDeposits(caller common.Address) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleManager, caller); err != nil {
		return err
	}
	if err := e.pause.Unpause(); err != nil {
		return err
	}

	e.emit(types.NewEvent(types.EventDepositsUnpaused, caller))
	return nil
}

// GrantManagerRole grants the Manager role. Administrator only.
func (e *Engine) GrantManagerRole(caller, target common.Address) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleAdmin, caller); err != nil {
		return err
	}
	if err := requireIdentity(target); err != nil {
		return err
	}
	if err := e.registry.Grant(types.RoleManager, target); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventRoleGranted, caller)
	ev.Target = target
	ev.Role = types.RoleManager
	e.emit(ev)
	return nil
}

// RevokeManagerRole revokes the Manager role. Administrator only.
func (e *Engine) RevokeManagerRole(caller, target common.Address) error {
	return e.RevokeAnyRole(caller, types.RoleManager, target)
}

// RevokeAnyRole strips any role from any identity, the administrator's
// escape hatch for incident response.
func (e *Engine) RevokeAnyRole(caller common.Address, role types.Role, target common.Address) error {
	done, err := e.enter()
	if err != nil {
		return err
	}
	defer done()

	if err := e.authorize(types.RoleAdmin, caller); err != nil {
		return err
	}
	if err := requireIdentity(target); err != nil {
		return err
	}
	if err := e.registry.Revoke(role, target); err != nil {
		return err
	}

	ev := types.NewEvent(types.EventRoleRevoked, caller)
	ev.Target = target
	ev.Role = role
	e.emit(ev)
	return nil
}

// StateRoot returns the deterministic commitment over the ledger
func (e *Engine) StateRoot() (string, error) {
	done, err := e.enter()
	if err != nil {
		return "", err
	}
	defer done()
	return e.ledger.StateRoot()
}

// TotalDeposited returns the running deposited-USD accumulator
func (e *Engine) TotalDeposited() (*big.Int, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return e.ledger.TotalDeposited()
}

// BankCap returns the USD deposit ceiling
func (e *Engine) BankCap() (*big.Int, error) {
	done, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return e.ledger.BankCap()
}
