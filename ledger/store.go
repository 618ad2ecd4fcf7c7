package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/custodia-network/vaultd/db"
	"github.com/custodia-network/vaultd/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
)

const (
	accountPrefix = "account:"
	tokenPrefix   = "token:"
	allowedPrefix = "allowed:"

	bankCapKey        = "meta:bank_cap"
	totalDepositedKey = "meta:total_deposited"
	pausedKey         = "meta:paused"
)

// Store owns all balance state: per-account native balances, the
// (owner, token) balance map, the allowed-token set, and the global cap
// accumulators. Every mutating method is all-or-nothing; compound operations
// are staged into a single leveldb batch and committed once.
type Store struct {
	db db.DB
}

// NewStore creates a ledger over the vault database
func NewStore(d db.DB) *Store {
	return &Store{db: d}
}

func addrKey(id common.Address) string {
	return strings.ToLower(id.Hex())
}

func accountKey(id common.Address) []byte {
	return []byte(accountPrefix + addrKey(id))
}

func tokenKey(token, owner common.Address) []byte {
	return []byte(tokenPrefix + addrKey(token) + ":" + addrKey(owner))
}

func allowedKey(token common.Address) []byte {
	return []byte(allowedPrefix + addrKey(token))
}

// GetAccount returns the account record, or nil if none exists
func (s *Store) GetAccount(id common.Address) (*types.Account, error) {
	data, err := s.db.Get(accountKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %v", err)
	}
	if data == nil {
		return nil, nil
	}
	var acc types.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to decode account: %v", err)
	}
	return &acc, nil
}

// HasAccount reports whether the identity has been registered
func (s *Store) HasAccount(id common.Address) (bool, error) {
	return s.db.Has(accountKey(id))
}

// StagePutAccount records the account record in a batch
func (s *Store) StagePutAccount(batch *leveldb.Batch, acc *types.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to encode account: %v", err)
	}
	batch.Put(accountKey(acc.Owner), data)
	return nil
}

// CreateAccount registers a new account with a zero native balance. It fails
// with ErrAccountExists if the identity is already registered. Role side
// effects are staged by the caller into the same batch.
func (s *Store) CreateAccount(batch *leveldb.Batch, id common.Address) (*types.Account, error) {
	exists, err := s.HasAccount(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", types.ErrAccountExists, id.Hex())
	}
	acc := &types.Account{
		Owner:         id,
		NativeBalance: big.NewInt(0),
		Exists:        true,
		CreatedAt:     time.Now().Unix(),
	}
	if err := s.StagePutAccount(batch, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// mustAccount loads an existing account or fails with ErrNotFound
func (s *Store) mustAccount(id common.Address) (*types.Account, error) {
	acc, err := s.GetAccount(id)
	if err != nil {
		return nil, err
	}
	if acc == nil || !acc.Exists {
		return nil, fmt.Errorf("%w: no account for %s", types.ErrNotFound, id.Hex())
	}
	return acc, nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", types.ErrInvalidInput)
	}
	return nil
}

// StageCreditNative stages a native credit against an existing account and
// returns the new balance.
func (s *Store) StageCreditNative(batch *leveldb.Batch, id common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	acc, err := s.mustAccount(id)
	if err != nil {
		return nil, err
	}
	acc.NativeBalance = new(big.Int).Add(acc.NativeBalance, amount)
	if err := s.StagePutAccount(batch, acc); err != nil {
		return nil, err
	}
	return acc.NativeBalance, nil
}

// StageDebitNative stages a native debit, failing with ErrInsufficientFunds
// before any write if the balance would go negative.
func (s *Store) StageDebitNative(batch *leveldb.Batch, id common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	acc, err := s.mustAccount(id)
	if err != nil {
		return nil, err
	}
	if acc.NativeBalance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", types.ErrInsufficientFunds, acc.NativeBalance, amount)
	}
	acc.NativeBalance = new(big.Int).Sub(acc.NativeBalance, amount)
	if err := s.StagePutAccount(batch, acc); err != nil {
		return nil, err
	}
	return acc.NativeBalance, nil
}

// CreditNative applies a native credit as a single atomic write
func (s *Store) CreditNative(id common.Address, amount *big.Int) error {
	batch := new(leveldb.Batch)
	if _, err := s.StageCreditNative(batch, id, amount); err != nil {
		return err
	}
	return s.db.Write(batch)
}

// DebitNative applies a native debit as a single atomic write
func (s *Store) DebitNative(id common.Address, amount *big.Int) error {
	batch := new(leveldb.Batch)
	if _, err := s.StageDebitNative(batch, id, amount); err != nil {
		return err
	}
	return s.db.Write(batch)
}

// TokenBalance returns the balance of owner for token; absence means zero
func (s *Store) TokenBalance(token, owner common.Address) (*big.Int, error) {
	data, err := s.db.Get(tokenKey(token, owner))
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance: %v", err)
	}
	if data == nil {
		return big.NewInt(0), nil
	}
	bal, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt token balance record for %s", string(data))
	}
	return bal, nil
}

// StageCreditToken stages a token credit. The owning identity must have an
// account; the deposit path enforces the token whitelist separately.
func (s *Store) StageCreditToken(batch *leveldb.Batch, token, owner common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if _, err := s.mustAccount(owner); err != nil {
		return nil, err
	}
	bal, err := s.TokenBalance(token, owner)
	if err != nil {
		return nil, err
	}
	bal = new(big.Int).Add(bal, amount)
	batch.Put(tokenKey(token, owner), []byte(bal.String()))
	return bal, nil
}

// StageDebitToken stages a token debit with the same non-negativity contract
// as native debits.
func (s *Store) StageDebitToken(batch *leveldb.Batch, token, owner common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if _, err := s.mustAccount(owner); err != nil {
		return nil, err
	}
	bal, err := s.TokenBalance(token, owner)
	if err != nil {
		return nil, err
	}
	if bal.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", types.ErrInsufficientFunds, bal, amount)
	}
	bal = new(big.Int).Sub(bal, amount)
	batch.Put(tokenKey(token, owner), []byte(bal.String()))
	return bal, nil
}

// CreditToken applies a token credit as a single atomic write
func (s *Store) CreditToken(token, owner common.Address, amount *big.Int) error {
	batch := new(leveldb.Batch)
	if _, err := s.StageCreditToken(batch, token, owner, amount); err != nil {
		return err
	}
	return s.db.Write(batch)
}

// DebitToken applies a token debit as a single atomic write
func (s *Store) DebitToken(token, owner common.Address, amount *big.Int) error {
	batch := new(leveldb.Batch)
	if _, err := s.StageDebitToken(batch, token, owner, amount); err != nil {
		return err
	}
	return s.db.Write(batch)
}

// TransferNativeInternal moves native balance between two existing accounts
// in one atomic write. It never touches external assets or the deposited-USD
// accumulator: funds already inside the vault changing owner do not change
// the vault's aggregate exposure.
func (s *Store) TransferNativeInternal(from, to common.Address, amount *big.Int) error {
	if from == to {
		return fmt.Errorf("%w: self transfer", types.ErrInvalidInput)
	}
	batch := new(leveldb.Batch)
	if _, err := s.StageDebitNative(batch, from, amount); err != nil {
		return err
	}
	if _, err := s.StageCreditNative(batch, to, amount); err != nil {
		return err
	}
	return s.db.Write(batch)
}

// TokenAllowed reports whether the token is currently open for deposits
func (s *Store) TokenAllowed(token common.Address) (bool, error) {
	return s.db.Has(allowedKey(token))
}

// AllowToken adds the token to the deposit whitelist
func (s *Store) AllowToken(token common.Address) error {
	return s.db.Put(allowedKey(token), []byte{1})
}

// DisallowToken removes the token from the deposit whitelist. Held balances
// of the token stay withdrawable; only new deposits are blocked.
func (s *Store) DisallowToken(token common.Address) error {
	return s.db.Delete(allowedKey(token))
}

func (s *Store) getBigInt(key string) (*big.Int, error) {
	data, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %v", key, err)
	}
	if data == nil {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt record under %s", key)
	}
	return v, nil
}

// BankCap returns the USD deposit ceiling at 8-decimal fixed point
func (s *Store) BankCap() (*big.Int, error) {
	return s.getBigInt(bankCapKey)
}

// TotalDeposited returns the running deposited-USD accumulator
func (s *Store) TotalDeposited() (*big.Int, error) {
	return s.getBigInt(totalDepositedKey)
}

// StagePutBankCap stages a new cap value
func (s *Store) StagePutBankCap(batch *leveldb.Batch, v *big.Int) {
	batch.Put([]byte(bankCapKey), []byte(v.String()))
}

// StagePutTotalDeposited stages a new accumulator value
func (s *Store) StagePutTotalDeposited(batch *leveldb.Batch, v *big.Int) {
	batch.Put([]byte(totalDepositedKey), []byte(v.String()))
}

// Paused reports whether new deposits are blocked
func (s *Store) Paused() (bool, error) {
	return s.db.Has([]byte(pausedKey))
}

// SetPaused flips the deposit gate
func (s *Store) SetPaused(paused bool) error {
	if paused {
		return s.db.Put([]byte(pausedKey), []byte{1})
	}
	return s.db.Delete([]byte(pausedKey))
}

// Commit applies a staged batch atomically
func (s *Store) Commit(batch *leveldb.Batch) error {
	return s.db.Write(batch)
}

// AllAccounts returns every registered account keyed by lowercased address
func (s *Store) AllAccounts() (map[string]*types.Account, error) {
	accounts := make(map[string]*types.Account)
	err := s.db.Iterate([]byte(accountPrefix), func(key, value []byte) error {
		addr := string(key[len(accountPrefix):])
		var acc types.Account
		if err := json.Unmarshal(value, &acc); err != nil {
			return fmt.Errorf("failed to decode account %s: %v", addr, err)
		}
		accounts[addr] = &acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// TokenBalanceRecord is one (token, owner, amount) entry of the token map
type TokenBalanceRecord struct {
	Token  string
	Owner  string
	Amount *big.Int
}

// AllTokenBalances returns every token balance entry in key order
func (s *Store) AllTokenBalances() ([]TokenBalanceRecord, error) {
	var records []TokenBalanceRecord
	err := s.db.Iterate([]byte(tokenPrefix), func(key, value []byte) error {
		rest := string(key[len(tokenPrefix):])
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("corrupt token balance key %q", string(key))
		}
		amount, ok := new(big.Int).SetString(string(value), 10)
		if !ok {
			return fmt.Errorf("corrupt token balance record %q", string(value))
		}
		records = append(records, TokenBalanceRecord{Token: parts[0], Owner: parts[1], Amount: amount})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
