package ledger

import (
	"errors"
	"io"
	"math/big"
	"testing"

	"github.com/custodia-network/vaultd/db"
	"github.com/custodia-network/vaultd/roles"
	"github.com/custodia-network/vaultd/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
)

var (
	alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	usdc  = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.NewMemDB()
	if err != nil {
		t.Fatalf("failed to open mem db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d)
}

func mustCreate(t *testing.T, s *Store, id common.Address) {
	t.Helper()
	batch := new(leveldb.Batch)
	if _, err := s.CreateAccount(batch, id); err != nil {
		t.Fatalf("CreateAccount(%s): %v", id.Hex(), err)
	}
	if err := s.Commit(batch); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCreateAccount(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, alice)

	acc, err := s.GetAccount(alice)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc == nil || !acc.Exists {
		t.Fatal("account missing after create")
	}
	if acc.NativeBalance.Sign() != 0 {
		t.Errorf("new account balance = %s, want 0", acc.NativeBalance)
	}

	batch := new(leveldb.Batch)
	if _, err := s.CreateAccount(batch, alice); !errors.Is(err, types.ErrAccountExists) {
		t.Errorf("duplicate create error = %v, want ErrAccountExists", err)
	}
}

func TestCreditDebitNative(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, alice)

	if err := s.CreditNative(alice, big.NewInt(100)); err != nil {
		t.Fatalf("CreditNative: %v", err)
	}
	if err := s.DebitNative(alice, big.NewInt(40)); err != nil {
		t.Fatalf("DebitNative: %v", err)
	}
	acc, err := s.GetAccount(alice)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.NativeBalance.Int64() != 60 {
		t.Errorf("balance = %s, want 60", acc.NativeBalance)
	}

	if err := s.DebitNative(alice, big.NewInt(61)); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Errorf("overdraft error = %v, want ErrInsufficientFunds", err)
	}
	acc, _ = s.GetAccount(alice)
	if acc.NativeBalance.Int64() != 60 {
		t.Errorf("balance changed after failed debit: %s", acc.NativeBalance)
	}
}

func TestCreditUnknownAccount(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreditNative(alice, big.NewInt(1)); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("credit to unknown account error = %v, want ErrNotFound", err)
	}
}

func TestStagedDebitLeavesStoreUntouchedOnAbort(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, alice)
	if err := s.CreditNative(alice, big.NewInt(50)); err != nil {
		t.Fatalf("CreditNative: %v", err)
	}

	// Stage a debit but never commit the batch
	batch := new(leveldb.Batch)
	if _, err := s.StageDebitNative(batch, alice, big.NewInt(30)); err != nil {
		t.Fatalf("StageDebitNative: %v", err)
	}

	acc, err := s.GetAccount(alice)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.NativeBalance.Int64() != 50 {
		t.Errorf("uncommitted stage mutated balance: %s", acc.NativeBalance)
	}
}

func TestTokenBalances(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, alice)

	bal, err := s.TokenBalance(usdc, alice)
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Errorf("fresh token balance = %s, want 0", bal)
	}

	if err := s.CreditToken(usdc, alice, big.NewInt(500)); err != nil {
		t.Fatalf("CreditToken: %v", err)
	}
	if err := s.DebitToken(usdc, alice, big.NewInt(200)); err != nil {
		t.Fatalf("DebitToken: %v", err)
	}
	bal, _ = s.TokenBalance(usdc, alice)
	if bal.Int64() != 300 {
		t.Errorf("token balance = %s, want 300", bal)
	}

	if err := s.DebitToken(usdc, alice, big.NewInt(301)); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Errorf("token overdraft error = %v, want ErrInsufficientFunds", err)
	}
}

func TestTransferNativeInternal(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, alice)
	mustCreate(t, s, bob)
	if err := s.CreditNative(alice, big.NewInt(100)); err != nil {
		t.Fatalf("CreditNative: %v", err)
	}

	if err := s.TransferNativeInternal(alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("TransferNativeInternal: %v", err)
	}
	a, _ := s.GetAccount(alice)
	b, _ := s.GetAccount(bob)
	if a.NativeBalance.Int64() != 70 || b.NativeBalance.Int64() != 30 {
		t.Errorf("balances = %s/%s, want 70/30", a.NativeBalance, b.NativeBalance)
	}

	// Inverse transfer restores the original split
	if err := s.TransferNativeInternal(bob, alice, big.NewInt(30)); err != nil {
		t.Fatalf("inverse transfer: %v", err)
	}
	a, _ = s.GetAccount(alice)
	b, _ = s.GetAccount(bob)
	if a.NativeBalance.Int64() != 100 || b.NativeBalance.Int64() != 0 {
		t.Errorf("balances after round trip = %s/%s, want 100/0", a.NativeBalance, b.NativeBalance)
	}

	if err := s.TransferNativeInternal(alice, alice, big.NewInt(1)); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("self transfer error = %v, want ErrInvalidInput", err)
	}

	// Insufficient funds aborts the whole transfer
	if err := s.TransferNativeInternal(bob, alice, big.NewInt(1)); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Errorf("overdraft transfer error = %v, want ErrInsufficientFunds", err)
	}
	a, _ = s.GetAccount(alice)
	if a.NativeBalance.Int64() != 100 {
		t.Errorf("failed transfer mutated recipient: %s", a.NativeBalance)
	}
}

func TestTokenWhitelist(t *testing.T) {
	s := newTestStore(t)

	allowed, err := s.TokenAllowed(usdc)
	if err != nil {
		t.Fatalf("TokenAllowed: %v", err)
	}
	if allowed {
		t.Fatal("token allowed before AllowToken")
	}

	if err := s.AllowToken(usdc); err != nil {
		t.Fatalf("AllowToken: %v", err)
	}
	allowed, _ = s.TokenAllowed(usdc)
	if !allowed {
		t.Fatal("token not allowed after AllowToken")
	}

	if err := s.DisallowToken(usdc); err != nil {
		t.Fatalf("DisallowToken: %v", err)
	}
	allowed, _ = s.TokenAllowed(usdc)
	if allowed {
		t.Fatal("token still allowed after DisallowToken")
	}
}

func TestPausedFlag(t *testing.T) {
	s := newTestStore(t)
	paused, err := s.Paused()
	if err != nil {
		t.Fatalf("Paused: %v", err)
	}
	if paused {
		t.Fatal("fresh store is paused")
	}
	if err := s.SetPaused(true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	paused, _ = s.Paused()
	if !paused {
		t.Fatal("not paused after SetPaused(true)")
	}
	if err := s.SetPaused(false); err != nil {
		t.Fatalf("SetPaused(false): %v", err)
	}
	paused, _ = s.Paused()
	if paused {
		t.Fatal("still paused after SetPaused(false)")
	}
}

func TestInitGenesis(t *testing.T) {
	d, err := db.NewMemDB()
	if err != nil {
		t.Fatalf("failed to open mem db: %v", err)
	}
	defer d.Close()
	s := NewStore(d)
	registry := roles.NewRegistry(d)
	log := logrus.New()
	log.SetOutput(io.Discard)

	gen := &Genesis{
		Admin:         alice,
		BankCapUSD:    big.NewInt(1000000000000),
		AllowedTokens: []common.Address{usdc},
	}

	initialized, err := s.Initialized()
	if err != nil {
		t.Fatalf("Initialized: %v", err)
	}
	if initialized {
		t.Fatal("fresh store reports initialized")
	}

	if err := s.InitGenesis(gen, registry, log); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}

	capVal, err := s.BankCap()
	if err != nil {
		t.Fatalf("BankCap: %v", err)
	}
	if capVal.Cmp(gen.BankCapUSD) != 0 {
		t.Errorf("bank cap = %s, want %s", capVal, gen.BankCapUSD)
	}
	total, _ := s.TotalDeposited()
	if total.Sign() != 0 {
		t.Errorf("total deposited = %s, want 0", total)
	}
	allowed, _ := s.TokenAllowed(usdc)
	if !allowed {
		t.Error("genesis token not allowed")
	}
	acc, _ := s.GetAccount(alice)
	if acc == nil || !acc.Exists {
		t.Fatal("genesis admin account missing")
	}
	for _, role := range []types.Role{types.RoleAdmin, types.RoleClient} {
		has, err := registry.Has(role, alice)
		if err != nil {
			t.Fatalf("Has(%s): %v", role, err)
		}
		if !has {
			t.Errorf("genesis admin lacks role %s", role)
		}
	}

	// Re-applying genesis is a no-op
	gen2 := &Genesis{Admin: bob, BankCapUSD: big.NewInt(1)}
	if err := s.InitGenesis(gen2, registry, log); err != nil {
		t.Fatalf("second InitGenesis: %v", err)
	}
	capVal, _ = s.BankCap()
	if capVal.Cmp(gen.BankCapUSD) != 0 {
		t.Errorf("second genesis overwrote cap: %s", capVal)
	}
}
