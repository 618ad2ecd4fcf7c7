package ledger

import (
	"math/big"
	"testing"

	"github.com/custodia-network/vaultd/db"
	"github.com/syndtr/goleveldb/leveldb"
)

func TestStateRootDeterministic(t *testing.T) {
	build := func() *Store {
		s := newTestStore(t)
		mustCreate(t, s, alice)
		batch := new(leveldb.Batch)
		s.StagePutBankCap(batch, big.NewInt(5000000000000))
		s.StagePutTotalDeposited(batch, big.NewInt(0))
		if err := s.Commit(batch); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if err := s.CreditNative(alice, big.NewInt(42)); err != nil {
			t.Fatalf("CreditNative: %v", err)
		}
		return s
	}

	// CreatedAt feeds the hash, so pin it for cross-store comparison
	pin := func(s *Store) {
		acc, err := s.GetAccount(alice)
		if err != nil {
			t.Fatalf("GetAccount: %v", err)
		}
		acc.CreatedAt = 1700000000
		batch := new(leveldb.Batch)
		if err := s.StagePutAccount(batch, acc); err != nil {
			t.Fatalf("StagePutAccount: %v", err)
		}
		if err := s.Commit(batch); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	s1 := build()
	s2 := build()
	pin(s1)
	pin(s2)

	r1, err := s1.StateRoot()
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	r2, err := s2.StateRoot()
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if r1 != r2 {
		t.Errorf("identical state hashed differently: %s vs %s", r1, r2)
	}
	if r1 == "" {
		t.Error("empty state root")
	}
}

func TestStateRootChangesWithState(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, alice)

	before, err := s.StateRoot()
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if err := s.CreditNative(alice, big.NewInt(1)); err != nil {
		t.Fatalf("CreditNative: %v", err)
	}
	after, err := s.StateRoot()
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if before == after {
		t.Error("state root unchanged after balance mutation")
	}
}

func TestStateRootCoversTokenBalances(t *testing.T) {
	d, err := db.NewMemDB()
	if err != nil {
		t.Fatalf("failed to open mem db: %v", err)
	}
	defer d.Close()
	s := NewStore(d)
	mustCreate(t, s, alice)

	before, err := s.StateRoot()
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if err := s.CreditToken(usdc, alice, big.NewInt(9)); err != nil {
		t.Fatalf("CreditToken: %v", err)
	}
	after, err := s.StateRoot()
	if err != nil {
		t.Fatalf("StateRoot: %v", err)
	}
	if before == after {
		t.Error("state root unchanged after token credit")
	}
}
