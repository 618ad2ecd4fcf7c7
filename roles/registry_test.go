package roles

import (
	"testing"

	"github.com/custodia-network/vaultd/db"
	"github.com/custodia-network/vaultd/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	d, err := db.NewMemDB()
	if err != nil {
		t.Fatalf("failed to open mem db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewRegistry(d)
}

func TestGrantRevoke(t *testing.T) {
	r := newTestRegistry(t)
	id := common.HexToAddress("0x1111111111111111111111111111111111111111")

	has, err := r.Has(types.RoleManager, id)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if has {
		t.Fatal("fresh registry should not have the role")
	}

	if err := r.Grant(types.RoleManager, id); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	has, err = r.Has(types.RoleManager, id)
	if err != nil {
		t.Fatalf("Has after grant: %v", err)
	}
	if !has {
		t.Fatal("role not present after grant")
	}

	// Other roles for the same identity stay independent
	has, err = r.Has(types.RoleAdmin, id)
	if err != nil {
		t.Fatalf("Has admin: %v", err)
	}
	if has {
		t.Fatal("admin role leaked from manager grant")
	}

	if err := r.Revoke(types.RoleManager, id); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	has, err = r.Has(types.RoleManager, id)
	if err != nil {
		t.Fatalf("Has after revoke: %v", err)
	}
	if has {
		t.Fatal("role still present after revoke")
	}
}

func TestGrantInvalidRole(t *testing.T) {
	r := newTestRegistry(t)
	id := common.HexToAddress("0x2222222222222222222222222222222222222222")
	if err := r.Grant(types.Role("superuser"), id); err == nil {
		t.Fatal("expected error granting unknown role")
	}
}

func TestStagedGrantIsInvisibleUntilCommit(t *testing.T) {
	d, err := db.NewMemDB()
	if err != nil {
		t.Fatalf("failed to open mem db: %v", err)
	}
	defer d.Close()
	r := NewRegistry(d)
	id := common.HexToAddress("0x3333333333333333333333333333333333333333")

	batch := new(leveldb.Batch)
	r.StageGrant(batch, types.RoleClient, id)

	has, err := r.Has(types.RoleClient, id)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if has {
		t.Fatal("staged grant visible before commit")
	}

	if err := d.Write(batch); err != nil {
		t.Fatalf("Write: %v", err)
	}
	has, err = r.Has(types.RoleClient, id)
	if err != nil {
		t.Fatalf("Has after commit: %v", err)
	}
	if !has {
		t.Fatal("grant not visible after commit")
	}
}
