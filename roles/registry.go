package roles

import (
	"fmt"
	"strings"

	"github.com/custodia-network/vaultd/db"
	"github.com/custodia-network/vaultd/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
)

const rolePrefix = "role:"

// Registry maintains which identities hold which roles. Membership is a pure
// set keyed by (role, identity); it never touches balance or cap state.
type Registry struct {
	db db.DB
}

// NewRegistry creates a role registry over the vault database
func NewRegistry(d db.DB) *Registry {
	return &Registry{db: d}
}

func roleKey(role types.Role, id common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", rolePrefix, role, strings.ToLower(id.Hex())))
}

// Has reports whether the identity holds the role
func (r *Registry) Has(role types.Role, id common.Address) (bool, error) {
	return r.db.Has(roleKey(role, id))
}

// Grant adds the role to the identity's role set
func (r *Registry) Grant(role types.Role, id common.Address) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", types.ErrInvalidInput, role)
	}
	return r.db.Put(roleKey(role, id), []byte{1})
}

// Revoke removes the role from the identity's role set. Revoking a role the
// identity does not hold is not an error; the set is simply unchanged.
func (r *Registry) Revoke(role types.Role, id common.Address) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", types.ErrInvalidInput, role)
	}
	return r.db.Delete(roleKey(role, id))
}

// StageGrant records the grant in a batch so callers can commit it atomically
// with other state changes.
func (r *Registry) StageGrant(batch *leveldb.Batch, role types.Role, id common.Address) {
	batch.Put(roleKey(role, id), []byte{1})
}

// StageRevoke records the revocation in a batch.
func (r *Registry) StageRevoke(batch *leveldb.Batch, role types.Role, id common.Address) {
	batch.Delete(roleKey(role, id))
}
