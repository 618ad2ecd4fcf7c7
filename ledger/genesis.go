package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/custodia-network/vaultd/roles"
	"github.com/custodia-network/vaultd/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
)

// Genesis seeds the vault the first time it starts: the bootstrap
// administrator, the initial USD cap and the initial token whitelist.
type Genesis struct {
	Admin         common.Address   `json:"admin"`
	BankCapUSD    *big.Int         `json:"bank_cap_usd"`
	AllowedTokens []common.Address `json:"allowed_tokens"`
	Paused        bool             `json:"paused"`
}

// LoadGenesisFile reads and validates a genesis file
func LoadGenesisFile(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %v", err)
	}
	var gen Genesis
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("failed to parse genesis file: %v", err)
	}
	if gen.Admin == (common.Address{}) {
		return nil, fmt.Errorf("genesis admin address is empty")
	}
	if gen.BankCapUSD == nil || gen.BankCapUSD.Sign() <= 0 {
		return nil, fmt.Errorf("genesis bank cap must be positive")
	}
	return &gen, nil
}

// Initialized reports whether genesis has already been applied
func (s *Store) Initialized() (bool, error) {
	return s.db.Has([]byte(bankCapKey))
}

// InitGenesis applies the genesis state in one atomic write: global state,
// whitelist, and the bootstrap admin's account plus admin and client roles.
// It is a no-op if the vault is already initialized.
func (s *Store) InitGenesis(gen *Genesis, registry *roles.Registry, log *logrus.Logger) error {
	done, err := s.Initialized()
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	batch := new(leveldb.Batch)
	s.StagePutBankCap(batch, gen.BankCapUSD)
	s.StagePutTotalDeposited(batch, big.NewInt(0))
	if gen.Paused {
		batch.Put([]byte(pausedKey), []byte{1})
	}
	for _, token := range gen.AllowedTokens {
		batch.Put(allowedKey(token), []byte{1})
	}

	if _, err := s.CreateAccount(batch, gen.Admin); err != nil {
		return fmt.Errorf("failed to create genesis admin account: %v", err)
	}
	registry.StageGrant(batch, types.RoleAdmin, gen.Admin)
	registry.StageGrant(batch, types.RoleClient, gen.Admin)

	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("failed to write genesis state: %v", err)
	}

	log.Infof("Applied genesis: admin %s, bank cap %s, %d allowed tokens",
		gen.Admin.Hex(), gen.BankCapUSD.String(), len(gen.AllowedTokens))
	return nil
}
