package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a named capability grant controlling which vault operations an
// identity may invoke. An identity may hold any number of roles at once.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleClient  Role = "client"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleClient:
		return true
	}
	return false
}

// Account is a registered vault account. Accounts are created explicitly by an
// administrator and persist for the lifetime of the vault; Exists is never
// unset once true.
type Account struct {
	Owner         common.Address `json:"owner"`
	NativeBalance *big.Int       `json:"native_balance"`
	Exists        bool           `json:"exists"`
	CreatedAt     int64          `json:"created_at"`
}

// EventKind names one audit event per successful mutating operation.
type EventKind string

const (
	EventAccountCreated   EventKind = "AccountCreated"
	EventDepositMade      EventKind = "DepositMade"
	EventWithdrawalMade   EventKind = "WithdrawalMade"
	EventTransferMade     EventKind = "TransferMade"
	EventTokenDeposit     EventKind = "TokenDeposit"
	EventTokenWithdrawal  EventKind = "TokenWithdrawal"
	EventTokenAllowed     EventKind = "TokenAllowed"
	EventTokenDisallowed  EventKind = "TokenDisallowed"
	EventDepositsPaused   EventKind = "DepositsPaused"
	EventDepositsUnpaused EventKind = "DepositsUnpaused"
	EventBankCapRaised    EventKind = "BankCapRaised"
	EventRoleGranted      EventKind = "RoleGranted"
	EventRoleRevoked      EventKind = "RoleRevoked"
)

// Event is one record of the append-only audit log. Seq is assigned by the
// log and is strictly increasing.
type Event struct {
	Seq      uint64         `json:"seq"`
	Kind     EventKind      `json:"kind"`
	Actor    common.Address `json:"actor"`
	Target   common.Address `json:"target,omitempty"`
	Token    common.Address `json:"token,omitempty"`
	Role     Role           `json:"role,omitempty"`
	Amount   *big.Int       `json:"amount,omitempty"`
	USDValue *big.Int       `json:"usd_value,omitempty"`
	Time     int64          `json:"time"`
}

// NewEvent builds an event stamped with the current time. Seq is filled in by
// the audit log on append.
func NewEvent(kind EventKind, actor common.Address) Event {
	return Event{
		Kind:  kind,
		Actor: actor,
		Time:  time.Now().Unix(),
	}
}
