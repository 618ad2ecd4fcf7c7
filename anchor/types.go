package anchor

import (
	SDK "github.com/availproject/avail-go-sdk/sdk"
	client "github.com/celestiaorg/celestia-openrpc"
	"github.com/celestiaorg/celestia-openrpc/types/share"
	"github.com/vedhavyas/go-subkey/v2"
)

// Client defines a common interface for anchoring audit commitments on a
// data-availability layer. Submit returns the DA height and transaction hash
// of the included blob.
type Client interface {
	Submit(data []byte) (daHeight, daTxHash string, err error)
}

// AvailClient wraps the Avail SDK client for anchor submissions
type AvailClient struct {
	Client    SDK.SDK
	Namespace uint32 // Avail AppID
	Account   subkey.KeyPair
}

// CelestiaClient wraps the Celestia light client for anchor submissions
type CelestiaClient struct {
	Client    *client.Client
	Namespace share.Namespace
}

// Record pins one anchored span of the audit log to a DA inclusion
type Record struct {
	Number     uint64 `json:"number"`
	FromSeq    uint64 `json:"from_seq"`
	ToSeq      uint64 `json:"to_seq"`
	StateRoot  string `json:"state_root"`
	Commitment string `json:"commitment"`
	DAHeight   string `json:"da_height"`
	DATxHash   string `json:"da_tx_hash"`
	Provider   string `json:"provider"`
	Timestamp  int64  `json:"timestamp"`
}
