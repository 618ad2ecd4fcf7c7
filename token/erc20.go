package token

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/custodia-network/vaultd/eth"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

const erc20ABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

// EthTransferor moves native value and ERC-20 tokens on the hosting chain,
// signing with the vault operator key. Each call waits for inclusion and
// treats a reverted receipt as failure.
type EthTransferor struct {
	client   *eth.Client
	key      *ecdsa.PrivateKey
	operator common.Address
	chainID  *big.Int
	abi      abi.ABI
	log      *logrus.Logger
}

// NewEthTransferor builds a transferor around the operator key
func NewEthTransferor(ctx context.Context, client *eth.Client, key *ecdsa.PrivateKey, log *logrus.Logger) (*EthTransferor, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %v", err)
	}
	chainID, err := client.Eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %v", err)
	}
	operator := crypto.PubkeyToAddress(key.PublicKey)
	log.Infof("Vault operator address %s on chain %s", operator.Hex(), chainID.String())
	return &EthTransferor{
		client:   client,
		key:      key,
		operator: operator,
		chainID:  chainID,
		abi:      parsed,
		log:      log,
	}, nil
}

// Operator returns the vault's on-chain address
func (t *EthTransferor) Operator() common.Address {
	return t.operator
}

func (t *EthTransferor) send(ctx context.Context, to common.Address, value *big.Int, data []byte) error {
	nonce, err := t.client.Eth.PendingNonceAt(ctx, t.operator)
	if err != nil {
		return fmt.Errorf("failed to get nonce: %v", err)
	}
	gasPrice, err := t.client.Eth.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %v", err)
	}
	gasLimit, err := t.client.Eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.operator,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("failed to estimate gas: %v", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(t.chainID), t.key)
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %v", err)
	}
	if err := t.client.Eth.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("failed to send transaction: %v", err)
	}

	receipt, err := bind.WaitMined(ctx, t.client.Eth, signed)
	if err != nil {
		return fmt.Errorf("failed waiting for transaction %s: %v", signed.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	t.log.Infof("Confirmed transfer tx %s in block %s", signed.Hash().Hex(), receipt.BlockNumber.String())
	return nil
}

// TransferNative sends native value out of the vault
func (t *EthTransferor) TransferNative(ctx context.Context, to common.Address, amount *big.Int) error {
	return t.send(ctx, to, amount, nil)
}

// Transfer sends ERC-20 units held by the vault
func (t *EthTransferor) Transfer(ctx context.Context, tokenAddr, to common.Address, amount *big.Int) error {
	data, err := t.abi.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("failed to pack transfer: %v", err)
	}
	return t.send(ctx, tokenAddr, big.NewInt(0), data)
}

// TransferFrom pulls ERC-20 units from a depositor into the vault
func (t *EthTransferor) TransferFrom(ctx context.Context, tokenAddr, from, to common.Address, amount *big.Int) error {
	data, err := t.abi.Pack("transferFrom", from, to, amount)
	if err != nil {
		return fmt.Errorf("failed to pack transferFrom: %v", err)
	}
	return t.send(ctx, tokenAddr, big.NewInt(0), data)
}
