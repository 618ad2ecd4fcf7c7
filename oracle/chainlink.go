package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/custodia-network/vaultd/eth"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

const aggregatorABI = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

// ChainlinkSource reads the native/USD price from a Chainlink-style
// aggregator contract via eth_call. It reports whatever the feed last
// answered; only the sign of the answer is validated by callers.
type ChainlinkSource struct {
	client     *eth.Client
	aggregator common.Address
	abi        abi.ABI
	log        *logrus.Logger
}

// NewChainlinkSource builds a price source over the given aggregator contract
func NewChainlinkSource(client *eth.Client, aggregator common.Address, log *logrus.Logger) (*ChainlinkSource, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse aggregator ABI: %v", err)
	}
	log.Infof("Using price aggregator at %s", aggregator.Hex())
	return &ChainlinkSource{
		client:     client,
		aggregator: aggregator,
		abi:        parsed,
		log:        log,
	}, nil
}

// LatestPrice returns the most recent answer of the feed at 8 decimals
func (s *ChainlinkSource) LatestPrice(ctx context.Context) (*big.Int, error) {
	data, err := s.abi.Pack("latestRoundData")
	if err != nil {
		return nil, fmt.Errorf("failed to pack latestRoundData: %v", err)
	}

	res, err := s.client.Eth.CallContract(ctx, ethereum.CallMsg{
		To:   &s.aggregator,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregator call failed: %v", err)
	}

	out, err := s.abi.Unpack("latestRoundData", res)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack latestRoundData: %v", err)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("unexpected latestRoundData result length %d", len(out))
	}

	answer, ok := out[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected answer type %T", out[1])
	}
	return answer, nil
}
