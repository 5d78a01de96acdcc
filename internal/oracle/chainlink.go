package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// aggregatorABIJSON is the Chainlink AggregatorV3 read surface.
const aggregatorABIJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "description", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "_roundId", "type": "uint80"}], "name": "getRoundData",
   "outputs": [{"name": "roundId", "type": "uint80"}, {"name": "answer", "type": "int256"},
               {"name": "startedAt", "type": "uint256"}, {"name": "updatedAt", "type": "uint256"},
               {"name": "answeredInRound", "type": "uint80"}],
   "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "latestRoundData",
   "outputs": [{"name": "roundId", "type": "uint80"}, {"name": "answer", "type": "int256"},
               {"name": "startedAt", "type": "uint256"}, {"name": "updatedAt", "type": "uint256"},
               {"name": "answeredInRound", "type": "uint80"}],
   "stateMutability": "view", "type": "function"}
]`

var (
	aggregatorABI     abi.ABI
	aggregatorABIOnce sync.Once
	aggregatorABIErr  error
)

func aggregatorABIInstance() (abi.ABI, error) {
	aggregatorABIOnce.Do(func() {
		aggregatorABI, aggregatorABIErr = abi.JSON(strings.NewReader(aggregatorABIJSON))
	})
	return aggregatorABI, aggregatorABIErr
}

// ChainlinkFeed implements Feed against an on-chain Chainlink aggregator.
// Decimals and description are fetched once and cached; round data is
// always read live.
type ChainlinkFeed struct {
	client  *ethclient.Client
	address common.Address

	mu          sync.Mutex
	decimals    uint8
	description string
	metaLoaded  bool
}

// NewChainlinkFeed creates a feed reader for the aggregator at address.
func NewChainlinkFeed(client *ethclient.Client, address common.Address) *ChainlinkFeed {
	return &ChainlinkFeed{client: client, address: address}
}

func (f *ChainlinkFeed) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := aggregatorABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &f.address, Data: data}
	resp, err := f.client.CallContract(ctx, msg, nil)
	if err != nil {
		// Chainlink aggregators revert with "No data present" for
		// rounds that were never recorded.
		if strings.Contains(err.Error(), "revert") || strings.Contains(err.Error(), "No data present") {
			return nil, fmt.Errorf("%w: %s on %s", ErrNoData, method, f.address.Hex())
		}
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func roundDataToSample(values []interface{}) (Sample, error) {
	if len(values) != 5 {
		return Sample{}, fmt.Errorf("unexpected round data arity %d", len(values))
	}
	roundID, ok := values[0].(*big.Int)
	if !ok {
		return Sample{}, fmt.Errorf("unexpected roundId type %T", values[0])
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return Sample{}, fmt.Errorf("unexpected answer type %T", values[1])
	}
	updatedAt, ok := values[3].(*big.Int)
	if !ok {
		return Sample{}, fmt.Errorf("unexpected updatedAt type %T", values[3])
	}
	return Sample{
		Round:     roundID.Uint64(),
		Price:     decimal.NewFromBigInt(answer, 0),
		Timestamp: updatedAt.Int64(),
	}, nil
}

func (f *ChainlinkFeed) LatestSample(ctx context.Context) (Sample, error) {
	values, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return Sample{}, err
	}
	return roundDataToSample(values)
}

func (f *ChainlinkFeed) SampleAt(ctx context.Context, round uint64) (Sample, error) {
	values, err := f.call(ctx, "getRoundData", new(big.Int).SetUint64(round))
	if err != nil {
		return Sample{}, err
	}
	return roundDataToSample(values)
}

func (f *ChainlinkFeed) loadMeta(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metaLoaded {
		return nil
	}

	values, err := f.call(ctx, "decimals")
	if err != nil {
		return err
	}
	dec, ok := values[0].(uint8)
	if !ok {
		return fmt.Errorf("unexpected decimals type %T", values[0])
	}

	values, err = f.call(ctx, "description")
	if err != nil {
		return err
	}
	desc, ok := values[0].(string)
	if !ok {
		return fmt.Errorf("unexpected description type %T", values[0])
	}

	f.decimals = dec
	f.description = desc
	f.metaLoaded = true
	return nil
}

func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	if err := f.loadMeta(ctx); err != nil {
		return 0, err
	}
	return f.decimals, nil
}

func (f *ChainlinkFeed) Description(ctx context.Context) (string, error) {
	if err := f.loadMeta(ctx); err != nil {
		return "", err
	}
	return f.description, nil
}

// DialChainlinkRegistry connects to an Ethereum RPC endpoint and returns
// a registry whose feed identifiers are aggregator contract addresses.
func DialChainlinkRegistry(ctx context.Context, rpcURL string, addresses map[string]string) (*Registry, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	reg := NewRegistry()
	for id, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid aggregator address %q for feed %q", addr, id)
		}
		reg.Register(id, NewChainlinkFeed(client, common.HexToAddress(addr)))
	}
	return reg, nil
}
