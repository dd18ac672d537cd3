package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

type Options struct {
	RPC      string
	Oracle   common.Address
	Registry common.Address
	Market   common.Address
	// ChainID skips the eth_chainId lookup when set.
	ChainID        *big.Int
	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
}

// EthGateway implements Oracle, Markets, Registry and Node over a JSON-RPC
// endpoint.
type EthGateway struct {
	client         *ethclient.Client
	oracle         common.Address
	registry       common.Address
	market         common.Address
	chainID        *big.Int
	callTimeout    time.Duration
	receiptTimeout time.Duration
}

// Dial connects and resolves the chain id, which doubles as the
// reachability check at startup.
func Dial(ctx context.Context, opts Options) (*EthGateway, error) {
	if opts.RPC == "" {
		return nil, errors.New("rpc url is required")
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	receiptTimeout := opts.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}
	client, err := ethclient.DialContext(ctx, opts.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.RPC, err)
	}
	chainID := opts.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		idCtx, cancel := context.WithTimeout(ctx, callTimeout)
		chainID, err = client.ChainID(idCtx)
		cancel()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("ledger unreachable at %s: %w", opts.RPC, err)
		}
	}
	return &EthGateway{
		client:         client,
		oracle:         opts.Oracle,
		registry:       opts.Registry,
		market:         opts.Market,
		chainID:        chainID,
		callTimeout:    callTimeout,
		receiptTimeout: receiptTimeout,
	}, nil
}

func (g *EthGateway) Close() {
	g.client.Close()
}

func (g *EthGateway) OracleAddress() common.Address   { return g.oracle }
func (g *EthGateway) RegistryAddress() common.Address { return g.registry }

func (g *EthGateway) HasRegistry() bool { return g.registry != (common.Address{}) }
func (g *EthGateway) HasMarket() bool   { return g.market != (common.Address{}) }

func (g *EthGateway) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if IsRevert(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrReverted, method, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRead, method, err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s returned nothing", ErrMalformed, method)
	}
	return vals, nil
}

func (g *EthGateway) LatestTaskNum(ctx context.Context) (uint32, error) {
	vals, err := g.call(ctx, g.oracle, OracleABI, "latestTaskNum")
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("%w: latestTaskNum type %T", ErrMalformed, vals[0])
	}
	return n, nil
}

func (g *EthGateway) TaskStatus(ctx context.Context, index uint32) (TaskStatus, error) {
	vals, err := g.call(ctx, g.oracle, OracleABI, "taskStatus", index)
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: taskStatus type %T", ErrMalformed, vals[0])
	}
	return TaskStatus(v), nil
}

func (g *EthGateway) TaskRespondents(ctx context.Context, index uint32) ([]common.Address, error) {
	vals, err := g.call(ctx, g.oracle, OracleABI, "taskRespondents", index)
	if err != nil {
		return nil, err
	}
	addrs, ok := vals[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: taskRespondents type %T", ErrMalformed, vals[0])
	}
	return addrs, nil
}

func (g *EthGateway) Task(ctx context.Context, index uint32) (TaskRecord, error) {
	vals, err := g.call(ctx, g.oracle, OracleABI, "tasks", index)
	if err != nil {
		return TaskRecord{}, err
	}
	if len(vals) != 2 {
		return TaskRecord{}, fmt.Errorf("%w: tasks returned %d values", ErrMalformed, len(vals))
	}
	name, ok := vals[0].(string)
	if !ok {
		return TaskRecord{}, fmt.Errorf("%w: task name type %T", ErrMalformed, vals[0])
	}
	block, ok := vals[1].(uint32)
	if !ok {
		return TaskRecord{}, fmt.Errorf("%w: task block type %T", ErrMalformed, vals[1])
	}
	return TaskRecord{Name: name, CreatedBlock: block}, nil
}

func (g *EthGateway) MarketIDForTask(ctx context.Context, index uint32) (*big.Int, error) {
	vals, err := g.call(ctx, g.market, MarketABI, "taskToMarketId", index)
	if err != nil {
		return nil, err
	}
	id, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: taskToMarketId type %T", ErrMalformed, vals[0])
	}
	return id, nil
}

func (g *EthGateway) MarketState(ctx context.Context, marketID *big.Int) (MarketState, error) {
	vals, err := g.call(ctx, g.market, MarketABI, "getMarketState", marketID)
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: getMarketState type %T", ErrMalformed, vals[0])
	}
	return MarketState(v), nil
}

func (g *EthGateway) IsRegistered(ctx context.Context, agent common.Address) (bool, error) {
	vals, err := g.call(ctx, g.registry, RegistryABI, "isRegistered", agent)
	if err != nil {
		return false, err
	}
	v, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: isRegistered type %T", ErrMalformed, vals[0])
	}
	return v, nil
}

func (g *EthGateway) AllAgents(ctx context.Context) ([]common.Address, error) {
	vals, err := g.call(ctx, g.registry, RegistryABI, "getAllAgents")
	if err != nil {
		return nil, err
	}
	addrs, ok := vals[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("%w: getAllAgents type %T", ErrMalformed, vals[0])
	}
	return addrs, nil
}

func (g *EthGateway) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(g.chainID), nil
}

func (g *EthGateway) LatestHeader(ctx context.Context) (*types.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.client.HeaderByNumber(ctx, nil)
}

func (g *EthGateway) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.client.SuggestGasPrice(ctx)
}

func (g *EthGateway) RecentGasPrices(ctx context.Context, blocks, perBlock int) ([]*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	head, err := g.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	var prices []*big.Int
	for i := 0; i < blocks && uint64(i) <= head; i++ {
		block, err := g.client.BlockByNumber(ctx, new(big.Int).SetUint64(head-uint64(i)))
		if err != nil {
			return nil, err
		}
		for j, tx := range block.Transactions() {
			if j >= perBlock {
				break
			}
			prices = append(prices, tx.GasPrice())
		}
	}
	return prices, nil
}

func (g *EthGateway) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.client.PendingNonceAt(ctx, account)
}

func (g *EthGateway) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.client.EstimateGas(ctx, msg)
}

func (g *EthGateway) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.client.SendTransaction(ctx, tx)
}

func (g *EthGateway) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.client.TransactionReceipt(ctx, hash)
}

func (g *EthGateway) WaitReceipt(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancel()
	return bind.WaitMined(ctx, g.client, tx)
}
