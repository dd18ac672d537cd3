// Package chain is the bridge's only contact with the ledger node: contract
// reads against the oracle, registry and market contracts, plus the raw
// transaction primitives the submitter composes.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrRead wraps every failed read call.
	ErrRead = errors.New("chain read failed")
	// ErrReverted is a read the contract rejected (bad index, missing record).
	ErrReverted = fmt.Errorf("%w: call reverted", ErrRead)
	// ErrMalformed is a read whose return data could not be decoded.
	ErrMalformed = fmt.Errorf("%w: malformed return data", ErrRead)
)

type TaskStatus uint8

const (
	TaskCreated TaskStatus = iota
	TaskInProgress
	TaskResolved
)

func (s TaskStatus) String() string {
	switch s {
	case TaskCreated:
		return "CREATED"
	case TaskInProgress:
		return "IN_PROGRESS"
	case TaskResolved:
		return "RESOLVED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

type MarketState uint8

const (
	MarketCreated MarketState = iota
	MarketActive
	MarketClosed
	MarketInResolution
	MarketResolved
	MarketCancelled
	MarketDisputed
)

func (s MarketState) String() string {
	switch s {
	case MarketCreated:
		return "Created"
	case MarketActive:
		return "Active"
	case MarketClosed:
		return "Closed"
	case MarketInResolution:
		return "InResolution"
	case MarketResolved:
		return "Resolved"
	case MarketCancelled:
		return "Cancelled"
	case MarketDisputed:
		return "Disputed"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// TaskRecord is the raw oracle record; a zero CreatedBlock means no task.
type TaskRecord struct {
	Name         string
	CreatedBlock uint32
}

// Oracle is the read surface of the task oracle contract.
type Oracle interface {
	LatestTaskNum(ctx context.Context) (uint32, error)
	TaskStatus(ctx context.Context, index uint32) (TaskStatus, error)
	TaskRespondents(ctx context.Context, index uint32) ([]common.Address, error)
	Task(ctx context.Context, index uint32) (TaskRecord, error)
}

// Markets links oracle tasks to prediction markets.
type Markets interface {
	MarketIDForTask(ctx context.Context, index uint32) (*big.Int, error)
	MarketState(ctx context.Context, marketID *big.Int) (MarketState, error)
}

type Registry interface {
	IsRegistered(ctx context.Context, agent common.Address) (bool, error)
	AllAgents(ctx context.Context) ([]common.Address, error)
}

// Node holds the transaction primitives.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	LatestHeader(ctx context.Context) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	// RecentGasPrices samples up to perBlock transaction prices from each of
	// the last blocks blocks.
	RecentGasPrices(ctx context.Context, blocks, perBlock int) ([]*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitReceipt(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	// TransactionReceipt returns ethereum.NotFound while hash is unmined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// IsRevert reports whether err came back from the node as an execution
// revert rather than a transport failure.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReverted) {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
