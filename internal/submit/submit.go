package submit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/logging"
)

var (
	// ErrNoSigner is returned when no signing key is configured.
	ErrNoSigner = errors.New("no signing key configured")
	// ErrSubmissionFailed means the tx was mined with a non-success status or
	// could not be sent at all.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrReceiptPending means the tx was accepted by the node but its receipt
	// has not been seen yet. The tx must be confirmed by hash, not resent.
	ErrReceiptPending = errors.New("receipt pending")
)

const (
	// DefaultGasLimit is used when estimation fails.
	DefaultGasLimit uint64 = 500_000

	gasSampleBlocks   = 5
	gasSamplePerBlock = 5
)

// PriorityTip is added on top of the scaled base fee.
var PriorityTip = big.NewInt(params.GWei)

// RespondentChecker answers whether an agent already responded to a task.
type RespondentChecker interface {
	HasResponded(ctx context.Context, index uint32, agent common.Address) (bool, error)
}

type TxResult struct {
	Hash     common.Hash
	Dynamic  bool
	GasLimit uint64
	Receipt  *types.Receipt
	// Skipped is set when the agent had already responded; nothing was sent.
	Skipped bool
}

type Options struct {
	Node        chain.Node
	Oracle      common.Address
	Key         *ecdsa.PrivateKey
	Respondents RespondentChecker
	Log         *zap.Logger
}

// Submitter builds, signs and sends transactions one at a time.
type Submitter struct {
	node        chain.Node
	oracle      common.Address
	key         *ecdsa.PrivateKey
	from        common.Address
	respondents RespondentChecker
	log         *zap.Logger
}

func New(opts Options) *Submitter {
	s := &Submitter{
		node:        opts.Node,
		oracle:      opts.Oracle,
		key:         opts.Key,
		respondents: opts.Respondents,
		log:         logging.OrNop(opts.Log),
	}
	if opts.Key != nil {
		s.from = crypto.PubkeyToAddress(opts.Key.PublicKey)
	}
	return s
}

// Address is the agent identity; zero when no key is configured.
func (s *Submitter) Address() common.Address { return s.from }

func (s *Submitter) HasKey() bool { return s.key != nil }

// TaskMessageHash is keccak256 of the canonical "Task<index>" message.
func TaskMessageHash(index uint32) common.Hash {
	return crypto.Keccak256Hash([]byte("Task" + strconv.FormatUint(uint64(index), 10)))
}

// SignTaskMessage signs the task message hash as an Ethereum personal
// message. V is 27 or 28.
func SignTaskMessage(key *ecdsa.PrivateKey, index uint32) ([]byte, error) {
	hash := TaskMessageHash(index)
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Submit answers task index with decision. The respondent set is checked
// first so an agent never answers the same task twice.
func (s *Submitter) Submit(ctx context.Context, index uint32, decision bool) (TxResult, error) {
	if s.key == nil {
		return TxResult{}, ErrNoSigner
	}
	if s.respondents != nil {
		done, err := s.respondents.HasResponded(ctx, index, s.from)
		if err != nil {
			return TxResult{}, fmt.Errorf("respondent check for task %d: %w", index, err)
		}
		if done {
			s.log.Info("already responded, not resubmitting",
				zap.Uint32("task", index), zap.String("reason", "already_responded"))
			return TxResult{Skipped: true}, nil
		}
	}
	sig, err := SignTaskMessage(s.key, index)
	if err != nil {
		return TxResult{}, fmt.Errorf("sign task %d: %w", index, err)
	}
	data, err := chain.PackRespond(index, decision, sig)
	if err != nil {
		return TxResult{}, err
	}
	res, err := s.Send(ctx, s.oracle, data)
	if err != nil {
		return res, fmt.Errorf("respond to task %d: %w", index, err)
	}
	return res, nil
}

// Send signs a call to `to` with the fee and gas fallbacks, submits it and
// blocks until the receipt arrives.
func (s *Submitter) Send(ctx context.Context, to common.Address, data []byte) (TxResult, error) {
	if s.key == nil {
		return TxResult{}, ErrNoSigner
	}
	chainID, err := s.node.ChainID(ctx)
	if err != nil {
		return TxResult{}, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := s.node.PendingNonceAt(ctx, s.from)
	if err != nil {
		return TxResult{}, fmt.Errorf("pending nonce: %w", err)
	}
	gas := s.estimateGas(ctx, to, data)

	var txdata types.TxData
	dynamic := false
	if tip, feeCap, err := s.dynamicFees(ctx); err == nil {
		dynamic = true
		txdata = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Data:      data,
		}
	} else {
		s.log.Warn("fee market unavailable, falling back to legacy gas price", zap.Error(err))
		price, err := s.legacyGasPrice(ctx)
		if err != nil {
			return TxResult{}, fmt.Errorf("gas price: %w", err)
		}
		txdata = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Data:     data,
		}
	}

	tx, err := types.SignNewTx(s.key, types.LatestSignerForChainID(chainID), txdata)
	if err != nil {
		return TxResult{}, fmt.Errorf("sign tx: %w", err)
	}
	res := TxResult{Hash: tx.Hash(), Dynamic: dynamic, GasLimit: gas}
	if err := s.node.SendTransaction(ctx, tx); err != nil {
		return res, fmt.Errorf("%w: send: %v", ErrSubmissionFailed, err)
	}
	s.log.Info("transaction sent",
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
		zap.Bool("dynamic_fee", dynamic))

	receipt, err := s.node.WaitReceipt(ctx, tx)
	if err != nil {
		return res, fmt.Errorf("%w: tx %s: %v", ErrReceiptPending, tx.Hash().Hex(), err)
	}
	return checkReceipt(res, receipt)
}

// Confirm looks up the receipt of an already sent tx. It never resends.
func (s *Submitter) Confirm(ctx context.Context, hash common.Hash) (TxResult, error) {
	res := TxResult{Hash: hash}
	receipt, err := s.node.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return res, fmt.Errorf("%w: tx %s not mined yet", ErrReceiptPending, hash.Hex())
		}
		return res, fmt.Errorf("%w: tx %s: %v", ErrReceiptPending, hash.Hex(), err)
	}
	if receipt == nil {
		return res, fmt.Errorf("%w: tx %s not mined yet", ErrReceiptPending, hash.Hex())
	}
	return checkReceipt(res, receipt)
}

func checkReceipt(res TxResult, receipt *types.Receipt) (TxResult, error) {
	res.Receipt = receipt
	if receipt.Status != types.ReceiptStatusSuccessful {
		return res, fmt.Errorf("%w: tx %s mined with status %d", ErrSubmissionFailed, res.Hash.Hex(), receipt.Status)
	}
	return res, nil
}

func (s *Submitter) estimateGas(ctx context.Context, to common.Address, data []byte) uint64 {
	est, err := s.node.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, Data: data})
	if err != nil || est == 0 {
		s.log.Warn("gas estimation failed, using default limit",
			zap.Uint64("gas", DefaultGasLimit), zap.Error(err))
		return DefaultGasLimit
	}
	return est * 6 / 5
}

// dynamicFees returns tip and fee cap: base fee * 1.5 + tip.
func (s *Submitter) dynamicFees(ctx context.Context) (*big.Int, *big.Int, error) {
	head, err := s.node.LatestHeader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("latest header: %w", err)
	}
	if head == nil || head.BaseFee == nil {
		return nil, nil, errors.New("latest block has no base fee")
	}
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(3))
	feeCap.Div(feeCap, big.NewInt(2))
	feeCap.Add(feeCap, PriorityTip)
	return new(big.Int).Set(PriorityTip), feeCap, nil
}

func (s *Submitter) legacyGasPrice(ctx context.Context) (*big.Int, error) {
	samples, err := s.node.RecentGasPrices(ctx, gasSampleBlocks, gasSamplePerBlock)
	if err != nil {
		s.log.Debug("gas price sampling failed", zap.Error(err))
	}
	if p := Percentile60(samples); p != nil {
		return p, nil
	}
	return s.node.SuggestGasPrice(ctx)
}

// Percentile60 returns the element at index len*0.6 of the sorted samples,
// or nil when there are none.
func Percentile60(samples []*big.Int) *big.Int {
	vals := make([]*big.Int, 0, len(samples))
	for _, v := range samples {
		if v != nil {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return nil
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i].Cmp(vals[j]) < 0 })
	return new(big.Int).Set(vals[len(vals)*3/5])
}
