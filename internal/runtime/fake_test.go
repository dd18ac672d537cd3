package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/llm"
	"oraclebridge/internal/submit"
)

type fakeOracle struct {
	mu          sync.Mutex
	count       uint32
	countErr    error
	statuses    map[uint32]chain.TaskStatus
	records     map[uint32]chain.TaskRecord
	respondents map[uint32][]common.Address
	statusReads map[uint32]int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		statuses:    map[uint32]chain.TaskStatus{},
		records:     map[uint32]chain.TaskRecord{},
		respondents: map[uint32][]common.Address{},
		statusReads: map[uint32]int{},
	}
}

func (f *fakeOracle) addTask(name string, block uint32, status chain.TaskStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[f.count] = chain.TaskRecord{Name: name, CreatedBlock: block}
	f.statuses[f.count] = status
	f.count++
}

func (f *fakeOracle) LatestTaskNum(context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.countErr
}

func (f *fakeOracle) TaskStatus(_ context.Context, index uint32) (chain.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index >= f.count {
		return 0, fmt.Errorf("%w: taskStatus out of range", chain.ErrReverted)
	}
	f.statusReads[index]++
	return f.statuses[index], nil
}

func (f *fakeOracle) TaskRespondents(_ context.Context, index uint32) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.respondents[index], nil
}

func (f *fakeOracle) Task(_ context.Context, index uint32) (chain.TaskRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[index], nil
}

func (f *fakeOracle) reads(index uint32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusReads[index]
}

type submission struct {
	index    uint32
	decision bool
}

// fakeResponder records submissions and resolves the task on success, the
// way the oracle does once enough responses land.
type fakeResponder struct {
	mu     sync.Mutex
	oracle *fakeOracle
	calls  []submission
	fail   map[uint32]error
	onSend func()
	// mined maps a sent hash to its confirmation outcome; a missing hash is
	// still pending.
	mined    map[common.Hash]error
	confirms []common.Hash
}

func txHash(index uint32) common.Hash {
	return common.BytesToHash([]byte{byte(index + 1)})
}

func (f *fakeResponder) Submit(_ context.Context, index uint32, decision bool) (submit.TxResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, submission{index: index, decision: decision})
	err := f.fail[index]
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	res := submit.TxResult{Hash: txHash(index)}
	if err != nil {
		return res, err
	}
	f.resolve(index)
	return res, nil
}

func (f *fakeResponder) Confirm(_ context.Context, hash common.Hash) (submit.TxResult, error) {
	f.mu.Lock()
	f.confirms = append(f.confirms, hash)
	err, ok := f.mined[hash]
	f.mu.Unlock()
	res := submit.TxResult{Hash: hash}
	if !ok {
		return res, fmt.Errorf("%w: tx %s not mined yet", submit.ErrReceiptPending, hash.Hex())
	}
	return res, err
}

func (f *fakeResponder) resolve(index uint32) {
	if f.oracle == nil {
		return
	}
	f.oracle.mu.Lock()
	f.oracle.statuses[index] = chain.TaskResolved
	f.oracle.mu.Unlock()
}

func (f *fakeResponder) confirmations() []common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Hash(nil), f.confirms...)
}

func (f *fakeResponder) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.calls...)
}

type stubLLM struct {
	reply string
	err   error
	calls int
}

func (s *stubLLM) Generate(context.Context, llm.Prompt) (string, error) {
	s.calls++
	return s.reply, s.err
}
func (s *stubLLM) Provider() string { return "stub" }
func (s *stubLLM) Model() string    { return "stub-1" }
