package store

import (
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt records a response that landed on chain.
type Receipt struct {
	Task        uint32
	Decision    bool
	TxHash      common.Hash
	AcceptedAt  time.Time
	BlockNumber uint64
}

// MaxReceipts bounds how many recent receipts are kept in memory.
const MaxReceipts = 256

// Pending is a response whose tx was accepted by the node but not yet seen
// mined. It is confirmed by hash and never resent while outstanding.
type Pending struct {
	Decision bool
	TxHash   common.Hash
	SentAt   time.Time
}

// Store is the loop's in-process memory: which task indices are settled and
// which responses this process submitted. Nothing is persisted; a restart
// starts empty and relies on on-chain status and respondents instead.
// Store is not safe for concurrent use.
type Store struct {
	processed map[uint32]struct{}
	pending   map[uint32]Pending
	receipts  []Receipt
	submitted int
}

func New() *Store {
	return &Store{
		processed: map[uint32]struct{}{},
		pending:   map[uint32]Pending{},
		receipts:  make([]Receipt, 0, MaxReceipts),
	}
}

// Mark records index as handled. Marking twice is a no-op.
func (s *Store) Mark(index uint32) {
	s.processed[index] = struct{}{}
}

func (s *Store) Has(index uint32) bool {
	_, ok := s.processed[index]
	return ok
}

func (s *Store) Len() int {
	return len(s.processed)
}

// Indices returns the processed indices in increasing order.
func (s *Store) Indices() []uint32 {
	out := make([]uint32, 0, len(s.processed))
	for idx := range s.processed {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Add records r and drops the oldest receipt once MaxReceipts are held.
func (s *Store) Add(r Receipt) {
	s.submitted++
	if len(s.receipts) == MaxReceipts {
		copy(s.receipts, s.receipts[1:])
		s.receipts = s.receipts[:MaxReceipts-1]
	}
	s.receipts = append(s.receipts, r)
}

// Receipts returns the retained receipts, oldest first.
func (s *Store) Receipts() []Receipt {
	return append([]Receipt(nil), s.receipts...)
}

// Submitted counts every receipt ever added, including dropped ones.
func (s *Store) Submitted() int { return s.submitted }

func (s *Store) SetPending(index uint32, p Pending) {
	s.pending[index] = p
}

func (s *Store) Pending(index uint32) (Pending, bool) {
	p, ok := s.pending[index]
	return p, ok
}

func (s *Store) ClearPending(index uint32) {
	delete(s.pending, index)
}

func (s *Store) PendingLen() int { return len(s.pending) }
