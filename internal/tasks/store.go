package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/logging"
)

// ErrAbsent marks a task whose record cannot be read back. It is terminal.
var ErrAbsent = errors.New("task record absent")

type Task struct {
	Index        uint32
	Name         string
	CreatedBlock uint32
}

type LookupKind int

const (
	Found LookupKind = iota
	// Absent is terminal: the chain has no usable record for the index.
	Absent
	// ReadFailed is transient: the node could not be asked.
	ReadFailed
)

func (k LookupKind) String() string {
	switch k {
	case Found:
		return "found"
	case Absent:
		return "absent"
	case ReadFailed:
		return "read_failed"
	default:
		return "unknown"
	}
}

// Lookup is the outcome of Reconstruct. Task is only set when Kind == Found.
type Lookup struct {
	Kind   LookupKind
	Task   Task
	Reason string
	Err    error
}

// Store is a read-only view over the oracle contract.
type Store struct {
	oracle chain.Oracle
	log    *zap.Logger
}

func NewStore(oracle chain.Oracle, log *zap.Logger) *Store {
	return &Store{oracle: oracle, log: logging.OrNop(log)}
}

func (s *Store) LatestTaskCount(ctx context.Context) (uint32, error) {
	n, err := s.oracle.LatestTaskNum(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest task count: %w", err)
	}
	return n, nil
}

func (s *Store) StatusOf(ctx context.Context, index uint32) (chain.TaskStatus, error) {
	status, err := s.oracle.TaskStatus(ctx, index)
	if err != nil {
		return 0, fmt.Errorf("status of task %d: %w", index, err)
	}
	return status, nil
}

// RespondentsOf returns the set of addresses that already answered index.
func (s *Store) RespondentsOf(ctx context.Context, index uint32) (map[common.Address]struct{}, error) {
	addrs, err := s.oracle.TaskRespondents(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("respondents of task %d: %w", index, err)
	}
	set := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set, nil
}

// HasResponded reports whether agent is among the respondents of index.
func (s *Store) HasResponded(ctx context.Context, index uint32, agent common.Address) (bool, error) {
	set, err := s.RespondentsOf(ctx, index)
	if err != nil {
		return false, err
	}
	_, ok := set[agent]
	return ok, nil
}

// Reconstruct reads the task record with a single direct call. Reverts,
// undecodable data, empty names and a zero creation block all mean Absent;
// only transport failures are ReadFailed.
func (s *Store) Reconstruct(ctx context.Context, index uint32) Lookup {
	rec, err := s.oracle.Task(ctx, index)
	if err != nil {
		if errors.Is(err, chain.ErrReverted) || errors.Is(err, chain.ErrMalformed) {
			s.log.Warn("task record unreadable", zap.Uint32("task", index), zap.Error(err))
			return Lookup{Kind: Absent, Reason: "unreadable", Err: fmt.Errorf("%w: %w", ErrAbsent, err)}
		}
		return Lookup{Kind: ReadFailed, Reason: "read_failed", Err: err}
	}
	if rec.CreatedBlock == 0 {
		s.log.Warn("task record missing", zap.Uint32("task", index), zap.String("reason", "zero_created_block"))
		return Lookup{Kind: Absent, Reason: "zero_created_block", Err: ErrAbsent}
	}
	if strings.TrimSpace(rec.Name) == "" {
		s.log.Warn("task record missing", zap.Uint32("task", index), zap.String("reason", "empty_name"))
		return Lookup{Kind: Absent, Reason: "empty_name", Err: ErrAbsent}
	}
	return Lookup{
		Kind: Found,
		Task: Task{Index: index, Name: rec.Name, CreatedBlock: rec.CreatedBlock},
	}
}
