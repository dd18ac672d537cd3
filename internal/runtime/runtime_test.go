package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/decision"
	"oraclebridge/internal/eligibility"
	"oraclebridge/internal/metrics"
	"oraclebridge/internal/registrar"
	"oraclebridge/internal/submit"
	"oraclebridge/internal/tasks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const eligibleName = "Prediction market question: Will X happen?"

type harness struct {
	oracle    *fakeOracle
	responder *fakeResponder
	llm       *stubLLM
	metrics   *metrics.Recorder
	runner    *Runner
}

func newHarness(reply string) *harness {
	oracle := newFakeOracle()
	h := &harness{
		oracle:    oracle,
		responder: &fakeResponder{oracle: oracle, fail: map[uint32]error{}},
		llm:       &stubLLM{reply: reply},
		metrics:   metrics.New(),
	}
	h.runner = NewRunner(Options{
		Tasks:     tasks.NewStore(oracle, nil),
		Filter:    eligibility.NewKeywordPolicy(),
		Decider:   decision.NewEngine(h.llm, nil),
		Responder: h.responder,
		Metrics:   h.metrics,
		Interval:  time.Millisecond,
		Once:      true,
	})
	return h
}

func assertMemory(t *testing.T, r *Runner, want ...uint32) {
	t.Helper()
	if want == nil {
		want = []uint32{}
	}
	if diff := cmp.Diff(want, r.Memory().Indices()); diff != "" {
		t.Fatalf("processed memory mismatch (-want +got):\n%s", diff)
	}
}

func TestEndToEndSinglePass(t *testing.T) {
	h := newHarness("YES, confident")
	h.oracle.addTask("Prediction market question: Will A happen?", 10, chain.TaskResolved)
	h.oracle.addTask("Prediction market question: Will B happen?", 11, chain.TaskResolved)
	h.oracle.addTask(eligibleName, 12, chain.TaskCreated)

	require.NoError(t, h.runner.Run(context.Background()))

	assert.Equal(t, []submission{{index: 2, decision: true}}, h.responder.submissions())
	assertMemory(t, h.runner, 0, 1, 2)
	require.Len(t, h.runner.Memory().Receipts(), 1)
	assert.Equal(t, uint32(2), h.runner.Memory().Receipts()[0].Task)
	assert.Equal(t, 1, h.llm.calls)
}

func TestMemorizedTasksAreNotReexamined(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	h.oracle.addTask("weather report", 6, chain.TaskCreated)
	ctx := context.Background()

	require.NoError(t, h.runner.Sweep(ctx))
	require.NoError(t, h.runner.Sweep(ctx))
	require.NoError(t, h.runner.Sweep(ctx))

	assert.Len(t, h.responder.submissions(), 1)
	assert.Equal(t, 1, h.oracle.reads(0))
	assert.Equal(t, 1, h.oracle.reads(1))
	assertMemory(t, h.runner, 0, 1)
}

func TestFailedSubmissionIsRetried(t *testing.T) {
	h := newHarness("NO, not likely")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	h.responder.fail[0] = fmt.Errorf("%w: tx mined with status 0", submit.ErrSubmissionFailed)
	ctx := context.Background()

	require.NoError(t, h.runner.Sweep(ctx))
	assertMemory(t, h.runner)

	delete(h.responder.fail, 0)
	require.NoError(t, h.runner.Sweep(ctx))
	assertMemory(t, h.runner, 0)
	assert.Equal(t, []submission{{0, false}, {0, false}}, h.responder.submissions())
}

func TestNoSignerLeavesTaskUnmarked(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	h.responder.fail[0] = submit.ErrNoSigner

	require.NoError(t, h.runner.Sweep(context.Background()))
	assertMemory(t, h.runner)
}

func TestDecisionFailureDefersTask(t *testing.T) {
	h := newHarness("")
	h.llm.err = errors.New("upstream 503")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)

	require.NoError(t, h.runner.Sweep(context.Background()))
	assertMemory(t, h.runner)
	assert.Empty(t, h.responder.submissions())
}

func TestAbsentAndIneligibleAreTerminal(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask("", 0, chain.TaskCreated)
	h.oracle.addTask("unrelated chatter", 7, chain.TaskCreated)
	ctx := context.Background()

	require.NoError(t, h.runner.Sweep(ctx))
	require.NoError(t, h.runner.Sweep(ctx))

	assertMemory(t, h.runner, 0, 1)
	assert.Empty(t, h.responder.submissions())
	assert.Equal(t, 0, h.llm.calls)
}

func TestResolvedTaskIsNeverSubmitted(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask(eligibleName, 5, chain.TaskInProgress)
	h.responder.fail[0] = errors.New("node hiccup")
	ctx := context.Background()

	require.NoError(t, h.runner.Sweep(ctx))
	require.Len(t, h.responder.submissions(), 1)

	h.oracle.mu.Lock()
	h.oracle.statuses[0] = chain.TaskResolved
	h.oracle.mu.Unlock()

	require.NoError(t, h.runner.Sweep(ctx))
	assert.Len(t, h.responder.submissions(), 1)
	assertMemory(t, h.runner, 0)
}

func TestCountReadFailureSkipsCycle(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	h.oracle.countErr = chain.ErrRead

	err := h.runner.Run(context.Background())
	assert.ErrorIs(t, err, chain.ErrRead)
	assert.Empty(t, h.responder.submissions())
	assertMemory(t, h.runner)
}

func TestNewTasksPickedUpOnLaterSweep(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	ctx := context.Background()

	require.NoError(t, h.runner.Sweep(ctx))
	h.oracle.addTask(eligibleName, 9, chain.TaskCreated)
	require.NoError(t, h.runner.Sweep(ctx))

	assert.Equal(t, []submission{{0, true}, {1, true}}, h.responder.submissions())
}

func TestInterruptFinishesInFlightTask(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	h.oracle.addTask(eligibleName, 6, chain.TaskCreated)
	h.runner.Once = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.responder.onSend = cancel

	require.NoError(t, h.runner.Run(ctx))
	assert.Equal(t, []submission{{0, true}}, h.responder.submissions())
	assertMemory(t, h.runner, 0)
}

func TestRunStopsDuringSleep(t *testing.T) {
	h := newHarness("YES")
	h.runner.Once = false
	h.runner.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.runner.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

type fakeSetup struct {
	calls int
	err   error
}

func (f *fakeSetup) Setup(context.Context) (registrar.Outcome, error) {
	f.calls++
	return registrar.Registered, f.err
}

func TestSetupFailureIsNotFatal(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	setup := &fakeSetup{err: errors.New("registry unreachable")}
	h.runner.setup = setup

	require.NoError(t, h.runner.Run(context.Background()))
	assert.Equal(t, 1, setup.calls)
	assert.Len(t, h.responder.submissions(), 1)
}

func TestMockDecisionsStillSubmit(t *testing.T) {
	oracle := newFakeOracle()
	oracle.addTask(eligibleName, 3, chain.TaskCreated)
	responder := &fakeResponder{oracle: oracle}
	r := NewRunner(Options{
		Tasks:     tasks.NewStore(oracle, nil),
		Filter:    eligibility.NewKeywordPolicy(),
		Decider:   decision.NewEngine(nil, nil),
		Responder: responder,
		Once:      true,
	})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []submission{{0, true}}, responder.submissions())
	assert.Equal(t, DefaultInterval, r.Interval)
}

func TestReceiptTimeoutIsConfirmedNotResent(t *testing.T) {
	h := newHarness("YES")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	h.responder.fail[0] = fmt.Errorf("%w: %v", submit.ErrReceiptPending, context.DeadlineExceeded)
	h.responder.mined = map[common.Hash]error{}
	ctx := context.Background()

	require.NoError(t, h.runner.Sweep(ctx))
	assertMemory(t, h.runner)
	p, ok := h.runner.Memory().Pending(0)
	require.True(t, ok)
	assert.Equal(t, txHash(0), p.TxHash)

	// still unmined: the hash is polled, nothing is sent
	require.NoError(t, h.runner.Sweep(ctx))
	assertMemory(t, h.runner)

	h.responder.mined[txHash(0)] = nil
	require.NoError(t, h.runner.Sweep(ctx))
	assertMemory(t, h.runner, 0)

	assert.Len(t, h.responder.submissions(), 1, "a sent tx must not be resubmitted")
	assert.Equal(t, []common.Hash{txHash(0), txHash(0)}, h.responder.confirmations())
	assert.Equal(t, 1, h.llm.calls)
	_, ok = h.runner.Memory().Pending(0)
	assert.False(t, ok)
	require.Len(t, h.runner.Memory().Receipts(), 1)
	assert.True(t, h.runner.Memory().Receipts()[0].Decision)
}

func TestRevertedPendingTxIsAnsweredAgain(t *testing.T) {
	h := newHarness("NO")
	h.oracle.addTask(eligibleName, 5, chain.TaskCreated)
	h.responder.fail[0] = submit.ErrReceiptPending
	h.responder.mined = map[common.Hash]error{
		txHash(0): fmt.Errorf("%w: status 0", submit.ErrSubmissionFailed),
	}
	ctx := context.Background()

	require.NoError(t, h.runner.Sweep(ctx))
	require.NoError(t, h.runner.Sweep(ctx))
	_, ok := h.runner.Memory().Pending(0)
	assert.False(t, ok, "a reverted tx is forgotten")
	assert.Len(t, h.responder.submissions(), 1)

	delete(h.responder.fail, 0)
	require.NoError(t, h.runner.Sweep(ctx))
	assert.Len(t, h.responder.submissions(), 2)
	assertMemory(t, h.runner, 0)
}

func TestAlreadyRespondedSkipsDecision(t *testing.T) {
	agent := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	h := newHarness("YES")
	h.runner.agent = agent
	h.oracle.addTask(eligibleName, 5, chain.TaskInProgress)
	h.oracle.addTask(eligibleName, 6, chain.TaskCreated)
	h.oracle.respondents[0] = []common.Address{agent}

	require.NoError(t, h.runner.Sweep(context.Background()))

	assert.Equal(t, 1, h.llm.calls, "no decision is requested for an answered task")
	assert.Equal(t, []submission{{1, true}}, h.responder.submissions())
	assertMemory(t, h.runner, 0, 1)
}
