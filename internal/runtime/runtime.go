package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/decision"
	"oraclebridge/internal/eligibility"
	"oraclebridge/internal/logging"
	"oraclebridge/internal/metrics"
	"oraclebridge/internal/registrar"
	"oraclebridge/internal/store"
	"oraclebridge/internal/submit"
	"oraclebridge/internal/tasks"
)

const DefaultInterval = 30 * time.Second

type Decider interface {
	Decide(ctx context.Context, task tasks.Task) (decision.Decision, string, error)
	Mock() bool
}

type Responder interface {
	Submit(ctx context.Context, index uint32, decision bool) (submit.TxResult, error)
	// Confirm checks a tx sent earlier without resending it.
	Confirm(ctx context.Context, hash common.Hash) (submit.TxResult, error)
}

type Setup interface {
	Setup(ctx context.Context) (registrar.Outcome, error)
}

type Options struct {
	Tasks     *tasks.Store
	Filter    eligibility.Filter
	Decider   Decider
	Responder Responder
	// Agent, when set, is checked against the respondent set before a
	// decision is requested.
	Agent common.Address
	// Setup is optional; when set it runs once before the first sweep.
	Setup    Setup
	Metrics  *metrics.Recorder
	Log      *zap.Logger
	Interval time.Duration
	Once     bool
}

// Runner is the reconciliation loop. It owns the processed-task memory and
// handles one task at a time in increasing index order.
type Runner struct {
	Interval time.Duration
	Once     bool

	tasks     *tasks.Store
	filter    eligibility.Filter
	decider   Decider
	responder Responder
	agent     common.Address
	setup     Setup
	metrics   *metrics.Recorder
	log       *zap.Logger
	memory    *store.Store
}

func NewRunner(opts Options) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		Interval:  interval,
		Once:      opts.Once,
		tasks:     opts.Tasks,
		filter:    opts.Filter,
		decider:   opts.Decider,
		responder: opts.Responder,
		agent:     opts.Agent,
		setup:     opts.Setup,
		metrics:   opts.Metrics,
		log:       logging.OrNop(opts.Log),
		memory:    store.New(),
	}
}

// Memory exposes the processed-task memory for status reporting and tests.
func (r *Runner) Memory() *store.Store { return r.memory }

// Run sweeps until ctx is cancelled, or once in single-pass mode. A
// cancelled context is a clean shutdown and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if r.setup != nil {
		if out, err := r.setup.Setup(ctx); err != nil {
			r.log.Error("agent registration failed, continuing", zap.Error(err))
		} else {
			r.log.Info("setup complete", zap.Stringer("registration", out))
		}
	}
	r.log.Info("bridge running",
		zap.Duration("interval", r.Interval),
		zap.Bool("once", r.Once),
		zap.String("policy", r.filter.Name()),
		zap.Bool("mock_decisions", r.decider.Mock()))

	for {
		err := r.Sweep(ctx)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			r.log.Info("shutting down")
			return nil
		}
		if r.Once {
			return err
		}
		if !sleep(ctx, r.Interval) {
			r.log.Info("shutting down")
			return nil
		}
	}
}

// Sweep runs one reconciliation pass. It returns an error only when the task
// count could not be read or ctx was cancelled between tasks.
func (r *Runner) Sweep(ctx context.Context) error {
	log := r.log.With(zap.String("cycle", uuid.NewString()))
	count, err := r.tasks.LatestTaskCount(ctx)
	if err != nil {
		log.Warn("skipping cycle", zap.String("reason", "count_read_failed"), zap.Error(err))
		r.metrics.Cycle("count_read_failed")
		return err
	}
	r.metrics.TaskCount(count)
	log.Debug("sweep", zap.Uint32("task_count", count), zap.Int("memorized", r.memory.Len()))

	for idx := uint32(0); idx < count; idx++ {
		if err := ctx.Err(); err != nil {
			r.metrics.Cycle("interrupted")
			return err
		}
		if r.memory.Has(idx) {
			continue
		}
		// an interrupt lets the in-flight task finish
		reason := r.process(context.WithoutCancel(ctx), log.With(zap.Uint32("task", idx)), idx)
		r.metrics.Outcome(reason)
	}
	r.metrics.Cycle("ok")
	return nil
}

// process walks one task through status, reconstruction, eligibility,
// decision and submission. It returns the outcome reason.
func (r *Runner) process(ctx context.Context, log *zap.Logger, idx uint32) string {
	status, err := r.tasks.StatusOf(ctx, idx)
	if err != nil {
		log.Warn("task deferred", zap.String("reason", "status_read_failed"), zap.Error(err))
		return "status_read_failed"
	}
	if status == chain.TaskResolved {
		r.memory.Mark(idx)
		r.memory.ClearPending(idx)
		log.Debug("task skipped", zap.String("reason", "resolved"))
		return "resolved"
	}
	if p, ok := r.memory.Pending(idx); ok {
		return r.confirm(ctx, log, idx, p)
	}

	lookup := r.tasks.Reconstruct(ctx, idx)
	switch lookup.Kind {
	case tasks.ReadFailed:
		log.Warn("task deferred", zap.String("reason", "reconstruct_read_failed"), zap.Error(lookup.Err))
		return "reconstruct_read_failed"
	case tasks.Absent:
		r.memory.Mark(idx)
		log.Warn("task skipped", zap.String("reason", "absent_"+lookup.Reason))
		return "absent"
	}
	task := lookup.Task

	verdict, err := r.filter.Check(ctx, task)
	if err != nil {
		log.Warn("task deferred", zap.String("reason", "eligibility_read_failed"), zap.Error(err))
		return "eligibility_read_failed"
	}
	if !verdict.Eligible {
		r.memory.Mark(idx)
		log.Info("task skipped", zap.String("reason", verdict.Reason))
		return verdict.Reason
	}

	if r.agent != (common.Address{}) {
		done, err := r.tasks.HasResponded(ctx, idx, r.agent)
		if err != nil {
			log.Warn("task deferred", zap.String("reason", "respondent_read_failed"), zap.Error(err))
			return "respondent_read_failed"
		}
		if done {
			r.memory.Mark(idx)
			log.Info("task skipped", zap.String("reason", "already_responded"))
			return "already_responded"
		}
	}

	d, _, err := r.decider.Decide(ctx, task)
	if err != nil {
		log.Warn("task deferred", zap.String("reason", "decision_failed"), zap.Error(err))
		return "decision_failed"
	}
	r.metrics.Decision(d.String(), r.decider.Mock())
	log.Info("decision", zap.Stringer("decision", d), zap.Uint32("created_block", task.CreatedBlock))

	res, err := r.responder.Submit(ctx, idx, bool(d))
	switch {
	case errors.Is(err, submit.ErrNoSigner):
		log.Error("CANNOT SUBMIT: no signing key configured", zap.String("reason", "no_signing_key"))
		r.metrics.Submission("no_signer")
		return "no_signing_key"
	case errors.Is(err, submit.ErrReceiptPending):
		r.memory.SetPending(idx, store.Pending{Decision: bool(d), TxHash: res.Hash, SentAt: time.Now()})
		log.Warn("task deferred", zap.String("reason", "receipt_pending"), zap.String("tx", res.Hash.Hex()), zap.Error(err))
		r.metrics.Submission("pending")
		return "receipt_pending"
	case errors.Is(err, submit.ErrSubmissionFailed):
		log.Warn("task deferred", zap.String("reason", "submission_failed"), zap.String("tx", res.Hash.Hex()), zap.Error(err))
		r.metrics.Submission("failed")
		return "submission_failed"
	case err != nil:
		log.Warn("task deferred", zap.String("reason", "submission_error"), zap.Error(err))
		r.metrics.Submission("error")
		return "submission_error"
	}

	r.memory.Mark(idx)
	if res.Skipped {
		log.Info("task skipped", zap.String("reason", "already_responded"))
		return "already_responded"
	}
	r.accept(log, idx, bool(d), res)
	return "submitted"
}

// confirm settles a response sent on an earlier sweep. A tx that is still
// unmined stays pending; a reverted one is forgotten so the next sweep
// answers again.
func (r *Runner) confirm(ctx context.Context, log *zap.Logger, idx uint32, p store.Pending) string {
	res, err := r.responder.Confirm(ctx, p.TxHash)
	switch {
	case errors.Is(err, submit.ErrReceiptPending):
		log.Info("task deferred", zap.String("reason", "receipt_pending"), zap.String("tx", p.TxHash.Hex()))
		return "receipt_pending"
	case errors.Is(err, submit.ErrSubmissionFailed):
		r.memory.ClearPending(idx)
		log.Warn("task deferred", zap.String("reason", "submission_failed"), zap.String("tx", p.TxHash.Hex()), zap.Error(err))
		r.metrics.Submission("failed")
		return "submission_failed"
	case err != nil:
		log.Warn("task deferred", zap.String("reason", "confirm_error"), zap.String("tx", p.TxHash.Hex()), zap.Error(err))
		return "confirm_error"
	}
	r.memory.ClearPending(idx)
	r.memory.Mark(idx)
	r.accept(log, idx, p.Decision, res)
	return "submitted"
}

func (r *Runner) accept(log *zap.Logger, idx uint32, d bool, res submit.TxResult) {
	rec := store.Receipt{Task: idx, Decision: d, TxHash: res.Hash, AcceptedAt: time.Now()}
	if res.Receipt != nil && res.Receipt.BlockNumber != nil {
		rec.BlockNumber = res.Receipt.BlockNumber.Uint64()
	}
	r.memory.Add(rec)
	r.metrics.Submission("success")
	log.Info("response submitted", zap.String("tx", res.Hash.Hex()), zap.Stringer("decision", decision.Decision(d)))
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
