package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/observability"
	"stark-claimer/internal/retry"
)

// WalletSource lists the wallets of a batch.
type WalletSource interface {
	Wallets() []*domain.WalletRecord
}

// RunResult summarizes one batch run.
type RunResult struct {
	RunID     string
	Total     int
	Processed int
	Done      int
	Failed    int
	Skipped   int
	Attempts  int
	Errors    []string
	Duration  time.Duration
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Wallets      WalletSource
	Orchestrator *Orchestrator
	// MaxRetry bounds reruns of the whole batch after an error escaped
	// wallet isolation.
	MaxRetry     int
	RetryBackoff time.Duration
	Logger       logrus.FieldLogger
	Metrics      *observability.Metrics
	NewRunID     func() string
	Now          func() time.Time
}

// Runner is the batch driver: it walks the wallet set sequentially, eligible
// wallets first.
type Runner struct {
	wallets  WalletSource
	orch     *Orchestrator
	maxRetry int
	backoff  time.Duration
	log      logrus.FieldLogger
	metrics  *observability.Metrics
	newRunID func() string
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		wallets:  opts.Wallets,
		orch:     opts.Orchestrator,
		maxRetry: opts.MaxRetry,
		backoff:  opts.RetryBackoff,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		newRunID: opts.NewRunID,
		now:      opts.Now,
	}
	if r.maxRetry <= 0 {
		r.maxRetry = 1
	}
	if r.newRunID == nil {
		r.newRunID = func() string { return uuid.NewString() }
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Order returns wallets with eligible ones first, keeping the relative order
// within each group.
func Order(wallets []*domain.WalletRecord) []*domain.WalletRecord {
	out := append([]*domain.WalletRecord(nil), wallets...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Eligible && !out[j].Eligible
	})
	return out
}

// Run processes every wallet. Wallet failures are counted, not returned.
// Errors that escape wallet isolation rerun the batch up to MaxRetry times;
// finished wallets are skipped on rerun.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	start := r.now()
	result := &RunResult{RunID: r.newRunID()}
	r.orch.runID = result.RunID
	log := r.log.WithField("run", result.RunID)

	policy := retry.Fixed(r.maxRetry, r.backoff)
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("batch interrupted, retrying")
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		result.Attempts++
		return r.runOnce(ctx, result, log)
	})

	result.Duration = r.now().Sub(start)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.metrics.RecordBatchRun(outcome, result.Duration.Seconds(), float64(r.now().Unix()))

	fields := logrus.Fields{
		"total":    result.Total,
		"done":     result.Done,
		"failed":   result.Failed,
		"skipped":  result.Skipped,
		"duration": result.Duration.String(),
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Error("batch aborted")
		return result, fmt.Errorf("run batch: %w", err)
	}
	log.WithFields(fields).Info("batch completed")
	return result, nil
}

func (r *Runner) runOnce(ctx context.Context, result *RunResult, log logrus.FieldLogger) error {
	wallets := Order(r.wallets.Wallets())
	if len(wallets) == 0 {
		return retry.Permanent(errors.New("no wallets to process"))
	}

	result.Total = len(wallets)
	result.Processed, result.Done, result.Failed, result.Skipped = 0, 0, 0, 0
	result.Errors = nil
	log.WithField("wallets", len(wallets)).Info("starting batch")

	for i, w := range wallets {
		if err := ctx.Err(); err != nil {
			return retry.Permanent(err)
		}
		if w.Status == domain.StatusDone {
			result.Skipped++
			continue
		}

		result.Processed++
		err := r.orch.ProcessWallet(ctx, w, i+1, len(wallets))
		switch {
		case err == nil:
			result.Done++
		case errors.Is(err, ErrStateWrite):
			return err
		case ctx.Err() != nil:
			return retry.Permanent(ctx.Err())
		default:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", w.Address, err))
		}
	}
	return nil
}
