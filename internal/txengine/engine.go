// Package txengine submits payloads and confirms them: it checkpoints the
// submission, polls for finality and waits for the account nonce to advance,
// failing over across RPC endpoints.
package txengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/observability"
	"stark-claimer/internal/retry"
	"stark-claimer/internal/starknet"
)

var (
	// ErrReverted is matched by RevertError.
	ErrReverted = errors.New("transaction reverted")
	// ErrReceiptTimeout means the transaction never reached finality in budget.
	ErrReceiptTimeout = errors.New("transaction not confirmed in time")
	// ErrNonceNotAdvanced means finality was seen but the nonce never moved.
	ErrNonceNotAdvanced = errors.New("account nonce did not advance")

	errPending = errors.New("transaction pending")
)

// RevertError carries the revert reason of a failed transaction.
type RevertError struct {
	TxHash string
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash, e.Reason)
}

// Is matches ErrReverted.
func (e *RevertError) Is(target error) bool {
	return target == ErrReverted
}

// Submitter signs and submits calls for one account.
type Submitter interface {
	Address() string
	Execute(ctx context.Context, p starknet.Provider, calls []domain.Call) (string, error)
}

// Flusher persists the current state synchronously.
type Flusher interface {
	Flush(ctx context.Context) error
}

// GasWaiter blocks until submission is affordable.
type GasWaiter interface {
	Wait(ctx context.Context) error
}

// Submission is one payload bound to the stage it advances.
type Submission struct {
	Label   string
	Account Submitter
	Calls   []domain.Call
	Stage   *domain.StageState
}

// Engine runs the submission and confirmation state machine.
type Engine struct {
	pool    *starknet.Pool
	gas     GasWaiter
	state   Flusher
	cfg     config.ConfirmationConfig
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

// Options configures an Engine.
type Options struct {
	Pool    *starknet.Pool
	Gas     GasWaiter
	State   Flusher
	Config  config.ConfirmationConfig
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
}

// New creates an Engine.
func New(opts Options) *Engine {
	return &Engine{
		pool:    opts.Pool,
		gas:     opts.Gas,
		state:   opts.State,
		cfg:     opts.Config,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Confirm drives sub.Stage to check_balance. A stage already in process
// resumes at receipt polling with its persisted hash; resolved stages are
// left untouched. Each attempt runs against one endpoint; after every
// endpoint failed the last error is returned.
func (e *Engine) Confirm(ctx context.Context, sub Submission) error {
	if sub.Stage.Status.Resolved() {
		return nil
	}
	return e.pool.Failover(ctx, func(ctx context.Context, p starknet.Provider) error {
		return e.confirmOnce(ctx, p, sub)
	})
}

func (e *Engine) confirmOnce(ctx context.Context, p starknet.Provider, sub Submission) error {
	stage := sub.Stage
	if stage.Status.Resolved() {
		return nil
	}
	addr := sub.Account.Address()
	log := e.log.WithFields(logrus.Fields{"wallet": addr, "stage": sub.Label})

	if stage.Status != domain.StatusProcess {
		if len(sub.Calls) == 0 {
			return retry.Permanent(fmt.Errorf("%s: empty payload", sub.Label))
		}
		nonce, err := e.resolveNonce(ctx, p, addr, log)
		if err != nil {
			return err
		}
		if e.gas != nil {
			if err := e.gas.Wait(ctx); err != nil {
				return fmt.Errorf("wait for gas: %w", err)
			}
		}

		hash, err := e.submit(ctx, p, sub, log)
		if err != nil {
			return err
		}
		if err := stage.MarkSubmitted(hash, nonce); err != nil {
			return retry.Permanent(err)
		}
		if err := e.state.Flush(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("persist submission: %w", err))
		}
		e.metrics.RecordSubmission(sub.Label)
		log.WithFields(logrus.Fields{
			"tx":    domain.ExplorerTxURL + hash,
			"nonce": nonce,
		}).Info("transaction submitted")
	} else {
		log.WithField("tx", stage.TxHash).Info("resuming confirmation")
	}

	if err := e.awaitReceipt(ctx, p, sub, log); err != nil {
		return err
	}
	if err := e.awaitNonce(ctx, p, sub, log); err != nil {
		return err
	}

	if err := stage.SetStatus(domain.StatusCheckBalance); err != nil {
		return retry.Permanent(err)
	}
	if err := e.state.Flush(ctx); err != nil {
		return retry.Permanent(fmt.Errorf("persist settlement: %w", err))
	}
	e.metrics.RecordStage(sub.Label, string(domain.StatusCheckBalance))
	log.WithField("tx", stage.TxHash).Info("transaction settled")
	return nil
}

// resolveNonce reads the pending nonce and falls back to the latest block.
func (e *Engine) resolveNonce(ctx context.Context, p starknet.Provider, addr string, log logrus.FieldLogger) (uint64, error) {
	n, err := p.Nonce(ctx, addr, starknet.BlockPending)
	if err == nil {
		return n, nil
	}
	log.WithError(err).Warn("pending nonce lookup failed, trying latest")

	n, fallbackErr := p.Nonce(ctx, addr, starknet.BlockLatest)
	if fallbackErr != nil {
		return 0, fmt.Errorf("nonce lookup: %w", errors.Join(err, fallbackErr))
	}
	return n, nil
}

// submit executes the payload, backing off on duplicate-transaction errors.
func (e *Engine) submit(ctx context.Context, p starknet.Provider, sub Submission, log logrus.FieldLogger) (string, error) {
	policy := retry.Fixed(e.cfg.DuplicateAttempts, e.cfg.DuplicateBackoff)
	policy.ShouldRetry = func(err error) bool { return errors.Is(err, starknet.ErrDuplicateTx) }
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).
			WithError(err).Warn("duplicate transaction, retrying submission")
	}

	var hash string
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		h, err := sub.Account.Execute(ctx, p, sub.Calls)
		if err != nil {
			return err
		}
		hash = h
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", sub.Label, err)
	}
	return hash, nil
}

// awaitReceipt polls the receipt until success or revert.
func (e *Engine) awaitReceipt(ctx context.Context, p starknet.Provider, sub Submission, log logrus.FieldLogger) error {
	stage := sub.Stage
	policy := retry.Fixed(e.cfg.ReceiptAttempts, e.cfg.ReceiptInterval)
	policy.ShouldRetry = func(err error) bool {
		return errors.Is(err, starknet.ErrTxNotFound) || errors.Is(err, errPending) || retry.IsTransient(err)
	}
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		if retry.IsTransient(err) {
			log.WithField("attempt", attempt).WithError(err).Warn("receipt lookup failed, retrying")
		}
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		r, err := p.TransactionReceipt(ctx, stage.TxHash)
		if err != nil {
			return err
		}
		switch {
		case r.Reverted():
			return e.markReverted(ctx, sub, r.RevertReason, log)
		case r.Succeeded():
			return nil
		default:
			log.WithFields(logrus.Fields{
				"finality":  r.FinalityStatus,
				"execution": r.ExecutionStatus,
			}).Debug("transaction pending")
			return errPending
		}
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errPending) || errors.Is(err, starknet.ErrTxNotFound) {
		return fmt.Errorf("%w: %s: %v", ErrReceiptTimeout, stage.TxHash, err)
	}
	return err
}

func (e *Engine) markReverted(ctx context.Context, sub Submission, reason string, log logrus.FieldLogger) error {
	revert := &RevertError{TxHash: sub.Stage.TxHash, Reason: reason}
	sub.Stage.Fail(reason)
	e.metrics.RecordRevert(sub.Label)
	e.metrics.RecordStage(sub.Label, string(domain.StatusError))
	log.WithField("tx", domain.ExplorerTxURL+sub.Stage.TxHash).
		WithField("reason", reason).Error("transaction reverted")

	if err := e.state.Flush(ctx); err != nil {
		return retry.Permanent(errors.Join(revert, fmt.Errorf("persist revert: %w", err)))
	}
	return retry.Permanent(revert)
}

// awaitNonce waits until the account nonce moves past the snapshot.
func (e *Engine) awaitNonce(ctx context.Context, p starknet.Provider, sub Submission, log logrus.FieldLogger) error {
	stage := sub.Stage
	addr := sub.Account.Address()

	policy := retry.Fixed(e.cfg.NonceAttempts, e.cfg.NonceInterval)
	policy.ShouldRetry = func(err error) bool {
		return errors.Is(err, ErrNonceNotAdvanced) || retry.IsTransient(err)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		n, err := e.resolveNonce(ctx, p, addr, log)
		if err != nil {
			return err
		}
		if n > stage.NonceSnapshot {
			return nil
		}
		log.WithFields(logrus.Fields{"nonce": n, "snapshot": stage.NonceSnapshot}).Debug("waiting for nonce update")
		return ErrNonceNotAdvanced
	})
	if err != nil && !errors.Is(err, ErrNonceNotAdvanced) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%s: snapshot %d: %w", sub.Label, stage.NonceSnapshot, err)
	}
	return nil
}
