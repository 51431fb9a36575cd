// Package orchestrator drives wallets through the pipeline.
// Per wallet: claim → auto-sell → STRK transfer → ETH transfer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/errsink"
	"stark-claimer/internal/notify"
	"stark-claimer/internal/observability"
	"stark-claimer/internal/payload"
	"stark-claimer/internal/retry"
	"stark-claimer/internal/starknet"
	"stark-claimer/internal/txengine"
	"stark-claimer/internal/venue"
)

// ErrStateWrite means progress could not be persisted. It escapes wallet
// isolation because continuing would desynchronize chain and state.
var ErrStateWrite = errors.New("state write failed")

// Confirmer submits and confirms one stage payload.
type Confirmer interface {
	Confirm(ctx context.Context, sub txengine.Submission) error
}

// SettlementWaiter blocks until a balance reaches a baseline.
type SettlementWaiter interface {
	WaitFor(ctx context.Context, owner string, token domain.Token, baseline *big.Int) error
}

// BalanceSource reads token balances.
type BalanceSource interface {
	BalanceOf(ctx context.Context, token domain.Token, owner string) (*big.Int, error)
}

// VenueSelector picks the swap route.
type VenueSelector interface {
	Select(ctx context.Context, req venue.QuoteRequest) (*venue.Selection, error)
}

// Flusher persists the state.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Options configures an Orchestrator.
type Options struct {
	State    Flusher
	Engine   Confirmer
	Poller   SettlementWaiter
	Balances BalanceSource
	Payloads *payload.Builder
	Selector VenueSelector
	// Pool and Signer back fee estimation and account submission.
	Pool   *starknet.Pool
	Signer starknet.Signer

	Notifier notify.Notifier
	ErrSink  errsink.Sink
	Config   config.Config
	RunID    string

	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	// Sleep replaces the inter-wallet delay; tests pass a no-op.
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

// Orchestrator runs the per-wallet stage machine.
type Orchestrator struct {
	state    Flusher
	engine   Confirmer
	poller   SettlementWaiter
	balances BalanceSource
	payloads *payload.Builder
	selector VenueSelector
	pool     *starknet.Pool
	signer   starknet.Signer

	notifier notify.Notifier
	errSink  errsink.Sink
	cfg      config.Config
	runID    string

	log     logrus.FieldLogger
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		state:    opts.State,
		engine:   opts.Engine,
		poller:   opts.Poller,
		balances: opts.Balances,
		payloads: opts.Payloads,
		selector: opts.Selector,
		pool:     opts.Pool,
		signer:   opts.Signer,
		notifier: opts.Notifier,
		errSink:  opts.ErrSink,
		cfg:      opts.Config,
		runID:    opts.RunID,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		sleep:    opts.Sleep,
		rng:      opts.Rand,
	}
	if o.sleep == nil {
		o.sleep = retry.Sleep
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.payloads == nil {
		o.payloads = payload.NewBuilder(payload.Options{})
	}
	return o
}

// wallet is the per-wallet working context.
type wallet struct {
	record  *domain.WalletRecord
	account *starknet.Account
	log     logrus.FieldLogger
}

// ProcessWallet runs every unfinished stage of r. position is 1-based within
// total. A failure marks r as error, records its credential and is returned;
// the caller moves on to the next wallet.
func (o *Orchestrator) ProcessWallet(ctx context.Context, r *domain.WalletRecord, position, total int) error {
	log := o.log.WithFields(logrus.Fields{
		"wallet":   r.Address,
		"position": fmt.Sprintf("%d/%d", position, total),
	})
	if r.Status == domain.StatusDone {
		log.Info("wallet already processed")
		return nil
	}

	log.Info("processing wallet")
	if err := r.SetStatus(domain.StatusProcess); err != nil {
		return o.fail(ctx, r, err, log)
	}
	if err := o.flush(ctx); err != nil {
		return err
	}

	w := &wallet{
		record:  r,
		account: starknet.NewAccount(r.Address, r.Secret, o.signer),
		log:     log,
	}
	if err := o.runStages(ctx, w); err != nil {
		return o.fail(ctx, r, err, log)
	}

	if err := r.SetStatus(domain.StatusDone); err != nil {
		return o.fail(ctx, r, err, log)
	}
	if err := o.flush(ctx); err != nil {
		return err
	}
	o.metrics.RecordWallet(string(domain.StatusDone))

	o.finish(ctx, r, position, total, log)
	return nil
}

func (o *Orchestrator) runStages(ctx context.Context, w *wallet) error {
	if !w.record.Eligible {
		w.log.Info("wallet not eligible, withdrawing ETH only")
		return o.transferPrimary(ctx, w)
	}
	if err := o.claim(ctx, w); err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if err := o.autoSell(ctx, w); err != nil {
		return fmt.Errorf("swap: %w", err)
	}
	if err := o.transferSecondary(ctx, w); err != nil {
		return fmt.Errorf("transfer STRK: %w", err)
	}
	if err := o.transferPrimary(ctx, w); err != nil {
		return fmt.Errorf("transfer ETH: %w", err)
	}
	return nil
}

// fail is the recovery boundary for one wallet.
func (o *Orchestrator) fail(ctx context.Context, r *domain.WalletRecord, cause error, log logrus.FieldLogger) error {
	if errors.Is(cause, ErrStateWrite) {
		return cause
	}
	if ctx.Err() != nil {
		log.WithError(cause).Warn("wallet interrupted, will resume on next run")
		return cause
	}
	log.WithError(cause).Error("wallet failed")

	if o.errSink != nil {
		if err := o.errSink.Record(r.Secret); err != nil {
			log.WithError(err).Warn("record failed credential")
		}
	}
	if err := r.SetStatus(domain.StatusError); err != nil {
		log.WithError(err).Warn("set wallet status")
	}
	o.metrics.RecordWallet(string(domain.StatusError))

	if err := o.flush(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// finish sends the summary and waits the inter-wallet delay.
func (o *Orchestrator) finish(ctx context.Context, r *domain.WalletRecord, position, total int, log logrus.FieldLogger) {
	if o.notifier != nil {
		s := notify.NewSummary(r, position, total)
		s.RunID = o.runID
		if err := o.notifier.Notify(ctx, s); err != nil {
			log.WithError(err).Warn("send summary")
		}
	}

	d := o.delay()
	log.WithField("delay", d.String()).Info("wallet processed")
	if d > 0 {
		_ = o.sleep(ctx, d)
	}
}

func (o *Orchestrator) delay() time.Duration {
	lo, hi := o.cfg.Batch.Delay.Min, o.cfg.Batch.Delay.Max
	if hi <= lo {
		return lo
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return lo + time.Duration(o.rng.Int63n(int64(hi-lo)+1))
}

func (o *Orchestrator) flush(ctx context.Context) error {
	if err := o.state.Flush(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStateWrite, err)
	}
	return nil
}
