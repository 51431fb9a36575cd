package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/payload"
	"stark-claimer/internal/retry"
	"stark-claimer/internal/starknet"
	"stark-claimer/internal/txengine"
	"stark-claimer/internal/venue"
)

// Stage labels used in logs and metrics.
const (
	StageClaim             = "claim"
	StageSwap              = "swap"
	StageTransferPrimary   = "transfer_eth"
	StageTransferSecondary = "transfer_strk"
)

// needsPayload reports whether a stage has not been submitted yet.
func needsPayload(s domain.Status) bool {
	return s != domain.StatusProcess && s != domain.StatusCheckBalance
}

// guard runs fn and marks st as error when it fails for a reason other than
// cancellation or a state write.
func (o *Orchestrator) guard(ctx context.Context, label string, st *domain.StageState, fn func() error) error {
	err := fn()
	if err == nil || ctx.Err() != nil || errors.Is(err, ErrStateWrite) {
		return err
	}
	if !st.Status.IsTerminal() && st.Status != domain.StatusError {
		st.Fail(err.Error())
		o.metrics.RecordStage(label, string(domain.StatusError))
	} else if st.Status == domain.StatusError && st.Reason == "" {
		st.Reason = err.Error()
	}
	return err
}

// settle confirms the stage transaction and waits for owner's balance of
// token to reach the stage baseline, then marks the stage done.
func (o *Orchestrator) settle(ctx context.Context, w *wallet, label string, st *domain.StageState, calls []domain.Call, owner string, token domain.Token) error {
	err := o.engine.Confirm(ctx, txengine.Submission{
		Label:   label,
		Account: w.account,
		Calls:   calls,
		Stage:   st,
	})
	if err != nil {
		return err
	}
	if st.Status != domain.StatusCheckBalance {
		return fmt.Errorf("%s: unexpected status %s after confirmation", label, st.Status)
	}

	if err := o.poller.WaitFor(ctx, owner, token, st.BalanceBaseline); err != nil {
		return err
	}
	if err := st.SetStatus(domain.StatusDone); err != nil {
		return err
	}
	if err := o.flush(ctx); err != nil {
		return err
	}
	o.metrics.RecordStage(label, string(domain.StatusDone))
	w.log.WithFields(logrus.Fields{"stage": label, "tx": st.TxHash}).Info("stage done")
	return nil
}

func (o *Orchestrator) skip(ctx context.Context, label string, st *domain.StageState, log logrus.FieldLogger, why string) error {
	if err := st.SetStatus(domain.StatusSkip); err != nil {
		return err
	}
	if err := o.flush(ctx); err != nil {
		return err
	}
	o.metrics.RecordStage(label, string(domain.StatusSkip))
	log.WithField("stage", label).Info(why)
	return nil
}

func (o *Orchestrator) claim(ctx context.Context, w *wallet) error {
	r := w.record
	st := &r.Claim
	if st.Status.IsTerminal() {
		w.log.WithField("stage", StageClaim).Debug("claim already finished")
		return nil
	}

	return o.guard(ctx, StageClaim, st, func() error {
		var calls []domain.Call
		if needsPayload(st.Status) {
			res, err := o.payloads.Build(ctx, payload.Request{Kind: payload.KindClaim, Proof: r.Eligibility})
			if err != nil {
				return err
			}
			before, err := o.balances.BalanceOf(ctx, domain.TokenSecondary, r.Address)
			if err != nil {
				return err
			}
			st.Amount = res.Amount
			st.BalanceBaseline = before
			if err := o.flush(ctx); err != nil {
				return err
			}
			calls = res.Calls
			w.log.WithFields(logrus.Fields{
				"stage":  StageClaim,
				"amount": config.FromWei(res.Amount).String(),
			}).Info("claiming STRK")
		}
		return o.settle(ctx, w, StageClaim, st, calls, r.Address, domain.TokenSecondary)
	})
}

func (o *Orchestrator) autoSell(ctx context.Context, w *wallet) error {
	r := w.record
	st := &r.SwapOnDex
	if !o.cfg.AutoSell.Enabled || st.Status.IsTerminal() {
		return nil
	}

	return o.guard(ctx, StageSwap, &st.StageState, func() error {
		if st.Status == domain.StatusDefault || st.Status == domain.StatusError {
			selected, err := o.selectRoute(ctx, w)
			if err != nil || !selected {
				return err
			}
		} else {
			w.log.WithFields(logrus.Fields{"stage": StageSwap, "venue": st.Venue}).Info("resuming swap with stored payload")
		}
		return o.settle(ctx, w, StageSwap, &st.StageState, st.Payload, r.Address, domain.TokenPrimary)
	})
}

// selectRoute runs the venue waterfall and stores the chosen payload. It
// reports false when there is nothing to sell or no venue qualifies; the
// stage status is then left untouched.
func (o *Orchestrator) selectRoute(ctx context.Context, w *wallet) (bool, error) {
	r := w.record
	st := &r.SwapOnDex
	log := w.log.WithField("stage", StageSwap)

	amount, err := o.balances.BalanceOf(ctx, domain.TokenSecondary, r.Address)
	if err != nil {
		return false, err
	}
	if amount.Sign() <= 0 {
		log.Info("no STRK to sell")
		return false, nil
	}

	sel, err := o.selector.Select(ctx, venue.QuoteRequest{
		SellToken: o.payloads.TokenAddress(domain.TokenSecondary),
		BuyToken:  o.payloads.TokenAddress(domain.TokenPrimary),
		Amount:    amount,
		Taker:     r.Address,
	})
	if errors.Is(err, venue.ErrNoRoute) {
		o.metrics.RecordStage(StageSwap, "no_route")
		log.Info("no suitable route for STRK to ETH, skipping swap")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var calls []domain.Call
	attempts := max(o.cfg.Batch.MaxRetry, 1)
	err = retry.Do(ctx, retry.Fixed(attempts, o.cfg.Batch.RetryBackoff), func(ctx context.Context) error {
		c, err := sel.Quote.BuildPayload(ctx)
		if err != nil {
			log.WithError(err).WithField("venue", sel.Venue).Warn("build swap payload failed")
			return err
		}
		calls = c
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("build %s payload: %w", sel.Venue, err)
	}
	res, err := o.payloads.Build(ctx, payload.Request{Kind: payload.KindSwap, Calls: calls, Amount: amount})
	if err != nil {
		return false, err
	}

	before, err := o.balances.BalanceOf(ctx, domain.TokenPrimary, r.Address)
	if err != nil {
		return false, err
	}

	st.Venue = sel.Venue
	st.Payload = res.Calls
	st.Amount = res.Amount
	st.BalanceBaseline = before
	if err := st.SetStatus(domain.StatusGetPayload); err != nil {
		return false, err
	}
	if err := o.flush(ctx); err != nil {
		return false, err
	}
	log.WithFields(logrus.Fields{
		"venue":  sel.Venue,
		"amount": config.FromWei(amount).String(),
		"output": config.FromWei(sel.Output).String(),
	}).Info("swap payload ready")
	return true, nil
}

func (o *Orchestrator) transferSecondary(ctx context.Context, w *wallet) error {
	r := w.record
	st := &r.TransferSecondary
	if st.Status.IsTerminal() {
		return nil
	}
	if r.SwapOnDex.Status == domain.StatusDone {
		return o.skip(ctx, StageTransferSecondary, st, w.log, "STRK sold on DEX, nothing to withdraw")
	}
	if !o.cfg.Withdraw.Secondary {
		return o.skip(ctx, StageTransferSecondary, st, w.log, "STRK withdrawal disabled")
	}

	return o.guard(ctx, StageTransferSecondary, st, func() error {
		var calls []domain.Call
		if needsPayload(st.Status) {
			bal, err := o.balances.BalanceOf(ctx, domain.TokenSecondary, r.Address)
			if err != nil {
				return err
			}
			if bal.Sign() <= 0 {
				return o.skip(ctx, StageTransferSecondary, st, w.log, "no STRK to withdraw")
			}
			res, err := o.payloads.Build(ctx, payload.Request{
				Kind:   payload.KindTransferSecondary,
				To:     r.SecondaryDestination,
				Amount: bal,
			})
			if err != nil {
				return err
			}
			if calls, err = o.prepareTransfer(ctx, w, st, res, domain.TokenSecondary, r.SecondaryDestination); err != nil {
				return err
			}
		}
		return o.settle(ctx, w, StageTransferSecondary, st, calls, r.SecondaryDestination, domain.TokenSecondary)
	})
}

func (o *Orchestrator) transferPrimary(ctx context.Context, w *wallet) error {
	r := w.record
	st := &r.TransferPrimary
	if st.Status.IsTerminal() {
		return nil
	}
	if !o.cfg.Withdraw.Primary {
		return o.skip(ctx, StageTransferPrimary, st, w.log, "ETH withdrawal disabled")
	}

	return o.guard(ctx, StageTransferPrimary, st, func() error {
		var calls []domain.Call
		if needsPayload(st.Status) {
			bal, err := o.balances.BalanceOf(ctx, domain.TokenPrimary, r.Address)
			if err != nil {
				return err
			}
			if bal.Sign() <= 0 {
				return o.skip(ctx, StageTransferPrimary, st, w.log, "no ETH to withdraw")
			}
			res, err := o.payloads.Build(ctx, payload.Request{
				Kind:      payload.KindTransferPrimary,
				To:        r.PrimaryDestination,
				Amount:    bal,
				Estimator: o.estimator(w.account),
			})
			if err != nil {
				return err
			}
			if calls, err = o.prepareTransfer(ctx, w, st, res, domain.TokenPrimary, r.PrimaryDestination); err != nil {
				return err
			}
		}
		return o.settle(ctx, w, StageTransferPrimary, st, calls, r.PrimaryDestination, domain.TokenPrimary)
	})
}

// prepareTransfer records the amount and the destination baseline of a
// built transfer and persists them before submission.
func (o *Orchestrator) prepareTransfer(ctx context.Context, w *wallet, st *domain.StageState, res *payload.Result, token domain.Token, to string) ([]domain.Call, error) {
	before, err := o.balances.BalanceOf(ctx, token, to)
	if err != nil {
		return nil, err
	}
	st.Amount = res.Amount
	st.BalanceBaseline = before
	if err := o.flush(ctx); err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"token":  token,
		"amount": config.FromWei(res.Amount).String(),
		"to":     to,
	}
	if res.Fee != nil {
		fields["fee"] = config.FromWei(res.Fee).String()
	}
	w.log.WithFields(fields).Info("sending")
	return res.Calls, nil
}

// estimator estimates fees for acct with endpoint failover.
func (o *Orchestrator) estimator(acct *starknet.Account) payload.FeeEstimator {
	return payload.FeeEstimatorFunc(func(ctx context.Context, calls []domain.Call) (*big.Int, error) {
		var fee *big.Int
		err := o.pool.Failover(ctx, func(ctx context.Context, p starknet.Provider) error {
			f, err := acct.EstimateFee(ctx, p, calls)
			if err != nil {
				return err
			}
			fee = f
			return nil
		})
		return fee, err
	})
}
