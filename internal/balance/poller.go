// Package balance reads ERC-20 balances and waits for settlement.
package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/retry"
	"stark-claimer/internal/starknet"
)

// ErrSettlementTimeout is returned when the balance never reached the baseline.
var ErrSettlementTimeout = errors.New("balance did not reach baseline")

// Reader reads token balances with endpoint failover.
type Reader struct {
	pool   *starknet.Pool
	tokens map[domain.Token]string
}

// NewReader creates a Reader. tokens maps token kinds to contract addresses.
func NewReader(pool *starknet.Pool, tokens map[domain.Token]string) *Reader {
	return &Reader{pool: pool, tokens: tokens}
}

// BalanceOf returns the balance of owner in token.
func (r *Reader) BalanceOf(ctx context.Context, token domain.Token, owner string) (*big.Int, error) {
	contract, ok := r.tokens[token]
	if !ok {
		return nil, fmt.Errorf("unknown token %s", token)
	}

	var out *big.Int
	err := r.pool.Failover(ctx, func(ctx context.Context, p starknet.Provider) error {
		res, err := p.Call(ctx, starknet.FunctionCall{
			ContractAddress:    contract,
			EntryPointSelector: starknet.Selector("balanceOf"),
			Calldata:           []string{owner},
		}, starknet.BlockLatest)
		if err != nil {
			return err
		}
		if len(res) != 2 {
			return fmt.Errorf("%w: balanceOf returned %d felts", starknet.ErrUnexpectedResponse, len(res))
		}
		v, err := starknet.JoinU256(res[0], res[1])
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("balance of %s in %s: %w", owner, token, err)
	}
	return out, nil
}

// BalanceSource is what the Poller reads from.
type BalanceSource interface {
	BalanceOf(ctx context.Context, token domain.Token, owner string) (*big.Int, error)
}

// Poller waits for a balance to reach a baseline.
type Poller struct {
	source   BalanceSource
	attempts int
	interval time.Duration
	log      logrus.FieldLogger
	onPoll   func(token domain.Token)
}

// NewPoller creates a Poller with the given settlement budget.
func NewPoller(source BalanceSource, cfg config.SettlementConfig, log logrus.FieldLogger) *Poller {
	return &Poller{source: source, attempts: cfg.Attempts, interval: cfg.Interval, log: log}
}

// OnPoll registers a callback invoked on every balance read.
func (p *Poller) OnPoll(fn func(token domain.Token)) {
	p.onPoll = fn
}

// WaitFor blocks until owner's balance in token is >= baseline. Transient
// read failures use up an attempt; any other read failure is returned
// immediately.
func (p *Poller) WaitFor(ctx context.Context, owner string, token domain.Token, baseline *big.Int) error {
	if baseline == nil {
		baseline = new(big.Int)
	}
	log := p.log.WithFields(logrus.Fields{"wallet": owner, "token": token})

	err := retry.Do(ctx, retry.Fixed(p.attempts, p.interval), func(ctx context.Context) error {
		if p.onPoll != nil {
			p.onPoll(token)
		}
		bal, err := p.source.BalanceOf(ctx, token, owner)
		if err != nil {
			if retry.IsTransient(err) {
				log.WithError(err).Warn("balance read failed, retrying")
				return err
			}
			return retry.Permanent(err)
		}
		if bal.Cmp(baseline) >= 0 {
			log.WithField("balance", config.FromWei(bal).String()).Info("balance settled")
			return nil
		}
		log.WithFields(logrus.Fields{
			"balance":  config.FromWei(bal).String(),
			"baseline": config.FromWei(baseline).String(),
		}).Info("waiting for balance update")
		return ErrSettlementTimeout
	})
	if err != nil {
		if errors.Is(err, ErrSettlementTimeout) {
			return fmt.Errorf("%w: %s %s after %d attempts", ErrSettlementTimeout, owner, token, p.attempts)
		}
		return err
	}
	return nil
}
