// Package gasoracle gates submissions on L1 congestion.
package gasoracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"stark-claimer/internal/retry"
)

// ErrCeilingTimeout is returned when gas never dropped under the ceiling.
var ErrCeilingTimeout = errors.New("gas price stayed above ceiling")

// Oracle reports the current L1 base fee in wei.
type Oracle interface {
	BaseFee(ctx context.Context) (*big.Int, error)
}

// EthOracle reads the base fee from the latest L1 header.
type EthOracle struct {
	client *ethclient.Client
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*EthOracle, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial l1 rpc: %w", err)
	}
	return &EthOracle{client: client}, nil
}

// BaseFee returns the base fee of the latest block.
func (o *EthOracle) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest l1 header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, errors.New("l1 header has no base fee")
	}
	return header.BaseFee, nil
}

// Close releases the connection.
func (o *EthOracle) Close() {
	o.client.Close()
}

// Waiter blocks until the base fee drops under a ceiling.
type Waiter struct {
	oracle   Oracle
	ceiling  decimal.Decimal
	interval time.Duration
	maxPolls int
	log      logrus.FieldLogger
}

// NewWaiter creates a Waiter. ceilingGwei <= 0 disables the check.
func NewWaiter(oracle Oracle, ceilingGwei float64, interval time.Duration, maxPolls int, log logrus.FieldLogger) *Waiter {
	return &Waiter{
		oracle:   oracle,
		ceiling:  decimal.NewFromFloat(ceilingGwei),
		interval: interval,
		maxPolls: maxPolls,
		log:      log,
	}
}

// Wait returns once the base fee is at or below the ceiling.
func (w *Waiter) Wait(ctx context.Context) error {
	if w == nil || w.oracle == nil || !w.ceiling.IsPositive() {
		return nil
	}

	polls := max(w.maxPolls, 1)
	poll := 0
	policy := retry.Fixed(polls, w.interval)
	policy.ShouldRetry = func(err error) bool {
		return errors.Is(err, ErrCeilingTimeout) || retry.IsTransient(err)
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		poll++
		fee, err := w.oracle.BaseFee(ctx)
		if err != nil {
			return err
		}
		gwei := decimal.NewFromBigInt(fee, -9)
		if gwei.LessThanOrEqual(w.ceiling) {
			return nil
		}
		w.log.WithFields(logrus.Fields{
			"gas_gwei": gwei.StringFixed(2),
			"max_gwei": w.ceiling.String(),
			"poll":     poll,
		}).Info("L1 gas above ceiling, waiting")
		return ErrCeilingTimeout
	})
	if errors.Is(err, ErrCeilingTimeout) {
		return fmt.Errorf("%w after %d polls", ErrCeilingTimeout, polls)
	}
	return err
}
