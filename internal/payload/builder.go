// Package payload builds ready-to-submit call data for every pipeline
// operation.
package payload

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/starknet"
)

// Kind is the operation a payload performs.
type Kind string

const (
	KindTransferPrimary   Kind = "transfer-primary"
	KindTransferSecondary Kind = "transfer-secondary"
	KindClaim             Kind = "claim"
	KindSwap              Kind = "swap"
)

var (
	// ErrInsufficientBalance means the balance does not cover fee and reserve.
	ErrInsufficientBalance = errors.New("balance does not cover fee and reserve")
	// ErrInvalidRequest means a required request field is missing.
	ErrInvalidRequest = errors.New("invalid payload request")
)

// FeeEstimator returns the max fee a payload would cost.
type FeeEstimator interface {
	EstimateFee(ctx context.Context, calls []domain.Call) (*big.Int, error)
}

// FeeEstimatorFunc adapts a function to FeeEstimator.
type FeeEstimatorFunc func(ctx context.Context, calls []domain.Call) (*big.Int, error)

// EstimateFee calls f.
func (f FeeEstimatorFunc) EstimateFee(ctx context.Context, calls []domain.Call) (*big.Int, error) {
	return f(ctx, calls)
}

// Request describes one payload.
type Request struct {
	Kind Kind
	// To is the transfer destination.
	To string
	// Amount is the full available balance for transfers.
	Amount *big.Int
	// Proof is required for claims.
	Proof *domain.Eligibility
	// Calls carries venue-built swap calls.
	Calls []domain.Call
	// Estimator is required for primary transfers.
	Estimator FeeEstimator
}

// Result is a built payload and the amount it moves.
type Result struct {
	Calls   []domain.Call
	Amount  *big.Int
	Fee     *big.Int
	Reserve *big.Int
}

// Options configures a Builder.
type Options struct {
	PrimaryToken   string
	SecondaryToken string
	ClaimContract  string
	KeepMin        decimal.Decimal
	KeepMax        decimal.Decimal
	// Reserve overrides the random keep-balance sampler.
	Reserve func() *big.Int
	Seed    int64
}

// Builder constructs payloads. It never retries internally.
type Builder struct {
	primary   string
	secondary string
	claim     string
	keepMin   decimal.Decimal
	keepMax   decimal.Decimal
	reserve   func() *big.Int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		primary:   opts.PrimaryToken,
		secondary: opts.SecondaryToken,
		claim:     opts.ClaimContract,
		keepMin:   opts.KeepMin,
		keepMax:   opts.KeepMax,
		reserve:   opts.Reserve,
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}
	if b.primary == "" {
		b.primary = domain.ETHAddress
	}
	if b.secondary == "" {
		b.secondary = domain.STRKAddress
	}
	if b.claim == "" {
		b.claim = domain.ClaimAddress
	}
	if b.reserve == nil {
		b.reserve = b.sampleReserve
	}
	return b
}

// TokenAddress returns the contract address of token.
func (b *Builder) TokenAddress(token domain.Token) string {
	if token == domain.TokenSecondary {
		return b.secondary
	}
	return b.primary
}

// Build dispatches on req.Kind.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	switch req.Kind {
	case KindTransferPrimary:
		return b.feeAwareTransfer(ctx, req)
	case KindTransferSecondary:
		if req.To == "" || req.Amount == nil || req.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: secondary transfer needs destination and amount", ErrInvalidRequest)
		}
		return &Result{
			Calls:  []domain.Call{Transfer(b.secondary, req.To, req.Amount)},
			Amount: new(big.Int).Set(req.Amount),
		}, nil
	case KindClaim:
		return b.buildClaim(req)
	case KindSwap:
		if len(req.Calls) == 0 {
			return nil, fmt.Errorf("%w: swap without calls", ErrInvalidRequest)
		}
		return &Result{Calls: req.Calls, Amount: req.Amount}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
}

// feeAwareTransfer builds a draft with the full balance, estimates its fee and
// rebuilds with balance - fee - reserve.
func (b *Builder) feeAwareTransfer(ctx context.Context, req Request) (*Result, error) {
	if req.To == "" || req.Amount == nil || req.Estimator == nil {
		return nil, fmt.Errorf("%w: primary transfer needs destination, balance and estimator", ErrInvalidRequest)
	}

	draft := []domain.Call{Transfer(b.primary, req.To, req.Amount)}
	fee, err := req.Estimator.EstimateFee(ctx, draft)
	if err != nil {
		return nil, err
	}

	reserve := b.reserve()
	amount := new(big.Int).Sub(req.Amount, fee)
	amount.Sub(amount, reserve)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: balance %s, fee %s, reserve %s",
			ErrInsufficientBalance, req.Amount, fee, reserve)
	}

	return &Result{
		Calls:   []domain.Call{Transfer(b.primary, req.To, amount)},
		Amount:  amount,
		Fee:     fee,
		Reserve: reserve,
	}, nil
}

func (b *Builder) buildClaim(req Request) (*Result, error) {
	p := req.Proof
	if p == nil || p.Amount == nil || p.Identity == "" {
		return nil, fmt.Errorf("%w: claim needs an eligibility proof", ErrInvalidRequest)
	}

	low, high := starknet.SplitU256(p.Amount)
	calldata := []string{p.Identity, low, high, starknet.FeltUint(p.Index), starknet.FeltUint(uint64(len(p.MerklePath)))}
	calldata = append(calldata, p.MerklePath...)

	return &Result{
		Calls:  []domain.Call{{ContractAddress: b.claim, Entrypoint: "claim", Calldata: calldata}},
		Amount: new(big.Int).Set(p.Amount),
	}, nil
}

// sampleReserve draws a keep-balance in [KeepMin, KeepMax] rounded to two
// decimals and returns it in wei.
func (b *Builder) sampleReserve() *big.Int {
	b.mu.Lock()
	r := b.rng.Float64()
	b.mu.Unlock()

	span := b.keepMax.Sub(b.keepMin)
	v := b.keepMin.Add(span.Mul(decimal.NewFromFloat(r))).Round(2)
	if v.GreaterThan(b.keepMax) {
		v = b.keepMax
	}
	if v.LessThan(b.keepMin) {
		v = b.keepMin
	}
	return v.Shift(domain.Decimals).Truncate(0).BigInt()
}

// Transfer builds an ERC-20 transfer call.
func Transfer(token, to string, amount *big.Int) domain.Call {
	low, high := starknet.SplitU256(amount)
	return domain.Call{ContractAddress: token, Entrypoint: "transfer", Calldata: []string{to, low, high}}
}

// Approve builds an ERC-20 approve call.
func Approve(token, spender string, amount *big.Int) domain.Call {
	low, high := starknet.SplitU256(amount)
	return domain.Call{ContractAddress: token, Entrypoint: "approve", Calldata: []string{spender, low, high}}
}
