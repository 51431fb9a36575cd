package venue

import (
	"context"
	"fmt"
	"math/big"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/payload"
	"stark-claimer/internal/starknet"
)

// mySwapFeeTier is the pool fee the STRK/ETH pool is keyed on.
const mySwapFeeTier = 500

// MySwap prices the swap from on-chain pool state instead of an HTTP API:
// output = amount * sqrtPrice^2 / 2^192.
type MySwap struct {
	pool     *starknet.Pool
	contract string
}

// NewMySwap creates the on-chain MySwap venue.
func NewMySwap(pool *starknet.Pool) *MySwap {
	return &MySwap{pool: pool, contract: domain.MySwapAddress}
}

// Name implements Venue.
func (m *MySwap) Name() domain.VenueName { return domain.VenueMySwap }

// Quote implements Venue.
func (m *MySwap) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	var poolKey string
	var sqrtPrice *big.Int

	err := m.pool.Failover(ctx, func(ctx context.Context, p starknet.Provider) error {
		key, err := p.Call(ctx, starknet.FunctionCall{
			ContractAddress:    m.contract,
			EntryPointSelector: starknet.Selector("pool_key"),
			Calldata:           []string{req.SellToken, req.BuyToken, starknet.FeltUint(mySwapFeeTier)},
		}, starknet.BlockLatest)
		if err != nil {
			return fmt.Errorf("pool_key: %w", err)
		}
		if len(key) != 1 {
			return fmt.Errorf("pool_key: %w: %d felts", starknet.ErrUnexpectedResponse, len(key))
		}

		price, err := p.Call(ctx, starknet.FunctionCall{
			ContractAddress:    m.contract,
			EntryPointSelector: starknet.Selector("current_sqrt_price"),
			Calldata:           []string{key[0]},
		}, starknet.BlockLatest)
		if err != nil {
			return fmt.Errorf("current_sqrt_price: %w", err)
		}
		if len(price) != 2 {
			return fmt.Errorf("current_sqrt_price: %w: %d felts", starknet.ErrUnexpectedResponse, len(price))
		}
		v, err := starknet.JoinU256(price[0], price[1])
		if err != nil {
			return err
		}
		poolKey, sqrtPrice = key[0], v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("myswap quote: %w", err)
	}

	return &mySwapQuote{
		contract:  m.contract,
		req:       req,
		poolKey:   poolKey,
		sqrtPrice: sqrtPrice,
		output:    SqrtPriceOutput(req.Amount, sqrtPrice),
	}, nil
}

// SqrtPriceOutput converts amount at a Q96 square-root price.
func SqrtPriceOutput(amount, sqrtPrice *big.Int) *big.Int {
	out := new(big.Int).Mul(sqrtPrice, sqrtPrice)
	out.Mul(out, amount)
	return out.Rsh(out, 192)
}

type mySwapQuote struct {
	contract  string
	req       QuoteRequest
	poolKey   string
	sqrtPrice *big.Int
	output    *big.Int
}

func (q *mySwapQuote) Output() *big.Int { return q.output }

func (q *mySwapQuote) BuildPayload(context.Context) ([]domain.Call, error) {
	amtLow, amtHigh := starknet.SplitU256(q.req.Amount)
	limLow, limHigh := starknet.SplitU256(q.sqrtPrice)
	return []domain.Call{
		payload.Approve(q.req.SellToken, q.contract, q.req.Amount),
		{
			ContractAddress: q.contract,
			Entrypoint:      "swap",
			// pool_key, zero_for_one, amount, exact_input, sqrt_price_limit_x96
			Calldata: []string{q.poolKey, "0x0", amtLow, amtHigh, "0x1", limLow, limHigh},
		},
	}, nil
}
