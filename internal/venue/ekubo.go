package venue

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/payload"
	"stark-claimer/internal/starknet"
)

// Ekubo quotes through the Ekubo API and swaps through its router with the
// transfer / swap / clear_minimum / clear sequence.
type Ekubo struct {
	baseURL  string
	router   string
	slippage float64
	client   *jsonClient
}

// NewEkubo creates the Ekubo venue.
func NewEkubo(baseURL string, slippage float64, client *jsonClient) *Ekubo {
	return &Ekubo{
		baseURL:  strings.TrimRight(baseURL, "/"),
		router:   domain.EkuboRouterAddress,
		slippage: slippage,
		client:   client,
	}
}

// Name implements Venue.
func (e *Ekubo) Name() domain.VenueName { return domain.VenueEkubo }

type ekuboPoolKey struct {
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Fee         string `json:"fee"`
	TickSpacing any    `json:"tick_spacing"`
	Extension   string `json:"extension"`
}

type ekuboHop struct {
	PoolKey        ekuboPoolKey `json:"pool_key"`
	SqrtRatioLimit string       `json:"sqrt_ratio_limit"`
	Skipahead      any          `json:"skip_ahead"`
}

type ekuboQuoteResponse struct {
	Total string     `json:"total"`
	Route []ekuboHop `json:"route"`
}

// Quote implements Venue. Only single-hop routes can be executed.
func (e *Ekubo) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	path := fmt.Sprintf("%s/quote/%s/%s/%s", e.baseURL, req.Amount.String(), req.SellToken, req.BuyToken)

	var resp ekuboQuoteResponse
	if err := e.client.get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("ekubo quote: %w", err)
	}
	if len(resp.Route) != 1 {
		return nil, fmt.Errorf("ekubo quote: %w: %d hops", ErrNoQuote, len(resp.Route))
	}
	total, err := starknet.ParseFelt(strings.TrimPrefix(resp.Total, "-"))
	if err != nil {
		return nil, fmt.Errorf("ekubo quote: total: %w", err)
	}
	return &ekuboQuote{venue: e, req: req, hop: resp.Route[0], output: total}, nil
}

type ekuboQuote struct {
	venue  *Ekubo
	req    QuoteRequest
	hop    ekuboHop
	output *big.Int
}

func (q *ekuboQuote) Output() *big.Int { return q.output }

func (q *ekuboQuote) BuildPayload(context.Context) ([]domain.Call, error) {
	key := q.hop.PoolKey
	if key.Token0 == "" || key.Token1 == "" || q.hop.SqrtRatioLimit == "" {
		return nil, fmt.Errorf("ekubo payload: %w: incomplete route", starknet.ErrUnexpectedResponse)
	}
	limit, err := starknet.ParseFelt(q.hop.SqrtRatioLimit)
	if err != nil {
		return nil, fmt.Errorf("ekubo payload: sqrt_ratio_limit: %w", err)
	}
	limLow, limHigh := starknet.SplitU256(limit)
	minLow, minHigh := starknet.SplitU256(applySlippage(q.output, q.venue.slippage))
	router := q.venue.router

	swap := []string{
		key.Token0, key.Token1, key.Fee, feltString(key.TickSpacing), key.Extension,
		limLow, limHigh, feltString(q.hop.Skipahead),
		q.req.SellToken, starknet.FeltHex(q.req.Amount), "0x0",
	}
	return []domain.Call{
		payload.Transfer(q.req.SellToken, router, q.req.Amount),
		{ContractAddress: router, Entrypoint: "swap", Calldata: swap},
		{ContractAddress: router, Entrypoint: "clear_minimum", Calldata: []string{q.req.BuyToken, minLow, minHigh}},
		{ContractAddress: router, Entrypoint: "clear", Calldata: []string{q.req.SellToken}},
	}, nil
}

// feltString renders a JSON number or string as a felt.
func feltString(v any) string {
	switch t := v.(type) {
	case nil:
		return "0x0"
	case string:
		if t == "" {
			return "0x0"
		}
		return t
	case float64:
		return starknet.FeltUint(uint64(t))
	default:
		return fmt.Sprint(t)
	}
}
