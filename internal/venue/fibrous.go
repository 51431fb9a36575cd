package venue

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/payload"
	"stark-claimer/internal/starknet"
)

// Fibrous quotes through the Fibrous router API.
type Fibrous struct {
	baseURL  string
	slippage float64
	client   *jsonClient
}

// NewFibrous creates the Fibrous venue.
func NewFibrous(baseURL string, slippage float64, client *jsonClient) *Fibrous {
	return &Fibrous{baseURL: strings.TrimRight(baseURL, "/"), slippage: slippage, client: client}
}

// Name implements Venue.
func (f *Fibrous) Name() domain.VenueName { return domain.VenueFibrous }

type fibrousRoute struct {
	Success      bool   `json:"success"`
	OutputAmount string `json:"outputAmount"`
}

type fibrousCalldata struct {
	RouterAddress string   `json:"router_address"`
	Calldata      []string `json:"calldata"`
}

// Quote implements Venue.
func (f *Fibrous) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	var route fibrousRoute
	if err := f.client.get(ctx, f.baseURL+"/starknet/route", f.query(req), &route); err != nil {
		return nil, fmt.Errorf("fibrous route: %w", err)
	}
	if !route.Success {
		return nil, fmt.Errorf("fibrous route: %w", ErrNoQuote)
	}
	out, err := starknet.ParseFelt(route.OutputAmount)
	if err != nil {
		return nil, fmt.Errorf("fibrous route: outputAmount: %w", err)
	}
	return &fibrousQuote{venue: f, req: req, output: out}, nil
}

func (f *Fibrous) query(req QuoteRequest) url.Values {
	q := url.Values{}
	q.Set("amount", req.Amount.String())
	q.Set("tokenInAddress", req.SellToken)
	q.Set("tokenOutAddress", req.BuyToken)
	return q
}

type fibrousQuote struct {
	venue  *Fibrous
	req    QuoteRequest
	output *big.Int
}

func (q *fibrousQuote) Output() *big.Int { return q.output }

// BuildPayload approves the router for the full sell amount and appends the
// router's swap call.
func (q *fibrousQuote) BuildPayload(ctx context.Context) ([]domain.Call, error) {
	params := q.venue.query(q.req)
	params.Set("slippage", strconv.FormatFloat(q.venue.slippage, 'f', -1, 64))
	params.Set("destination", q.req.Taker)

	var resp fibrousCalldata
	if err := q.venue.client.get(ctx, q.venue.baseURL+"/starknet/calldata", params, &resp); err != nil {
		return nil, fmt.Errorf("fibrous calldata: %w", err)
	}
	if len(resp.Calldata) == 0 {
		return nil, fmt.Errorf("fibrous calldata: %w", starknet.ErrUnexpectedResponse)
	}
	router := resp.RouterAddress
	if router == "" {
		router = domain.FibrousRouter
	}
	return []domain.Call{
		payload.Approve(q.req.SellToken, router, q.req.Amount),
		{ContractAddress: router, Entrypoint: "swap", Calldata: resp.Calldata},
	}, nil
}
