package venue

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/starknet"
)

// AVNU quotes through the AVNU aggregator. Building the payload is a second
// request keyed by the quote id.
type AVNU struct {
	baseURL  string
	slippage float64
	client   *jsonClient
}

// NewAVNU creates the AVNU venue.
func NewAVNU(baseURL string, slippage float64, client *jsonClient) *AVNU {
	return &AVNU{baseURL: strings.TrimRight(baseURL, "/"), slippage: slippage, client: client}
}

// Name implements Venue.
func (a *AVNU) Name() domain.VenueName { return domain.VenueAVNU }

type avnuQuote struct {
	QuoteID   string `json:"quoteId"`
	BuyAmount string `json:"buyAmount"`
}

type avnuBuildResponse struct {
	Calls []domain.Call `json:"calls"`
}

// Quote implements Venue.
func (a *AVNU) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	q := url.Values{}
	q.Set("sellTokenAddress", req.SellToken)
	q.Set("buyTokenAddress", req.BuyToken)
	q.Set("sellAmount", starknet.FeltHex(req.Amount))
	q.Set("takerAddress", req.Taker)
	q.Set("size", "3")

	var quotes []avnuQuote
	if err := a.client.get(ctx, a.baseURL+"/swap/v1/quotes", q, &quotes); err != nil {
		return nil, fmt.Errorf("avnu quote: %w", err)
	}
	if len(quotes) == 0 || quotes[0].QuoteID == "" {
		return nil, fmt.Errorf("avnu quote: %w", ErrNoQuote)
	}
	out, err := starknet.ParseFelt(quotes[0].BuyAmount)
	if err != nil {
		return nil, fmt.Errorf("avnu quote: buyAmount: %w", err)
	}
	return &avnuRoute{venue: a, quoteID: quotes[0].QuoteID, taker: req.Taker, output: out}, nil
}

type avnuRoute struct {
	venue   *AVNU
	quoteID string
	taker   string
	output  *big.Int
}

func (r *avnuRoute) Output() *big.Int { return r.output }

func (r *avnuRoute) BuildPayload(ctx context.Context) ([]domain.Call, error) {
	body := map[string]any{
		"quoteId":      r.quoteID,
		"takerAddress": r.taker,
		"slippage":     r.venue.slippage,
	}
	var resp avnuBuildResponse
	if err := r.venue.client.post(ctx, r.venue.baseURL+"/swap/v1/build", body, &resp); err != nil {
		return nil, fmt.Errorf("avnu build: %w", err)
	}
	if len(resp.Calls) == 0 {
		return nil, fmt.Errorf("avnu build: %w", starknet.ErrUnexpectedResponse)
	}
	return resp.Calls, nil
}
