// Package venue quotes STRK→ETH swaps across several routing sources and
// picks the first acceptable one in priority order.
package venue

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/observability"
	"stark-claimer/internal/starknet"
)

var (
	// ErrNoRoute means no venue quoted an output at or above the minimum.
	ErrNoRoute = errors.New("no venue cleared the minimum output")
	// ErrNoQuote means a venue answered without a usable quote.
	ErrNoQuote = errors.New("venue returned no quote")
)

// QuoteRequest is a request to sell Amount of SellToken for BuyToken.
type QuoteRequest struct {
	SellToken string
	BuyToken  string
	Amount    *big.Int
	Taker     string
}

// Quote is a candidate route. BuildPayload may hit the network again.
type Quote interface {
	Output() *big.Int
	BuildPayload(ctx context.Context) ([]domain.Call, error)
}

// Venue is one swap source.
type Venue interface {
	Name() domain.VenueName
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// Selection is the venue picked by the waterfall.
type Selection struct {
	Venue  domain.VenueName
	Output *big.Int
	Quote  Quote
}

// Selector walks venues in order and selects the first whose quoted output
// is at least minOut. Venues that fail to quote are skipped.
type Selector struct {
	venues  []Venue
	minOut  *big.Int
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

// NewSelector creates a Selector.
func NewSelector(venues []Venue, minOut *big.Int, log logrus.FieldLogger, metrics *observability.Metrics) *Selector {
	if minOut == nil {
		minOut = new(big.Int)
	}
	return &Selector{venues: venues, minOut: minOut, log: log, metrics: metrics}
}

// Select returns the first qualifying venue or ErrNoRoute.
func (s *Selector) Select(ctx context.Context, req QuoteRequest) (*Selection, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("select venue: non-positive amount")
	}

	for _, v := range s.venues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := v.Name()
		log := s.log.WithFields(logrus.Fields{"venue": name, "wallet": req.Taker})

		q, err := v.Quote(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.metrics.RecordVenueQuote(string(name), "error")
			log.WithError(err).Warn("venue quote failed, trying next")
			continue
		}

		out := q.Output()
		if out == nil || out.Cmp(s.minOut) < 0 {
			s.metrics.RecordVenueQuote(string(name), "below_minimum")
			log.WithFields(logrus.Fields{
				"output":  formatUnits(out),
				"minimum": formatUnits(s.minOut),
			}).Info("venue output below minimum")
			continue
		}

		s.metrics.RecordVenueQuote(string(name), "selected")
		s.metrics.RecordVenueSelection(string(name))
		log.WithField("output", formatUnits(out)).Info("venue selected")
		return &Selection{Venue: name, Output: new(big.Int).Set(out), Quote: q}, nil
	}
	return nil, ErrNoRoute
}

// NewVenues constructs the configured venues in priority order.
func NewVenues(cfg config.AutoSellConfig, pool *starknet.Pool) ([]Venue, error) {
	limiter := NewLimiter(cfg.RequestsPerSecond, 1)
	client := newJSONClient(cfg.Timeout, limiter)

	out := make([]Venue, 0, len(cfg.Venues))
	for _, name := range cfg.Venues {
		switch domain.VenueName(name) {
		case domain.VenueAVNU:
			out = append(out, NewAVNU(cfg.AVNUURL, cfg.Slippage, client))
		case domain.VenueFibrous:
			out = append(out, NewFibrous(cfg.FibrousURL, cfg.Slippage, client))
		case domain.VenueMySwap:
			out = append(out, NewMySwap(pool))
		case domain.VenueEkubo:
			out = append(out, NewEkubo(cfg.EkuboURL, cfg.Slippage, client))
		default:
			return nil, fmt.Errorf("unknown venue %q", name)
		}
	}
	return out, nil
}

// applySlippage returns v reduced by slippage (0.01 = 1%).
func applySlippage(v *big.Int, slippage float64) *big.Int {
	bps := int64(slippage * 10_000)
	if bps <= 0 {
		return new(big.Int).Set(v)
	}
	if bps > 10_000 {
		bps = 10_000
	}
	out := new(big.Int).Mul(v, big.NewInt(10_000-bps))
	return out.Quo(out, big.NewInt(10_000))
}

func formatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return config.FromWei(v).StringFixed(5)
}
