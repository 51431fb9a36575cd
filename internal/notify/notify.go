// Package notify sends the per-wallet summary to Telegram chats and a NATS
// subject. Delivery failures never fail a wallet.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math/big"
	"strings"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
)

const (
	markSuccess = "✅"
	markError   = "🔴"
)

// Notifier delivers a wallet summary.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// StageSummary is the reported outcome of one stage.
type StageSummary struct {
	Status domain.Status `json:"status"`
	Amount string        `json:"amount,omitempty"`
	TxHash string        `json:"txHash,omitempty"`
}

// Summary is the message sent after a wallet finishes.
type Summary struct {
	RunID    string        `json:"runId,omitempty"`
	Position int           `json:"position"`
	Total    int           `json:"total"`
	Address  string        `json:"address"`
	Eligible bool          `json:"eligible"`
	Status   domain.Status `json:"status"`

	Claim             StageSummary     `json:"claim"`
	Swap              StageSummary     `json:"swap"`
	Venue             domain.VenueName `json:"venue,omitempty"`
	TransferPrimary   StageSummary     `json:"transferPrimary"`
	TransferSecondary StageSummary     `json:"transferSecondary"`

	PrimaryDestination   string `json:"primaryDestination,omitempty"`
	SecondaryDestination string `json:"secondaryDestination,omitempty"`
}

// NewSummary builds the summary of r; position is 1-based.
func NewSummary(r *domain.WalletRecord, position, total int) Summary {
	return Summary{
		Position:             position,
		Total:                total,
		Address:              r.Address,
		Eligible:             r.Eligible,
		Status:               r.Status,
		Claim:                stage(r.Claim),
		Swap:                 stage(r.SwapOnDex.StageState),
		Venue:                r.SwapOnDex.Venue,
		TransferPrimary:      stage(r.TransferPrimary),
		TransferSecondary:    stage(r.TransferSecondary),
		PrimaryDestination:   r.PrimaryDestination,
		SecondaryDestination: r.SecondaryDestination,
	}
}

func stage(s domain.StageState) StageSummary {
	return StageSummary{Status: s.Status, Amount: units(s.Amount), TxHash: s.TxHash}
}

func units(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return config.FromWei(v).StringFixed(4)
}

// Text renders the summary as Telegram HTML, one line per finished or
// failed stage.
func (s Summary) Text() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%d/%d] %s\n", s.Position, s.Total, html.EscapeString(s.Address)))

	switch {
	case !s.Eligible:
		sb.WriteString(markError + " Not Eligible\n")
	case s.Claim.Status == domain.StatusDone || s.Claim.Status == domain.StatusError:
		sb.WriteString(fmt.Sprintf("%s Claim | %s STRK%s\n", mark(s.Claim.Status), s.Claim.Amount, link(s.Claim.TxHash)))
	}

	if s.Swap.Status == domain.StatusDone || s.Swap.Status == domain.StatusError {
		sb.WriteString(fmt.Sprintf("%s Swap %s STRK via %s%s\n", mark(s.Swap.Status), s.Swap.Amount, s.Venue, link(s.Swap.TxHash)))
	}
	writeTransfer(&sb, s.TransferPrimary, domain.TokenPrimary, s.PrimaryDestination)
	writeTransfer(&sb, s.TransferSecondary, domain.TokenSecondary, s.SecondaryDestination)

	return sb.String()
}

func writeTransfer(sb *strings.Builder, st StageSummary, token domain.Token, to string) {
	if st.Status != domain.StatusDone && st.Status != domain.StatusError {
		return
	}
	sb.WriteString(fmt.Sprintf("%s %s %s to %s%s\n", mark(st.Status), st.Amount, token, html.EscapeString(to), link(st.TxHash)))
}

func mark(s domain.Status) string {
	if s == domain.StatusDone {
		return markSuccess
	}
	return markError
}

func link(hash string) string {
	if hash == "" {
		return ""
	}
	return fmt.Sprintf(` | <a href="%s%s">link</a>`, domain.ExplorerTxURL, html.EscapeString(hash))
}

// Multi fans a summary out to several notifiers.
type Multi []Notifier

// Notify calls every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, s Summary) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
