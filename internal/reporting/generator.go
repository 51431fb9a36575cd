package reporting

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/storage"
)

// Generator produces reports from the wallet store.
type Generator struct {
	store storage.WalletStore
	now   func() time.Time
}

// NewGenerator creates a new report generator.
func NewGenerator(store storage.WalletStore) *Generator {
	return &Generator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate loads every record and builds the report.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	records, err := g.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load wallet records: %w", err)
	}
	list := make([]*domain.WalletRecord, 0, len(records))
	for _, r := range records {
		list = append(list, r)
	}
	return Build(runID, g.now(), list), nil
}

// Build renders records into a report.
func Build(runID string, at time.Time, records []*domain.WalletRecord) *Report {
	sorted := append([]*domain.WalletRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].Address < sorted[j].Address
	})

	claimed, swapped := new(big.Int), new(big.Int)
	sentETH, sentSTRK := new(big.Int), new(big.Int)
	summary := Summary{Total: len(sorted), SwapVenues: make(map[domain.VenueName]int)}

	rows := make([]WalletRow, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, walletRow(r))

		if r.Eligible {
			summary.Eligible++
		}
		switch r.Status {
		case domain.StatusDone:
			summary.Done++
		case domain.StatusError:
			summary.Failed++
		default:
			summary.Pending++
		}
		addDone(claimed, r.Claim)
		addDone(swapped, r.SwapOnDex.StageState)
		addDone(sentETH, r.TransferPrimary)
		addDone(sentSTRK, r.TransferSecondary)
		if r.SwapOnDex.Status == domain.StatusDone && r.SwapOnDex.Venue != "" {
			summary.SwapVenues[r.SwapOnDex.Venue]++
		}
	}
	summary.Claimed = units(claimed)
	summary.Swapped = units(swapped)
	summary.SentETH = units(sentETH)
	summary.SentSTRK = units(sentSTRK)

	return &Report{RunID: runID, GeneratedAt: at, Summary: summary, Rows: rows}
}

func walletRow(r *domain.WalletRecord) WalletRow {
	return WalletRow{
		Address:           r.Address,
		Position:          r.Position,
		Eligible:          r.Eligible,
		Status:            r.Status,
		Claim:             stageRow(r.Claim),
		Swap:              stageRow(r.SwapOnDex.StageState),
		SwapVenue:         r.SwapOnDex.Venue,
		TransferPrimary:   stageRow(r.TransferPrimary),
		TransferSecondary: stageRow(r.TransferSecondary),
	}
}

func stageRow(s domain.StageState) StageRow {
	row := StageRow{Status: s.Status, TxHash: s.TxHash}
	if s.Amount != nil {
		row.Amount = units(s.Amount)
	}
	if s.TxHash != "" {
		row.Link = domain.ExplorerTxURL + s.TxHash
	}
	return row
}

func addDone(sum *big.Int, s domain.StageState) {
	if s.Status == domain.StatusDone && s.Amount != nil {
		sum.Add(sum, s.Amount)
	}
}

func units(v *big.Int) string {
	return config.FromWei(v).String()
}
