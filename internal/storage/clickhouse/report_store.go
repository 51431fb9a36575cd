package clickhouse

import (
	"context"
	"fmt"

	"stark-claimer/internal/reporting"
)

// ReportStore appends exported reports to wallet_reports.
type ReportStore struct {
	conn *Conn
}

// NewReportStore creates a new ReportStore.
func NewReportStore(conn *Conn) *ReportStore {
	return &ReportStore{conn: conn}
}

// InsertReport writes one row per wallet tagged with the report's run id.
func (s *ReportStore) InsertReport(ctx context.Context, r *reporting.Report) error {
	if r == nil || r.RunID == "" {
		return fmt.Errorf("insert report: missing run id")
	}
	if len(r.Rows) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO wallet_reports (
			run_id, exported_at, address, eligible, status,
			claim_status, claim_amount, claim_tx,
			swap_status, swap_venue, swap_amount, swap_tx,
			transfer_primary_status, transfer_primary_amount, transfer_primary_tx,
			transfer_secondary_status, transfer_secondary_amount, transfer_secondary_tx
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, row := range r.Rows {
		var eligible uint8
		if row.Eligible {
			eligible = 1
		}
		err = batch.Append(
			r.RunID, r.GeneratedAt, row.Address, eligible, string(row.Status),
			string(row.Claim.Status), row.Claim.Amount, row.Claim.TxHash,
			string(row.Swap.Status), string(row.SwapVenue), row.Swap.Amount, row.Swap.TxHash,
			string(row.TransferPrimary.Status), row.TransferPrimary.Amount, row.TransferPrimary.TxHash,
			string(row.TransferSecondary.Status), row.TransferSecondary.Amount, row.TransferSecondary.TxHash,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// StatusCounts returns wallet counts per status for one run.
func (s *ReportStore) StatusCounts(ctx context.Context, runID string) (map[string]uint64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT status, count() FROM wallet_reports
		WHERE run_id = ?
		GROUP BY status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var (
			status string
			n      uint64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
