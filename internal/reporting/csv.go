package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RenderCSV renders wallet rows as a CSV string.
func RenderCSV(rows []WalletRow) string {
	var sb strings.Builder

	sb.WriteString("position,address,eligible,status,")
	sb.WriteString("claim_status,claim_amount,claim_tx,")
	sb.WriteString("swap_status,swap_venue,swap_amount,swap_tx,")
	sb.WriteString("eth_transfer_status,eth_transfer_amount,eth_transfer_tx,")
	sb.WriteString("strk_transfer_status,strk_transfer_amount,strk_transfer_tx\n")

	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%d,%s,%t,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
			r.Position,
			r.Address,
			r.Eligible,
			r.Status,
			r.Claim.Status, r.Claim.Amount, r.Claim.Link,
			r.Swap.Status, r.SwapVenue, r.Swap.Amount, r.Swap.Link,
			r.TransferPrimary.Status, r.TransferPrimary.Amount, r.TransferPrimary.Link,
			r.TransferSecondary.Status, r.TransferSecondary.Amount, r.TransferSecondary.Link,
		))
	}

	return sb.String()
}

// WriteCSV writes the rendered rows to path, creating parent directories.
func WriteCSV(path string, rows []WalletRow) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(RenderCSV(rows)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
