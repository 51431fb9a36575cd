package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stark-claimer/internal/domain"
)

// RenderMarkdown renders the report summary and the failed wallets.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Claim Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.RunID != "" {
		sb.WriteString(fmt.Sprintf("Run: %s\n\n", r.RunID))
	}

	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Wallets | %d |\n", s.Total))
	sb.WriteString(fmt.Sprintf("| Eligible | %d |\n", s.Eligible))
	sb.WriteString(fmt.Sprintf("| Done | %d |\n", s.Done))
	sb.WriteString(fmt.Sprintf("| Failed | %d |\n", s.Failed))
	sb.WriteString(fmt.Sprintf("| Pending | %d |\n", s.Pending))
	sb.WriteString(fmt.Sprintf("| Claimed STRK | %s |\n", s.Claimed))
	sb.WriteString(fmt.Sprintf("| Swapped STRK | %s |\n", s.Swapped))
	sb.WriteString(fmt.Sprintf("| Sent ETH | %s |\n", s.SentETH))
	sb.WriteString(fmt.Sprintf("| Sent STRK | %s |\n", s.SentSTRK))
	sb.WriteString("\n")

	if len(s.SwapVenues) > 0 {
		sb.WriteString("## Swap Venues\n\n")
		venues := make([]string, 0, len(s.SwapVenues))
		for v := range s.SwapVenues {
			venues = append(venues, string(v))
		}
		sort.Strings(venues)
		for _, v := range venues {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", v, s.SwapVenues[domain.VenueName(v)]))
		}
		sb.WriteString("\n")
	}

	var failed []WalletRow
	for _, row := range r.Rows {
		if row.Status == domain.StatusError {
			failed = append(failed, row)
		}
	}
	sb.WriteString("## Failed Wallets\n\n")
	if len(failed) == 0 {
		sb.WriteString("None.\n")
		return sb.String()
	}
	sb.WriteString("| # | Address | Claim | Swap | ETH | STRK |\n")
	sb.WriteString("|---|---------|-------|------|-----|------|\n")
	for _, row := range failed {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %s |\n",
			row.Position, row.Address, row.Claim.Status, row.Swap.Status,
			row.TransferPrimary.Status, row.TransferSecondary.Status))
	}
	return sb.String()
}
