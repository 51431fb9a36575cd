package reporting

import (
	"time"

	"stark-claimer/internal/domain"
)

// Report is the exported view of the wallet table.
type Report struct {
	RunID       string
	GeneratedAt time.Time
	Summary     Summary
	// Rows are sorted by processing position.
	Rows []WalletRow
}

// Summary counts wallets by outcome. Token totals are whole-unit strings.
type Summary struct {
	Total      int
	Eligible   int
	Done       int
	Failed     int
	Pending    int
	Claimed    string
	Swapped    string
	SentETH    string
	SentSTRK   string
	SwapVenues map[domain.VenueName]int
}

// WalletRow is one wallet in the report. Amounts are whole-unit strings and
// links point at the block explorer.
type WalletRow struct {
	Address  string
	Position int
	Eligible bool
	Status   domain.Status

	Claim             StageRow
	Swap              StageRow
	SwapVenue         domain.VenueName
	TransferPrimary   StageRow
	TransferSecondary StageRow
}

// StageRow is the reported state of one stage.
type StageRow struct {
	Status domain.Status
	Amount string
	TxHash string
	Link   string
}
