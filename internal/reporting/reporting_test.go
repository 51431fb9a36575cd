package reporting

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/storage/memory"
)

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testRecords() []*domain.WalletRecord {
	done := &domain.WalletRecord{
		Address:  domain.NormalizeAddress("0xa"),
		Position: 1,
		Eligible: true,
		Status:   domain.StatusDone,
		Claim:    domain.StageState{Status: domain.StatusDone, Amount: wei(100), TxHash: "0xc1"},
		SwapOnDex: domain.SwapState{
			StageState: domain.StageState{Status: domain.StatusDone, Amount: wei(100), TxHash: "0xs1"},
			Venue:      domain.VenueAVNU,
		},
		TransferPrimary:   domain.StageState{Status: domain.StatusDone, Amount: wei(2), TxHash: "0xe1"},
		TransferSecondary: domain.NewStageState(domain.StatusSkip),
	}
	failed := &domain.WalletRecord{
		Address:           domain.NormalizeAddress("0xb"),
		Position:          0,
		Status:            domain.StatusError,
		Claim:             domain.NewStageState(domain.StatusSkip),
		TransferPrimary:   domain.StageState{Status: domain.StatusError, Reason: "reverted"},
		TransferSecondary: domain.NewStageState(domain.StatusDefault),
	}
	return []*domain.WalletRecord{done, failed}
}

func TestBuild_SummaryAndOrder(t *testing.T) {
	at := time.Date(2024, 2, 20, 12, 0, 0, 0, time.UTC)
	r := Build("run-1", at, testRecords())

	require.Len(t, r.Rows, 2)
	assert.Equal(t, 0, r.Rows[0].Position)
	assert.Equal(t, 1, r.Rows[1].Position)

	s := r.Summary
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Eligible)
	assert.Equal(t, 1, s.Done)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 0, s.Pending)
	assert.Equal(t, "100", s.Claimed)
	assert.Equal(t, "2", s.SentETH)
	assert.Equal(t, "0", s.SentSTRK)
	assert.Equal(t, 1, s.SwapVenues[domain.VenueAVNU])

	assert.Equal(t, domain.ExplorerTxURL+"0xc1", r.Rows[1].Claim.Link)
	assert.Empty(t, r.Rows[0].Claim.Link)
}

func TestGenerator_LoadsStore(t *testing.T) {
	store := memory.NewWalletStore()
	records := make(map[string]*domain.WalletRecord)
	for _, r := range testRecords() {
		records[r.Address] = r
	}
	require.NoError(t, store.Save(context.Background(), records))

	at := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	r, err := NewGenerator(store).WithClock(func() time.Time { return at }).Generate(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, at, r.GeneratedAt)
	assert.Equal(t, "run-2", r.RunID)
	assert.Len(t, r.Rows, 2)
}

func TestRenderCSV(t *testing.T) {
	r := Build("run", time.Now(), testRecords())
	out := RenderCSV(r.Rows)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	header := strings.Split(lines[0], ",")
	for i, line := range lines[1:] {
		if got := len(strings.Split(line, ",")); got != len(header) {
			t.Errorf("row %d: expected %d columns, got %d", i, len(header), got)
		}
	}
	assert.Contains(t, lines[2], "avnu")
	assert.Contains(t, lines[2], domain.ExplorerTxURL+"0xe1")
}

func TestWriteCSV_CreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.csv")
	require.NoError(t, WriteCSV(path, Build("run", time.Now(), testRecords()).Rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "position,address"))
}

func TestRenderMarkdown(t *testing.T) {
	r := Build("run-9", time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC), testRecords())
	md := RenderMarkdown(r)

	assert.Contains(t, md, "Run: run-9")
	assert.Contains(t, md, "| Failed | 1 |")
	assert.Contains(t, md, "- avnu: 1")
	assert.Contains(t, md, domain.NormalizeAddress("0xb"))
	assert.NotContains(t, md, "| 1 | "+domain.NormalizeAddress("0xa"))
}
