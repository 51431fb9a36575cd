package notify

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
)

func eth(milli int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(milli), big.NewInt(1_000_000_000_000_000))
}

func TestSummary_TextEligible(t *testing.T) {
	r := &domain.WalletRecord{
		Address:              "0xabc",
		Eligible:             true,
		Status:               domain.StatusDone,
		PrimaryDestination:   "0xdest",
		SecondaryDestination: "0xstrk",
		Claim:                domain.StageState{Status: domain.StatusDone, Amount: eth(1500), TxHash: "0x11"},
		SwapOnDex: domain.SwapState{
			StageState: domain.StageState{Status: domain.StatusDone, Amount: eth(1500), TxHash: "0x22"},
			Venue:      domain.VenueFibrous,
		},
		TransferPrimary:   domain.StageState{Status: domain.StatusError, Amount: eth(250)},
		TransferSecondary: domain.NewStageState(domain.StatusSkip),
	}
	text := NewSummary(r, 3, 10).Text()

	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[3/10] 0xabc", lines[0])
	assert.Equal(t, `✅ Claim | 1.5000 STRK | <a href="`+domain.ExplorerTxURL+`0x11">link</a>`, lines[1])
	assert.Contains(t, lines[2], "✅ Swap 1.5000 STRK via fibrous")
	assert.Equal(t, "🔴 0.2500 ETH to 0xdest", lines[3])
}

func TestSummary_TextNotEligible(t *testing.T) {
	r := &domain.WalletRecord{
		Address:         "0xabc",
		TransferPrimary: domain.StageState{Status: domain.StatusDone, Amount: eth(1), TxHash: "0x5"},
	}
	text := NewSummary(r, 1, 1).Text()
	assert.Contains(t, text, "🔴 Not Eligible")
	assert.Contains(t, text, "✅ 0.0010 ETH to")
	assert.NotContains(t, text, "Claim")
}

type telegramRecorder struct {
	mu    sync.Mutex
	chats []string
	texts []string
}

func (rec *telegramRecorder) handler(t *testing.T, failChat string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/botTOKEN/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rec.mu.Lock()
		rec.chats = append(rec.chats, req.ChatID)
		rec.texts = append(rec.texts, req.Text)
		rec.mu.Unlock()

		if req.ChatID == failChat {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
			return
		}
		if req.ParseMode != "HTML" {
			t.Errorf("parse_mode = %s", req.ParseMode)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func TestTelegram_SendsToEveryChat(t *testing.T) {
	rec := &telegramRecorder{}
	srv := httptest.NewServer(rec.handler(t, ""))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{Token: "TOKEN", ChatIDs: []string{"1", "2"}, APIURL: srv.URL})
	require.NotNil(t, tg)

	err := tg.Notify(context.Background(), Summary{Address: "0x1", Position: 1, Total: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, rec.chats)
	assert.Contains(t, rec.texts[0], "[1/1] 0x1")
}

func TestTelegram_ErrorNamesChat(t *testing.T) {
	rec := &telegramRecorder{}
	srv := httptest.NewServer(rec.handler(t, "2"))
	defer srv.Close()

	tg := NewTelegram(config.TelegramConfig{Token: "TOKEN", ChatIDs: []string{"1", "2"}, APIURL: srv.URL})
	err := tg.Notify(context.Background(), Summary{Address: "0x1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 2")
	assert.Contains(t, err.Error(), "chat not found")
	assert.Len(t, rec.chats, 2)
}

func TestNewTelegram_Disabled(t *testing.T) {
	assert.Nil(t, NewTelegram(config.TelegramConfig{}))
	assert.Nil(t, NewTelegram(config.TelegramConfig{Token: "x"}))

	var tg *Telegram
	assert.NoError(t, tg.Notify(context.Background(), Summary{}))
}

func TestNewNATS_Disabled(t *testing.T) {
	n, err := NewNATS(config.NATSConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.NoError(t, n.Notify(context.Background(), Summary{}))
	assert.NoError(t, n.Close())
}

type notifierFunc func(ctx context.Context, s Summary) error

func (f notifierFunc) Notify(ctx context.Context, s Summary) error { return f(ctx, s) }

func TestMulti_JoinsErrors(t *testing.T) {
	calls := 0
	ok := notifierFunc(func(context.Context, Summary) error { calls++; return nil })
	bad := notifierFunc(func(context.Context, Summary) error { calls++; return errors.New("down") })

	err := Multi{bad, nil, ok}.Notify(context.Background(), Summary{})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "down")
}
