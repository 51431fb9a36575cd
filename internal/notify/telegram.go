package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stark-claimer/internal/config"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram posts summaries through the Bot API sendMessage method.
type Telegram struct {
	apiURL  string
	token   string
	chatIDs []string
	http    *http.Client
}

// NewTelegram returns nil when no token or chats are configured.
func NewTelegram(cfg config.TelegramConfig) *Telegram {
	if cfg.Token == "" || len(cfg.ChatIDs) == 0 {
		return nil
	}
	api := cfg.APIURL
	if api == "" {
		api = defaultTelegramAPI
	}
	return &Telegram{
		apiURL:  strings.TrimRight(api, "/"),
		token:   cfg.Token,
		chatIDs: cfg.ChatIDs,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify sends the summary text to every chat.
func (t *Telegram) Notify(ctx context.Context, s Summary) error {
	if t == nil {
		return nil
	}
	text := s.Text()
	var errs []error
	for _, chat := range t.chatIDs {
		if err := t.send(ctx, chat, text); err != nil {
			errs = append(errs, fmt.Errorf("telegram chat %s: %w", chat, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var out telegramResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("http status %d: decode: %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("http status %d: %s", resp.StatusCode, out.Description)
	}
	return nil
}
