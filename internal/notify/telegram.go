// Package notify delivers alerts through the Telegram bot API.
package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

const telegramBaseURL = "https://api.telegram.org"

// Telegram sends one message per opportunity to a fixed chat.
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
}

// NewTelegram creates the notifier. Timeouts are governed per-send by the
// caller's context.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		client: resty.New().SetBaseURL(telegramBaseURL),
		token:  token,
		chatID: chatID,
	}
}

// Send posts one sendMessage call.
func (t *Telegram) Send(ctx context.Context, text string) error {
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() || !result.OK {
		return fmt.Errorf("telegram send: status %s: %s", resp.Status(), result.Description)
	}
	return nil
}
