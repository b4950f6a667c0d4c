package alert

import (
	"context"
	"fmt"
	apphttp "kimchi_arb/pkg/http"
	"sort"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

type TelegramChannel struct {
	botToken string
	chatID   string
	client   *apphttp.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return NewTelegramChannelWithURL(telegramAPI, botToken, chatID)
}

// NewTelegramChannelWithURL points the channel at a different Bot API host
func NewTelegramChannelWithURL(baseURL, botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   apphttp.NewClient(baseURL, 5*time.Second, nil),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert AlertPayload) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id": t.chatID,
		"text":    formatTelegram(alert),
	}

	if _, err := t.client.Post(ctx, "/bot"+t.botToken+"/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

// formatTelegram renders plain text; venue names contain underscores that
// Markdown parse mode would reject.
func formatTelegram(alert AlertPayload) string {
	if alert.Title == "" && len(alert.Fields) == 0 && alert.Level == Info {
		return alert.Message
	}

	icon := "ℹ️"
	switch alert.Level {
	case Warning:
		icon = "⚠️"
	case Error:
		icon = "❌"
	case Critical:
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", icon, alert.Level, alert.Title)
	if alert.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(alert.Message)
	}
	if len(alert.Fields) > 0 {
		b.WriteString("\n")
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, alert.Fields[k])
		}
	}
	return b.String()
}
