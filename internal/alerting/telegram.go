package alerting

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/supercheck-io/supercheck/internal/store"
)

type telegramNotifier struct {
	name     string
	botToken string
	chatID   string
	apiBase  string
}

type telegramConfig struct {
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatId"`
	// APIBase overrides the Telegram API endpoint, used in tests.
	APIBase string `json:"apiBase,omitempty"`
}

func newTelegramNotifier(p *store.NotificationProvider) (Notifier, error) {
	var cfg telegramConfig
	if err := decodeProviderConfig(p, &cfg); err != nil {
		return nil, err
	}
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("provider %s: botToken and chatId required", p.Name)
	}
	base := cfg.APIBase
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &telegramNotifier{name: p.Name, botToken: cfg.BotToken, chatID: cfg.ChatID, apiBase: base}, nil
}

func (t *telegramNotifier) Name() string { return t.name }
func (t *telegramNotifier) Type() string { return "telegram" }

func (t *telegramNotifier) Send(ctx context.Context, alert Alert) error {
	var text strings.Builder
	fmt.Fprintf(&text, "*%s*\n\n%s\n\n", escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	for _, f := range flatFields(alert) {
		fmt.Fprintf(&text, "*%s:* %s\n", escapeMarkdown(f["name"]), escapeMarkdown(f["value"]))
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text.String(),
		"parse_mode": "Markdown",
	}

	body, err := marshalBody(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	return postJSON(req)
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")
	return replacer.Replace(s)
}
