package alerting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/supercheck-io/supercheck/internal/store"
)

type discordNotifier struct {
	name       string
	webhookURL string
}

type discordConfig struct {
	WebhookURL string `json:"webhookUrl"`
}

func newDiscordNotifier(p *store.NotificationProvider) (Notifier, error) {
	var cfg discordConfig
	if err := decodeProviderConfig(p, &cfg); err != nil {
		return nil, err
	}
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("provider %s: webhookUrl required", p.Name)
	}
	return &discordNotifier{name: p.Name, webhookURL: cfg.WebhookURL}, nil
}

func (d *discordNotifier) Name() string { return d.name }
func (d *discordNotifier) Type() string { return "discord" }

func (d *discordNotifier) Send(ctx context.Context, alert Alert) error {
	fields := make([]map[string]interface{}, 0)
	for _, f := range flatFields(alert) {
		fields = append(fields, map[string]interface{}{
			"name":   f["name"],
			"value":  f["value"],
			"inline": true,
		})
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       alert.Title,
				"description": alert.Message,
				"color":       colorToDecimal(alert.Color()),
				"fields":      fields,
				"timestamp":   alert.Timestamp.UTC().Format(time.RFC3339),
			},
		},
	}

	body, err := marshalBody(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, body)
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	return postJSON(req)
}

// colorToDecimal converts a #rrggbb hex to the integer Discord expects.
func colorToDecimal(hex string) int64 {
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 64)
	if err != nil {
		return 0
	}
	return v
}
