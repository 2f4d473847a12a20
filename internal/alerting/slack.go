/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package alerting

import (
	"context"
	"fmt"
	"net/http"

	"github.com/supercheck-io/supercheck/internal/store"
)

type slackNotifier struct {
	name       string
	webhookURL string
	channel    string
}

type slackConfig struct {
	WebhookURL string `json:"webhookUrl"`
	Channel    string `json:"channel,omitempty"`
}

func newSlackNotifier(p *store.NotificationProvider) (Notifier, error) {
	var cfg slackConfig
	if err := decodeProviderConfig(p, &cfg); err != nil {
		return nil, err
	}
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("provider %s: webhookUrl required", p.Name)
	}
	return &slackNotifier{name: p.Name, webhookURL: cfg.WebhookURL, channel: cfg.Channel}, nil
}

func (s *slackNotifier) Name() string { return s.name }
func (s *slackNotifier) Type() string { return "slack" }

func (s *slackNotifier) Send(ctx context.Context, alert Alert) error {
	attachmentFields := make([]map[string]interface{}, 0)
	for _, f := range flatFields(alert) {
		attachmentFields = append(attachmentFields, map[string]interface{}{
			"title": f["name"],
			"value": f["value"],
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"text": alert.Title,
		"attachments": []map[string]interface{}{
			{
				"color":  alert.Color(),
				"text":   alert.Message,
				"fields": attachmentFields,
				"ts":     alert.Timestamp.Unix(),
			},
		},
	}
	if s.channel != "" {
		payload["channel"] = s.channel
	}

	body, err := marshalBody(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, body)
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	return postJSON(req)
}
