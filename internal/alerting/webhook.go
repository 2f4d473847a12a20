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
	"strings"
	"time"

	"github.com/supercheck-io/supercheck/internal/store"
)

type webhookNotifier struct {
	name    string
	url     string
	method  string
	headers map[string]string
}

type webhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func newWebhookNotifier(p *store.NotificationProvider) (Notifier, error) {
	var cfg webhookConfig
	if err := decodeProviderConfig(p, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("provider %s: url required", p.Name)
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	return &webhookNotifier{name: p.Name, url: cfg.URL, method: method, headers: cfg.Headers}, nil
}

func (w *webhookNotifier) Name() string { return w.name }
func (w *webhookNotifier) Type() string { return "webhook" }

func (w *webhookNotifier) Send(ctx context.Context, alert Alert) error {
	payload := map[string]interface{}{
		"type":       alert.Type,
		"severity":   alert.Severity,
		"title":      alert.Title,
		"message":    alert.Message,
		"targetKind": alert.TargetKind,
		"targetId":   alert.TargetID,
		"targetName": alert.TargetName,
		"timestamp":  alert.Timestamp.UTC().Format(time.RFC3339),
		"color":      alert.Color(),
		"metadata":   alert.Metadata,
	}

	body, err := marshalBody(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, w.method, w.url, body)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	return postJSON(req)
}
