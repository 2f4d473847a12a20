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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/supercheck-io/supercheck/internal/store"
)

// AlertHTTPClient is the shared client for webhook-style transports.
var AlertHTTPClient = &http.Client{Timeout: 10 * time.Second}

// NewNotifier builds a notifier from a stored provider. The provider's
// config column carries the transport-specific JSON.
func NewNotifier(p *store.NotificationProvider) (Notifier, error) {
	switch p.Type {
	case "slack":
		return newSlackNotifier(p)
	case "webhook":
		return newWebhookNotifier(p)
	case "email":
		return newEmailNotifier(p)
	case "telegram":
		return newTelegramNotifier(p)
	case "discord":
		return newDiscordNotifier(p)
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}

func decodeProviderConfig(p *store.NotificationProvider, dst interface{}) error {
	if err := json.Unmarshal([]byte(p.Config), dst); err != nil {
		return fmt.Errorf("provider %s: invalid config: %w", p.Name, err)
	}
	return nil
}

// postJSON sends a JSON payload and requires a 2xx response.
func postJSON(req *http.Request) error {
	req.Header.Set("Content-Type", "application/json")
	resp, err := AlertHTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode)
	}
	return nil
}

func marshalBody(payload interface{}) (*bytes.Reader, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return bytes.NewReader(data), nil
}

// flatFields renders the alert metadata as ordered name/value pairs for
// transports that display field lists.
func flatFields(alert Alert) []map[string]string {
	fields := []map[string]string{
		{"name": "Target", "value": alert.TargetName},
		{"name": "Type", "value": alert.Type},
		{"name": "Severity", "value": alert.Severity},
	}
	for _, key := range []string{"status", "responseTimeMs", "duration", "consecutiveFailures", "consecutiveSuccesses", "sslDaysRemaining"} {
		if v, ok := alert.Metadata[key]; ok {
			fields = append(fields, map[string]string{"name": key, "value": fmt.Sprintf("%v", v)})
		}
	}
	return fields
}
