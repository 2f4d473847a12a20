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
	"net/smtp"
	"strings"
	"time"

	"github.com/supercheck-io/supercheck/internal/store"
)

type emailNotifier struct {
	name     string
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

type emailConfig struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

func newEmailNotifier(p *store.NotificationProvider) (Notifier, error) {
	var cfg emailConfig
	if err := decodeProviderConfig(p, &cfg); err != nil {
		return nil, err
	}
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("provider %s: host, from and to required", p.Name)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &emailNotifier{
		name:     p.Name,
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       cfg.To,
	}, nil
}

func (e *emailNotifier) Name() string { return e.name }
func (e *emailNotifier) Type() string { return "email" }

func (e *emailNotifier) Send(ctx context.Context, alert Alert) error {
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", e.from)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&body, "Subject: [%s] %s\r\n", strings.ToUpper(alert.Severity), alert.Title)
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	body.WriteString(alert.Message)
	body.WriteString("\r\n\r\n")
	for _, f := range flatFields(alert) {
		fmt.Fprintf(&body, "%s: %s\r\n", f["name"], f["value"])
	}
	fmt.Fprintf(&body, "Time: %s\r\n", alert.Timestamp.UTC().Format(time.RFC3339))

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, e.from, e.to, []byte(body.String()))
	}()

	// smtp.SendMail has no context support
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
