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

// Package probe implements the health check protocols. Every prober
// normalizes its outcome into a Result; network failures are outcomes, not
// errors, and never escape as panics.
package probe

import (
	"encoding/json"
	"strings"
	"time"
)

// Result statuses.
const (
	StatusUp      = "up"
	StatusDown    = "down"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Result is the normalized outcome of one check.
type Result struct {
	Status         string
	IsUp           bool
	ResponseTimeMs *int64
	Details        map[string]interface{}
}

// DetailsJSON renders the details map for storage. Nil details yield nil.
func (r *Result) DetailsJSON() *string {
	if len(r.Details) == 0 {
		return nil
	}
	data, err := json.Marshal(r.Details)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}

func up(latencyMs int64, details map[string]interface{}) *Result {
	return &Result{Status: StatusUp, IsUp: true, ResponseTimeMs: &latencyMs, Details: details}
}

func down(details map[string]interface{}) *Result {
	return &Result{Status: StatusDown, Details: details}
}

func errResult(msg string) *Result {
	return &Result{Status: StatusError, Details: map[string]interface{}{"error": msg}}
}

func timeoutResult(details map[string]interface{}) *Result {
	if details == nil {
		details = map[string]interface{}{}
	}
	return &Result{Status: StatusTimeout, Details: details}
}

// HTTPConfig is the typed config for http_request and website monitors.
type HTTPConfig struct {
	Method                    string            `json:"method,omitempty"`
	Headers                   map[string]string `json:"headers,omitempty"`
	Body                      string            `json:"body,omitempty"`
	ExpectedStatusCodes       []string          `json:"expectedStatusCodes,omitempty"`
	KeywordInBody             string            `json:"keywordInBody,omitempty"`
	KeywordInBodyShouldExist  *bool             `json:"keywordInBodyShouldBePresent,omitempty"`
	AuthMethod                string            `json:"authMethod,omitempty"` // basic | bearer
	BasicUsername             string            `json:"basicUsername,omitempty"`
	BasicPassword             string            `json:"basicPassword,omitempty"`
	BearerToken               string            `json:"bearerToken,omitempty"`
	TimeoutSeconds            int               `json:"timeoutSeconds,omitempty"`
	EnableSslCheck            bool              `json:"enableSslCheck,omitempty"`
	SSLDaysUntilExpiryWarning int               `json:"sslDaysUntilExpirationWarning,omitempty"`
	SSLCheckFrequencyHours    int               `json:"sslCheckFrequencyHours,omitempty"`
}

// KeywordShouldBePresent defaults to true when unset.
func (c *HTTPConfig) KeywordShouldBePresent() bool {
	if c.KeywordInBodyShouldExist == nil {
		return true
	}
	return *c.KeywordInBodyShouldExist
}

// PingConfig is the typed config for ping_host monitors.
type PingConfig struct {
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// PortConfig is the typed config for port_check monitors. Protocol defaults
// to tcp. Port joins the target host; a target already carrying host:port
// wins only when Port is unset.
type PortConfig struct {
	Port           int    `json:"port,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// HeartbeatConfig is the typed config for heartbeat monitors. LastPingAt is
// maintained by the heartbeat ingress.
type HeartbeatConfig struct {
	ExpectedIntervalMinutes int        `json:"expectedIntervalMinutes,omitempty"`
	GracePeriodMinutes      int        `json:"gracePeriodMinutes,omitempty"`
	LastPingAt              *time.Time `json:"lastPingAt,omitempty"`
}

// ExpectedInterval returns the configured interval, default 60 minutes.
func (c *HeartbeatConfig) ExpectedInterval() time.Duration {
	if c.ExpectedIntervalMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.ExpectedIntervalMinutes) * time.Minute
}

// GracePeriod returns the configured grace period, default 10 minutes.
func (c *HeartbeatConfig) GracePeriod() time.Duration {
	if c.GracePeriodMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.GracePeriodMinutes) * time.Minute
}

// decodeConfig parses a nullable JSON config column into dst. Nil or empty
// raw leaves dst at its zero value.
func decodeConfig(raw *string, dst interface{}) error {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(*raw), dst)
}

// ParseHTTPConfig decodes an HTTP monitor config column.
func ParseHTTPConfig(raw *string) (*HTTPConfig, error) {
	cfg := &HTTPConfig{}
	if err := decodeConfig(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParsePingConfig decodes a ping monitor config column.
func ParsePingConfig(raw *string) (*PingConfig, error) {
	cfg := &PingConfig{}
	if err := decodeConfig(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParsePortConfig decodes a port monitor config column.
func ParsePortConfig(raw *string) (*PortConfig, error) {
	cfg := &PortConfig{}
	if err := decodeConfig(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseHeartbeatConfig decodes a heartbeat monitor config column.
func ParseHeartbeatConfig(raw *string) (*HeartbeatConfig, error) {
	cfg := &HeartbeatConfig{}
	if err := decodeConfig(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
