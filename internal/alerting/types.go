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

// Package alerting evaluates alert rules on monitor and job outcomes and
// fans alerts out to notification providers.
package alerting

import (
	"context"
	"time"
)

// Alert types.
const (
	TypeMonitorFailure  = "monitor_failure"
	TypeMonitorRecovery = "monitor_recovery"
	TypeSSLExpiring     = "ssl_expiring"
	TypeSSLExpired      = "ssl_expired"
	TypeJobFailure      = "job_failure"
	TypeJobSuccess      = "job_success"
	TypeJobTimeout      = "job_timeout"
	TypeTest            = "test"
)

// Severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeveritySuccess = "success"
)

// SeverityColor maps a severity to its display color hex.
var SeverityColor = map[string]string{
	SeverityError:   "#ef4444",
	SeverityWarning: "#f59e0b",
	SeveritySuccess: "#22c55e",
	SeverityInfo:    "#3b82f6",
}

// severityFor maps alert types to severities.
func severityFor(alertType string) string {
	switch alertType {
	case TypeMonitorFailure, TypeJobFailure, TypeJobTimeout, TypeSSLExpired:
		return SeverityError
	case TypeSSLExpiring:
		return SeverityWarning
	case TypeMonitorRecovery, TypeJobSuccess:
		return SeveritySuccess
	default:
		return SeverityInfo
	}
}

// Alert is the uniform payload handed to every notifier.
type Alert struct {
	Type       string
	Severity   string
	Title      string
	Message    string
	TargetKind string
	TargetID   string
	TargetName string
	Timestamp  time.Time
	Metadata   map[string]interface{}
}

// Color returns the display color for the alert's severity.
func (a Alert) Color() string {
	if c, ok := SeverityColor[a.Severity]; ok {
		return c
	}
	return SeverityColor[SeverityInfo]
}

// Notifier delivers alerts over one transport.
type Notifier interface {
	// Name returns the provider's configured name.
	Name() string

	// Type returns the transport type (slack, webhook, email, telegram, discord).
	Type() string

	// Send delivers an alert.
	Send(ctx context.Context, alert Alert) error
}
