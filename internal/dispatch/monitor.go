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

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hibiken/asynq"

	"github.com/supercheck-io/supercheck/internal/alerting"
	"github.com/supercheck-io/supercheck/internal/metrics"
	"github.com/supercheck-io/supercheck/internal/probe"
	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/store"
)

// MonitorDispatcher executes one monitor check per task: probe, persist the
// sample, update monitor bookkeeping, then hand the outcome to the alert
// engine.
type MonitorDispatcher struct {
	store     store.Store
	alerts    *alerting.Engine
	http      *probe.HttpProber
	tls       *probe.TlsProber
	ping      *probe.PingProber
	port      *probe.PortProber
	heartbeat *probe.HeartbeatChecker
	log       logr.Logger
}

// NewMonitorDispatcher creates a monitor dispatcher with one prober per
// monitor type.
func NewMonitorDispatcher(st store.Store, alerts *alerting.Engine, log logr.Logger) *MonitorDispatcher {
	return &MonitorDispatcher{
		store:     st,
		alerts:    alerts,
		http:      probe.NewHttpProber(log),
		tls:       probe.NewTlsProber(log),
		ping:      probe.NewPingProber(log),
		port:      probe.NewPortProber(log),
		heartbeat: probe.NewHeartbeatChecker(log),
		log:       log.WithName("monitor-dispatcher"),
	}
}

// HandleTask processes one monitor check task.
func (d *MonitorDispatcher) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.MonitorCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal monitor check payload: %w", err)
	}
	log := d.log.WithValues("monitor", payload.MonitorID)

	m, err := d.store.GetMonitor(ctx, payload.MonitorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("monitor vanished, dropping check")
			return nil
		}
		return err
	}
	// a check enqueued just before a pause still lands here; it must not
	// write a sample or wake the alert engine
	if !m.Enabled || m.Status == store.MonitorStatusPaused || m.Status == store.MonitorStatusMaintenance {
		log.V(1).Info("monitor not active, dropping check", "status", m.Status)
		return nil
	}

	start := time.Now()
	result := d.probe(ctx, m)
	if result == nil {
		// heartbeat within its grace window; nothing to record
		return nil
	}
	metrics.ProbesTotal.WithLabelValues(m.Type, result.Status).Inc()
	metrics.ProbeDurationSeconds.WithLabelValues(m.Type).Observe(time.Since(start).Seconds())

	return d.Apply(ctx, m, result)
}

// Apply persists a probe result against a monitor, updates its status
// bookkeeping and invokes the alert engine. Shared with the heartbeat
// ingress, which produces synthetic up results.
func (d *MonitorDispatcher) Apply(ctx context.Context, m *store.Monitor, result *probe.Result) error {
	previous := m.Status
	current := deriveStatus(result)
	transition := current != previous

	row := &store.MonitorResult{
		MonitorID:      m.ID,
		CheckedAt:      time.Now().UTC(),
		Status:         result.Status,
		ResponseTimeMs: result.ResponseTimeMs,
		Details:        result.DetailsJSON(),
		IsUp:           result.IsUp,
		IsStatusChange: transition,
	}
	if err := d.store.InsertMonitorResult(ctx, row); err != nil {
		return fmt.Errorf("insert monitor result: %w", err)
	}

	patch := store.MonitorPatch{LastCheckAt: &row.CheckedAt}
	if transition {
		patch.Status = &current
		patch.LastStatusChangeAt = &row.CheckedAt
	}
	if err := d.store.UpdateMonitor(ctx, m.ID, patch); err != nil {
		return fmt.Errorf("update monitor %s: %w", m.ID, err)
	}

	d.alerts.HandleMonitorOutcome(ctx, m, previous, row)
	return nil
}

// probe runs the type-appropriate prober. A nil result means there is
// nothing to record.
func (d *MonitorDispatcher) probe(ctx context.Context, m *store.Monitor) *probe.Result {
	switch m.Type {
	case store.MonitorTypeHTTP:
		cfg, err := probe.ParseHTTPConfig(m.Config)
		if err != nil {
			return configError(err)
		}
		return d.http.Probe(ctx, m.Target, cfg)

	case store.MonitorTypeWebsite:
		cfg, err := probe.ParseHTTPConfig(m.Config)
		if err != nil {
			return configError(err)
		}
		result := d.http.Probe(ctx, m.Target, cfg)
		checkSSL := cfg.EnableSslCheck &&
			strings.HasPrefix(strings.ToLower(m.Target), "https://") &&
			d.alerts.ShouldPerformSslCheck(ctx, m)
		if checkSSL && result != nil {
			d.inspectSSL(ctx, m, cfg, result)
		}
		return result

	case store.MonitorTypePing:
		cfg, err := probe.ParsePingConfig(m.Config)
		if err != nil {
			return configError(err)
		}
		return d.ping.Probe(ctx, m.Target, cfg)

	case store.MonitorTypePort:
		cfg, err := probe.ParsePortConfig(m.Config)
		if err != nil {
			return configError(err)
		}
		return d.port.Probe(ctx, m.Target, cfg)

	case store.MonitorTypeHeartbeat:
		cfg, err := probe.ParseHeartbeatConfig(m.Config)
		if err != nil {
			return configError(err)
		}
		return d.heartbeat.Check(time.Now().UTC(), cfg, m.CreatedAt)

	default:
		return configError(fmt.Errorf("unknown monitor type %q", m.Type))
	}
}

// inspectSSL dials the certificate directly and folds its findings into the
// availability sample. The direct dial skips verification, so an expired or
// untrusted certificate that made the verifying HTTP client refuse the
// handshake still yields expiry details for the alert engine.
func (d *MonitorDispatcher) inspectSSL(ctx context.Context, m *store.Monitor, cfg *probe.HTTPConfig, result *probe.Result) {
	sslResult := d.tls.Probe(ctx, m.Target, cfg.SSLDaysUntilExpiryWarning)
	info, ok := sslResult.Details["ssl"]
	if !ok {
		// certificate unreachable; leave the sample as the HTTP probe saw it
		return
	}
	if result.Details == nil {
		result.Details = map[string]interface{}{}
	}
	result.Details["ssl"] = info
	if warning, ok := sslResult.Details["sslWarning"]; ok {
		result.Details["sslWarning"] = warning
	}

	now := time.Now().UTC()
	if err := d.store.UpdateMonitor(ctx, m.ID, store.MonitorPatch{SSLLastCheckedAt: &now}); err != nil {
		d.log.Error(err, "ssl check timestamp update failed", "monitor", m.ID)
	}
}

// deriveStatus maps a probe outcome onto the monitor status machine via
// isUp; timeout and error samples count as down.
func deriveStatus(result *probe.Result) string {
	if result.IsUp {
		return store.MonitorStatusUp
	}
	return store.MonitorStatusDown
}

func configError(err error) *probe.Result {
	return &probe.Result{
		Status:  probe.StatusError,
		Details: map[string]interface{}{"error": err.Error()},
	}
}
