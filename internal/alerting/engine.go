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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/supercheck-io/supercheck/internal/metrics"
	"github.com/supercheck-io/supercheck/internal/probe"
	"github.com/supercheck-io/supercheck/internal/store"
)

const (
	// sendTimeout bounds one provider delivery.
	sendTimeout = 10 * time.Second
	// sslCooldown separates SSL alerts for the same monitor.
	sslCooldown = 24 * time.Hour
	// defaultSSLCheckFrequencyHours is how often certificates are
	// re-inspected while far from expiry.
	defaultSSLCheckFrequencyHours = 24
)

// NotifierFactory builds a Notifier from a stored provider.
type NotifierFactory func(*store.NotificationProvider) (Notifier, error)

// Engine evaluates alert rules and fans matching alerts out to providers.
// Threshold streaks are derived from stored history, which already includes
// the outcome being handled.
type Engine struct {
	store        store.Store
	newNotifier  NotifierFactory
	limiter      *rate.Limiter
	dashboardURL string
	log          logr.Logger
}

// NewEngine creates an alert engine. dashboardURL may be empty.
func NewEngine(st store.Store, dashboardURL string, log logr.Logger) *Engine {
	return &Engine{
		store:        st,
		newNotifier:  NewNotifier,
		limiter:      rate.NewLimiter(rate.Limit(1), 30),
		dashboardURL: dashboardURL,
		log:          log.WithName("alert-engine"),
	}
}

// SetNotifierFactory overrides notifier construction, used by tests.
func (e *Engine) SetNotifierFactory(f NotifierFactory) { e.newNotifier = f }

// HandleMonitorOutcome evaluates transition and SSL rules for one recorded
// monitor result. Never returns an error to the dispatcher; rule evaluation
// problems are logged.
func (e *Engine) HandleMonitorOutcome(ctx context.Context, m *store.Monitor, previousStatus string, result *store.MonitorResult) {
	cfg, err := store.ParseAlertConfig(m.AlertConfig)
	if err != nil {
		e.log.Error(err, "invalid alert config", "monitor", m.ID)
		return
	}
	if !cfg.Enabled {
		return
	}

	if cfg.AlertOnSSLExpiration {
		if days, ok := sslDaysRemaining(result.Details); ok {
			e.evaluateSSL(ctx, m, cfg, days)
		}
	}

	if previousStatus == store.MonitorStatusPaused {
		return
	}

	limit := cfg.FailureThreshold
	if cfg.RecoveryThreshold > limit {
		limit = cfg.RecoveryThreshold
	}
	recent, err := e.store.RecentMonitorResults(ctx, m.ID, limit+1)
	if err != nil {
		e.log.Error(err, "recent results unavailable", "monitor", m.ID)
		return
	}
	streak, priorDiffers := currentStreak(recent)

	meta := e.monitorMetadata(m, result)

	switch {
	case !result.IsUp && cfg.AlertOnFailure && streak == cfg.FailureThreshold:
		meta["consecutiveFailures"] = streak
		e.fire(ctx, cfg, Alert{
			Type:       TypeMonitorFailure,
			Title:      fmt.Sprintf("Monitor Down: %s", m.Name),
			Message:    fmt.Sprintf("Monitor %s is down after %d consecutive failed checks.", m.Name, streak),
			TargetKind: store.TargetKindMonitor,
			TargetID:   m.ID,
			TargetName: m.Name,
			Metadata:   meta,
		})
	case result.IsUp && cfg.AlertOnRecovery && streak == cfg.RecoveryThreshold && priorDiffers:
		meta["consecutiveSuccesses"] = streak
		e.fire(ctx, cfg, Alert{
			Type:       TypeMonitorRecovery,
			Title:      fmt.Sprintf("Monitor Recovered: %s", m.Name),
			Message:    fmt.Sprintf("Monitor %s is up again after %d consecutive successful checks.", m.Name, streak),
			TargetKind: store.TargetKindMonitor,
			TargetID:   m.ID,
			TargetName: m.Name,
			Metadata:   meta,
		})
	}
}

// HandleJobOutcome evaluates alert rules for one terminal run.
func (e *Engine) HandleJobOutcome(ctx context.Context, job *store.Job, run *store.Run) {
	cfg, err := store.ParseAlertConfig(job.AlertConfig)
	if err != nil {
		e.log.Error(err, "invalid alert config", "job", job.ID)
		return
	}
	if !cfg.Enabled {
		return
	}

	meta := map[string]interface{}{
		"status":   run.Status,
		"duration": fmt.Sprintf("%ds", run.DurationSecs),
		"runId":    run.ID,
	}
	if e.dashboardURL != "" {
		meta["dashboardUrl"] = fmt.Sprintf("%s/jobs/%s", e.dashboardURL, job.ID)
	}

	limit := cfg.FailureThreshold
	if cfg.RecoveryThreshold > limit {
		limit = cfg.RecoveryThreshold
	}
	statuses, err := e.store.GetRunStatusesForJob(ctx, job.ID, limit+1)
	if err != nil {
		e.log.Error(err, "run history unavailable", "job", job.ID)
		return
	}
	streak := statusStreak(statuses, run.Status)

	switch {
	case run.Status == store.RunStatusTimeout && cfg.AlertOnTimeout:
		e.fire(ctx, cfg, Alert{
			Type:       TypeJobTimeout,
			Title:      fmt.Sprintf("Job Timed Out: %s", job.Name),
			Message:    fmt.Sprintf("Job %s exceeded its execution timeout.", job.Name),
			TargetKind: store.TargetKindJob,
			TargetID:   job.ID,
			TargetName: job.Name,
			Metadata:   meta,
		})
	case run.Status == store.RunStatusFailed && cfg.AlertOnFailure && streak == cfg.FailureThreshold:
		meta["consecutiveFailures"] = streak
		if run.ErrorDetails != nil {
			meta["error"] = *run.ErrorDetails
		}
		e.fire(ctx, cfg, Alert{
			Type:       TypeJobFailure,
			Title:      fmt.Sprintf("Job Failed: %s", job.Name),
			Message:    fmt.Sprintf("Job %s failed %d consecutive times.", job.Name, streak),
			TargetKind: store.TargetKindJob,
			TargetID:   job.ID,
			TargetName: job.Name,
			Metadata:   meta,
		})
	case run.Status == store.RunStatusPassed && cfg.AlertOnSuccess && streak == cfg.RecoveryThreshold:
		meta["consecutiveSuccesses"] = streak
		e.fire(ctx, cfg, Alert{
			Type:       TypeJobSuccess,
			Title:      fmt.Sprintf("Job Passed: %s", job.Name),
			Message:    fmt.Sprintf("Job %s passed.", job.Name),
			TargetKind: store.TargetKindJob,
			TargetID:   job.ID,
			TargetName: job.Name,
			Metadata:   meta,
		})
	}
}

// ShouldPerformSslCheck implements the check frequency ladder: daily while
// the certificate is healthy, hourly once inside the warn window, every six
// hours inside twice the warn window.
func (e *Engine) ShouldPerformSslCheck(ctx context.Context, m *store.Monitor) bool {
	if m.SSLLastCheckedAt == nil {
		return true
	}

	httpCfg, err := probe.ParseHTTPConfig(m.Config)
	if err != nil {
		return true
	}
	warn := httpCfg.SSLDaysUntilExpiryWarning
	if warn <= 0 {
		warn = 30
	}
	freq := httpCfg.SSLCheckFrequencyHours
	if freq <= 0 {
		freq = defaultSSLCheckFrequencyHours
	}

	hoursSince := time.Since(*m.SSLLastCheckedAt).Hours()
	if hoursSince >= float64(freq) {
		return true
	}

	days, known := e.lastKnownSSLDays(ctx, m.ID)
	if !known {
		return false
	}
	if days <= warn && hoursSince >= 1 {
		return true
	}
	if days <= 2*warn && hoursSince >= 6 {
		return true
	}
	return false
}

// SendTest delivers a test alert through one provider, bypassing rules and
// history.
func (e *Engine) SendTest(ctx context.Context, p *store.NotificationProvider) error {
	n, err := e.newNotifier(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return n.Send(ctx, Alert{
		Type:      TypeTest,
		Severity:  SeverityInfo,
		Title:     "Supercheck Test Alert",
		Message:   "This is a test alert from Supercheck.",
		Timestamp: time.Now().UTC(),
	})
}

func (e *Engine) evaluateSSL(ctx context.Context, m *store.Monitor, cfg *store.AlertConfig, days int) {
	var kind string
	switch {
	case days <= 0:
		kind = TypeSSLExpired
	case days <= cfg.SSLWarnDays:
		kind = TypeSSLExpiring
	default:
		return
	}

	for _, cooldownKind := range []string{TypeSSLExpiring, TypeSSLExpired} {
		last, err := e.store.LastAlertOfKind(ctx, m.ID, cooldownKind)
		if err != nil {
			e.log.Error(err, "ssl cooldown lookup failed", "monitor", m.ID)
			return
		}
		if last != nil && time.Since(last.SentAt) < sslCooldown {
			return
		}
	}

	var message string
	if kind == TypeSSLExpired {
		message = fmt.Sprintf("The SSL certificate for %s has expired.", m.Target)
	} else {
		message = fmt.Sprintf("The SSL certificate for %s expires in %d days.", m.Target, days)
	}
	e.fire(ctx, cfg, Alert{
		Type:       kind,
		Title:      fmt.Sprintf("SSL Certificate %s: %s", map[string]string{TypeSSLExpired: "Expired", TypeSSLExpiring: "Expiring"}[kind], m.Name),
		Message:    message,
		TargetKind: store.TargetKindMonitor,
		TargetID:   m.ID,
		TargetName: m.Name,
		Metadata: map[string]interface{}{
			"sslDaysRemaining": days,
			"target":           m.Target,
		},
	})
}

// fire resolves providers, fans the alert out and records one aggregate
// history row.
func (e *Engine) fire(ctx context.Context, cfg *store.AlertConfig, alert Alert) {
	alert.Severity = severityFor(alert.Type)
	alert.Timestamp = time.Now().UTC()
	if cfg.CustomMessage != "" {
		alert.Message = cfg.CustomMessage
	}
	if e.dashboardURL != "" && alert.Metadata != nil {
		if _, ok := alert.Metadata["dashboardUrl"]; !ok {
			alert.Metadata["dashboardUrl"] = e.dashboardURL
		}
	}

	history := &store.AlertHistory{
		Type:       alert.Type,
		TargetKind: alert.TargetKind,
		TargetID:   alert.TargetID,
		Message:    alert.Message,
		SentAt:     alert.Timestamp,
	}

	providers, err := e.store.GetProviders(ctx, cfg.ProviderIDs)
	if err != nil {
		e.log.Error(err, "provider lookup failed", "target", alert.TargetID)
		return
	}
	if len(providers) < len(cfg.ProviderIDs) {
		e.log.Info("some providers missing", "configured", len(cfg.ProviderIDs), "found", len(providers))
	}

	if !e.limiter.Allow() {
		e.log.Info("alert rate limit exceeded, delivery skipped", "type", alert.Type, "target", alert.TargetID)
		history.Status = store.AlertStatusFailed
		msg := "rate limit exceeded"
		history.ErrorMessage = &msg
		metrics.AlertsTotal.WithLabelValues(alert.Type, history.Status).Inc()
		if err := e.store.InsertAlertHistory(ctx, history); err != nil {
			e.log.Error(err, "alert history insert failed", "target", alert.TargetID)
		}
		return
	}

	var sentTo, failures []string
	for i := range providers {
		p := &providers[i]
		if !p.Enabled {
			e.log.Info("skipping disabled provider", "provider", p.Name)
			continue
		}
		if err := e.sendOne(ctx, p, alert); err != nil {
			e.log.Error(err, "alert delivery failed", "provider", p.Name, "type", alert.Type)
			failures = append(failures, fmt.Sprintf("%s: %v", p.Name, err))
		} else {
			sentTo = append(sentTo, p.Name)
		}
	}

	switch {
	case len(sentTo) > 0 && len(failures) == 0:
		history.Status = store.AlertStatusSent
	case len(sentTo) > 0:
		history.Status = store.AlertStatusSent
		msg := "partial failure: " + strings.Join(failures, "; ")
		history.ErrorMessage = &msg
	default:
		history.Status = store.AlertStatusFailed
		msg := "no provider accepted the alert"
		if len(failures) > 0 {
			msg = strings.Join(failures, "; ")
		}
		history.ErrorMessage = &msg
	}
	history.SetProviders(sentTo)
	metrics.AlertsTotal.WithLabelValues(alert.Type, history.Status).Inc()

	if err := e.store.InsertAlertHistory(ctx, history); err != nil {
		e.log.Error(err, "alert history insert failed", "target", alert.TargetID)
	}
}

func (e *Engine) sendOne(ctx context.Context, p *store.NotificationProvider, alert Alert) error {
	n, err := e.newNotifier(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return n.Send(ctx, alert)
}

func (e *Engine) monitorMetadata(m *store.Monitor, result *store.MonitorResult) map[string]interface{} {
	meta := map[string]interface{}{
		"status": result.Status,
		"target": m.Target,
	}
	if result.ResponseTimeMs != nil {
		meta["responseTimeMs"] = *result.ResponseTimeMs
	}
	if days, ok := sslDaysRemaining(result.Details); ok {
		meta["sslDaysRemaining"] = days
	}
	if e.dashboardURL != "" {
		meta["dashboardUrl"] = fmt.Sprintf("%s/monitors/%s", e.dashboardURL, m.ID)
	}
	return meta
}

// lastKnownSSLDays scans recent results for the newest certificate summary.
func (e *Engine) lastKnownSSLDays(ctx context.Context, monitorID string) (int, bool) {
	results, err := e.store.RecentMonitorResults(ctx, monitorID, 20)
	if err != nil {
		return 0, false
	}
	for _, r := range results {
		if days, ok := sslDaysRemaining(r.Details); ok {
			return days, true
		}
	}
	return 0, false
}

// currentStreak counts how many of the newest results share the newest
// result's isUp, and whether an older result with the opposite state exists.
func currentStreak(results []store.MonitorResult) (streak int, priorDiffers bool) {
	if len(results) == 0 {
		return 0, false
	}
	current := results[0].IsUp
	for _, r := range results {
		if r.IsUp != current {
			return streak, true
		}
		streak++
	}
	return streak, false
}

// statusStreak counts leading statuses equal to the given one.
func statusStreak(statuses []string, status string) int {
	streak := 0
	for _, s := range statuses {
		if s != status {
			break
		}
		streak++
	}
	return streak
}

// sslDaysRemaining extracts ssl.daysRemaining from a result details column.
func sslDaysRemaining(details *string) (int, bool) {
	if details == nil {
		return 0, false
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(*details), &parsed); err != nil {
		return 0, false
	}
	ssl, ok := parsed["ssl"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	days, ok := ssl["daysRemaining"].(float64)
	if !ok {
		return 0, false
	}
	return int(days), true
}
