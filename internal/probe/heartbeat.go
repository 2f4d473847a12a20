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

package probe

import (
	"time"

	"github.com/go-logr/logr"
)

// HeartbeatChecker evaluates pull-side heartbeat freshness. Up transitions
// come exclusively from the ingress endpoint; the checker only ever reports
// a missed heartbeat, or nothing.
type HeartbeatChecker struct {
	log logr.Logger
}

// NewHeartbeatChecker creates a heartbeat checker.
func NewHeartbeatChecker(log logr.Logger) *HeartbeatChecker {
	return &HeartbeatChecker{log: log.WithName("heartbeat-checker")}
}

// Check returns a down result when the last ping is older than the expected
// interval plus grace, and nil while the heartbeat is still within grace.
// A monitor that has never pinged is measured from anchor (its creation
// time), so a dead producer is still detected.
func (h *HeartbeatChecker) Check(now time.Time, cfg *HeartbeatConfig, anchor time.Time) *Result {
	if cfg == nil {
		cfg = &HeartbeatConfig{}
	}

	last := anchor
	if cfg.LastPingAt != nil {
		last = *cfg.LastPingAt
	}

	deadline := last.Add(cfg.ExpectedInterval() + cfg.GracePeriod())
	if now.Before(deadline) {
		return nil
	}

	overdue := now.Sub(last).Round(time.Second)
	details := map[string]interface{}{
		"checkType":   "missed_heartbeat",
		"overdue":     overdue.String(),
		"expectedAt":  last.Add(cfg.ExpectedInterval()).UTC().Format(time.RFC3339),
		"gracePeriod": cfg.GracePeriod().String(),
	}
	if cfg.LastPingAt != nil {
		details["lastPingAt"] = cfg.LastPingAt.UTC().Format(time.RFC3339)
	} else {
		details["lastPingAt"] = nil
	}
	return down(details)
}
