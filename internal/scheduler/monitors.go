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

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hibiken/asynq"

	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/store"
)

// checkMaxRetry gives every monitor check 3 attempts in total.
const checkMaxRetry = 2

// MonitorScheduler keeps one repeatable fire entry per enabled monitor,
// cadenced by frequencyMinutes.
type MonitorScheduler struct {
	store    store.Store
	queue    queue.Service
	registry *queue.RepeatableRegistry
	interval time.Duration
	stopCh   chan struct{}
	running  bool
	mu       sync.Mutex
	log      logr.Logger
}

// NewMonitorScheduler creates a monitor scheduler over the shared repeatable
// registry.
func NewMonitorScheduler(st store.Store, q queue.Service, registry *queue.RepeatableRegistry, log logr.Logger) *MonitorScheduler {
	return &MonitorScheduler{
		store:    st,
		queue:    q,
		registry: registry,
		interval: 1 * time.Minute,
		stopCh:   make(chan struct{}),
		log:      log.WithName("monitor-scheduler"),
	}
}

// Start begins the periodic sync loop.
func (s *MonitorScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("starting monitor scheduler", "interval", s.interval)

	if err := s.Sync(ctx); err != nil {
		s.log.Error(err, "initial monitor sync failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.log.Error(err, "monitor sync failed")
			}
		}
	}
}

// Stop halts the scheduler loop.
func (s *MonitorScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

// SetInterval changes the sync interval. Takes effect after the next tick.
func (s *MonitorScheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// Sync reconciles enabled monitors into the repeatable registry. Disabled,
// paused and deleted monitors lose their entries.
func (s *MonitorScheduler) Sync(ctx context.Context) error {
	monitors, err := s.store.ListEnabledMonitors(ctx)
	if err != nil {
		return fmt.Errorf("list enabled monitors: %w", err)
	}

	desired := make(map[string]bool, len(monitors))
	for i := range monitors {
		m := &monitors[i]
		freq := m.FrequencyMinutes
		if freq < 1 {
			freq = 1
		}
		key := monitorKeyPrefix + m.ID
		desired[key] = true
		if err := s.registry.Upsert(queue.RepeatableEntry{
			Key:      key,
			Cronspec: fmt.Sprintf("@every %dm", freq),
			TaskType: queue.TaskTypeMonitorFire,
			Payload:  queue.MonitorFirePayload{MonitorID: m.ID},
			Queue:    queue.QueueMonitorScheduler,
			MaxRetry: 0,
			Timeout:  time.Minute,
		}); err != nil {
			s.log.Error(err, "repeatable upsert failed", "monitor", m.ID)
		}
	}

	for _, key := range s.registry.Keys() {
		if strings.HasPrefix(key, monitorKeyPrefix) && !desired[key] {
			s.registry.Delete(key)
			s.log.Info("removed stale monitor schedule", "key", key)
		}
	}
	return nil
}

// HandleFire processes one monitor fire task by enqueueing a check keyed by
// the monitor ID; a still-running previous check makes this fire a no-op.
func (s *MonitorScheduler) HandleFire(ctx context.Context, t *asynq.Task) error {
	var payload queue.MonitorFirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal monitor fire payload: %w", err)
	}
	log := s.log.WithValues("monitor", payload.MonitorID)

	m, err := s.store.GetMonitor(ctx, payload.MonitorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.registry.Delete(monitorKeyPrefix + payload.MonitorID)
			log.Info("monitor vanished, schedule removed")
			return nil
		}
		return err
	}
	if !m.Enabled || m.Status == store.MonitorStatusPaused || m.Status == store.MonitorStatusMaintenance {
		s.registry.Delete(monitorKeyPrefix + m.ID)
		log.Info("monitor not active, schedule removed", "status", m.Status)
		return nil
	}

	_, err = s.queue.Enqueue(ctx, queue.TaskTypeMonitorCheck, queue.MonitorCheckPayload{
		MonitorID:   m.ID,
		MonitorName: m.Name,
		MonitorType: m.Type,
		ScheduledAt: time.Now().UTC(),
	}, &queue.Options{
		Queue: queue.QueueMonitorExecution,
		// the stable task ID is the in-flight lock; retaining completed
		// checks would keep the ID reserved and block every later fire
		TaskID:   "monitor:check:" + m.ID,
		MaxRetry: checkMaxRetry,
		Timeout:  2 * time.Minute,
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateTask) {
			log.V(1).Info("previous check still queued, fire skipped")
			return nil
		}
		return fmt.Errorf("enqueue check for monitor %s: %w", m.ID, err)
	}
	return nil
}
