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

// Package scheduler reconciles jobs and monitors into repeatable queue
// entries and processes their fire tasks.
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

	"github.com/supercheck-io/supercheck/internal/metrics"
	"github.com/supercheck-io/supercheck/internal/planner"
	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/store"
)

const (
	jobKeyPrefix     = "job:"
	monitorKeyPrefix = "monitor:"

	// executionRetention keeps completed execution tasks inspectable. Run
	// IDs are never reused, so retention cannot block a later enqueue.
	executionRetention = 24 * time.Hour
	// executionTimeout bounds one execution attempt at the queue level,
	// above the executor's own process timeout.
	executionTimeout = 30 * time.Minute
)

// JobScheduler keeps one repeatable fire entry per runnable cron job and
// turns fires into Run rows plus execution tasks.
type JobScheduler struct {
	store    store.Store
	queue    queue.Service
	registry *queue.RepeatableRegistry
	interval time.Duration
	stopCh   chan struct{}
	running  bool
	mu       sync.Mutex
	log      logr.Logger
}

// NewJobScheduler creates a job scheduler over the shared repeatable
// registry.
func NewJobScheduler(st store.Store, q queue.Service, registry *queue.RepeatableRegistry, log logr.Logger) *JobScheduler {
	return &JobScheduler{
		store:    st,
		queue:    q,
		registry: registry,
		interval: 1 * time.Minute,
		stopCh:   make(chan struct{}),
		log:      log.WithName("job-scheduler"),
	}
}

// Start begins the periodic sync loop. The first sync runs immediately so
// restarts converge without waiting an interval.
func (s *JobScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("starting job scheduler", "interval", s.interval)

	if err := s.Sync(ctx); err != nil {
		s.log.Error(err, "initial job sync failed")
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
				s.log.Error(err, "job sync failed")
			}
		}
	}
}

// Stop halts the scheduler loop.
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

// SetInterval changes the sync interval. Takes effect after the next tick.
func (s *JobScheduler) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// Sync reconciles the job table into the repeatable registry: one entry per
// enabled job with a valid cron schedule, leftovers removed.
func (s *JobScheduler) Sync(ctx context.Context) error {
	jobs, err := s.store.ListSchedulableJobs(ctx)
	if err != nil {
		return fmt.Errorf("list schedulable jobs: %w", err)
	}

	desired := make(map[string]bool, len(jobs))
	now := time.Now().UTC()
	for i := range jobs {
		job := &jobs[i]
		spec := strings.TrimSpace(*job.CronSchedule)
		if err := planner.Validate(spec); err != nil {
			s.log.Info("skipping job with invalid cron schedule", "job", job.ID, "schedule", spec)
			continue
		}
		key := jobKeyPrefix + job.ID
		desired[key] = true
		if err := s.registry.Upsert(queue.RepeatableEntry{
			Key:      key,
			Cronspec: spec,
			TaskType: queue.TaskTypeJobFire,
			Payload:  queue.JobFirePayload{JobID: job.ID, RetryLimit: job.RetryLimit},
			Queue:    queue.QueueJobScheduler,
			MaxRetry: 0,
			Timeout:  time.Minute,
		}); err != nil {
			s.log.Error(err, "repeatable upsert failed", "job", job.ID)
			continue
		}
		// cosmetic; the registry is authoritative for actual firing
		if next, err := planner.NextFire(spec, now); err == nil {
			if err := s.store.SetJobRunTimes(ctx, job.ID, nil, &next); err != nil {
				s.log.Error(err, "next run time update failed", "job", job.ID)
			}
		}
	}

	for _, key := range s.registry.Keys() {
		if strings.HasPrefix(key, jobKeyPrefix) && !desired[key] {
			s.registry.Delete(key)
			s.log.Info("removed stale job schedule", "key", key)
		}
	}
	return nil
}

// HandleFire processes one job fire task: create the Run row under the
// single-running-run guard and enqueue the execution keyed by the run ID.
func (s *JobScheduler) HandleFire(ctx context.Context, t *asynq.Task) error {
	var payload queue.JobFirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal job fire payload: %w", err)
	}
	log := s.log.WithValues("job", payload.JobID)

	job, err := s.store.GetJob(ctx, payload.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.registry.Delete(jobKeyPrefix + payload.JobID)
			log.Info("job vanished, schedule removed")
			return nil
		}
		return err
	}
	if !job.Enabled || !job.HasSchedule() {
		s.registry.Delete(jobKeyPrefix + job.ID)
		log.Info("job no longer schedulable, schedule removed")
		return nil
	}

	run, err := s.store.CreateRun(ctx, job.ID, store.TriggerSchedule)
	if err != nil {
		if errors.Is(err, store.ErrConcurrentRun) {
			metrics.RunsSkipped.Inc()
			log.Info("previous run still in flight, fire skipped")
			// the fire still consumes this slot
			s.advanceNextRun(ctx, job, log)
			return nil
		}
		return fmt.Errorf("create run for job %s: %w", job.ID, err)
	}

	s.advanceNextRun(ctx, job, log)

	_, err = s.queue.Enqueue(ctx, queue.TaskTypeJobExecute, queue.JobExecutePayload{
		JobID:   job.ID,
		RunID:   run.ID,
		Trigger: store.TriggerSchedule,
	}, &queue.Options{
		Queue:     queue.QueueJobExecution,
		TaskID:    run.ID,
		MaxRetry:  job.RetryLimit,
		Retention: executionRetention,
		Timeout:   executionTimeout,
	})
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateTask) {
			return nil
		}
		// the run would otherwise sit in running forever
		msg := "execution enqueue failed: " + err.Error()
		if _, ferr := s.store.FinishRun(ctx, run.ID, store.RunStatusError, &msg, nil); ferr != nil {
			log.Error(ferr, "orphaned run cleanup failed", "run", run.ID)
		}
		return fmt.Errorf("enqueue execution for run %s: %w", run.ID, err)
	}
	log.V(1).Info("execution enqueued", "run", run.ID)
	return nil
}

// advanceNextRun recomputes next_run_at from the cron expression at fire
// time, whether or not the fire produced a run.
func (s *JobScheduler) advanceNextRun(ctx context.Context, job *store.Job, log logr.Logger) {
	next, err := planner.NextFire(strings.TrimSpace(*job.CronSchedule), time.Now().UTC())
	if err != nil {
		return
	}
	if err := s.store.SetJobRunTimes(ctx, job.ID, nil, &next); err != nil {
		log.Error(err, "next run time update failed")
	}
}
