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

// Package queue provides the durable task queue on top of asynq. Tasks carry
// JSON payloads; uniqueness is enforced through task IDs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrDuplicateTask is returned by Enqueue when a task with the same ID is
// already pending or in flight. Call sites treat it as a silent no-op.
var ErrDuplicateTask = errors.New("task with this id already enqueued")

// Options controls enqueue behavior. The zero value enqueues to the default
// queue with server-side retry defaults.
type Options struct {
	// Queue selects the target queue; empty means asynq's default.
	Queue string
	// TaskID, when set, makes the enqueue idempotent: a second task with
	// the same ID is rejected until the first completes and its retention
	// expires.
	TaskID string
	// Delay postpones visibility.
	Delay time.Duration
	// MaxRetry caps retry attempts after the first execution.
	MaxRetry int
	// Retention keeps the completed task around for inspection.
	Retention time.Duration
	// Timeout bounds a single execution attempt.
	Timeout time.Duration
}

// Service enqueues tasks and exposes queue introspection.
type Service interface {
	Enqueue(ctx context.Context, typename string, payload interface{}, opts *Options) (string, error)
	ActiveCount(ctx context.Context, queues ...string) (int, error)
	PendingCount(ctx context.Context, queues ...string) (int, error)
	Close() error
}

// AsynqService implements Service on an asynq client and inspector sharing
// one Redis connection config.
type AsynqService struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewAsynqService creates a queue service against the given Redis backend.
func NewAsynqService(redisOpt asynq.RedisClientOpt) *AsynqService {
	return &AsynqService{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
	}
}

// Enqueue marshals the payload and submits the task. Returns the task ID.
func (s *AsynqService) Enqueue(ctx context.Context, typename string, payload interface{}, opts *Options) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", typename, err)
	}

	task := asynq.NewTask(typename, data)
	info, err := s.client.EnqueueContext(ctx, task, buildOptions(opts)...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", ErrDuplicateTask
		}
		return "", fmt.Errorf("enqueue %s: %w", typename, err)
	}
	return info.ID, nil
}

// buildOptions translates Options into asynq options.
func buildOptions(opts *Options) []asynq.Option {
	if opts == nil {
		return nil
	}
	var out []asynq.Option
	if opts.Queue != "" {
		out = append(out, asynq.Queue(opts.Queue))
	}
	if opts.TaskID != "" {
		out = append(out, asynq.TaskID(opts.TaskID))
	}
	if opts.Delay > 0 {
		out = append(out, asynq.ProcessIn(opts.Delay))
	}
	if opts.MaxRetry >= 0 {
		out = append(out, asynq.MaxRetry(opts.MaxRetry))
	}
	if opts.Retention > 0 {
		out = append(out, asynq.Retention(opts.Retention))
	}
	if opts.Timeout > 0 {
		out = append(out, asynq.Timeout(opts.Timeout))
	}
	return out
}

// ActiveCount returns the combined number of in-flight tasks across the
// given queues. A missing queue counts as zero.
func (s *AsynqService) ActiveCount(ctx context.Context, queues ...string) (int, error) {
	return s.count(queues, func(info *asynq.QueueInfo) int { return info.Active })
}

// PendingCount returns the combined number of queued-but-not-started tasks.
func (s *AsynqService) PendingCount(ctx context.Context, queues ...string) (int, error) {
	return s.count(queues, func(info *asynq.QueueInfo) int { return info.Pending + info.Scheduled + info.Retry })
}

func (s *AsynqService) count(queues []string, pick func(*asynq.QueueInfo) int) (int, error) {
	total := 0
	for _, q := range queues {
		info, err := s.inspector.GetQueueInfo(q)
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			return 0, fmt.Errorf("inspect queue %s: %w", q, err)
		}
		total += pick(info)
	}
	return total, nil
}

// Close releases the underlying connections.
func (s *AsynqService) Close() error {
	cerr := s.client.Close()
	ierr := s.inspector.Close()
	if cerr != nil {
		return cerr
	}
	return ierr
}
