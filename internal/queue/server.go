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

package queue

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/go-logr/logr"
	"github.com/hibiken/asynq"

	"github.com/supercheck-io/supercheck/internal/capacity"
)

// CapacityRetryDelay is the flat requeue delay for capacity-gated tasks.
const CapacityRetryDelay = 5 * time.Second

// BackoffBase is the base of the exponential retry backoff for real
// failures.
const BackoffBase = 5 * time.Second

// ServerConfig sizes the worker pool.
type ServerConfig struct {
	// ExecutionConcurrency bounds job/test execution workers.
	ExecutionConcurrency int
	// MonitorConcurrency bounds monitor check workers.
	MonitorConcurrency int
	// ShutdownTimeout bounds the in-flight drain on Stop.
	ShutdownTimeout time.Duration
}

// NewServer builds the asynq worker server. Capacity gates retry on a flat
// short delay and never count as failures; everything else backs off
// exponentially from BackoffBase.
func NewServer(redisOpt asynq.RedisClientOpt, cfg ServerConfig, log logr.Logger) *asynq.Server {
	if cfg.ExecutionConcurrency <= 0 {
		cfg.ExecutionConcurrency = 1
	}
	if cfg.MonitorConcurrency <= 0 {
		cfg.MonitorConcurrency = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.ExecutionConcurrency + cfg.MonitorConcurrency + 2,
		Queues: map[string]int{
			QueueJobScheduler:     2,
			QueueMonitorScheduler: 2,
			QueueMonitorExecution: cfg.MonitorConcurrency,
			QueueJobExecution:     cfg.ExecutionConcurrency,
			QueueTestExecution:    cfg.ExecutionConcurrency,
		},
		ShutdownTimeout: cfg.ShutdownTimeout,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			if errors.Is(err, capacity.ErrCapacityExceeded) {
				return CapacityRetryDelay
			}
			return Backoff(n)
		},
		IsFailure: func(err error) bool {
			return !errors.Is(err, capacity.ErrCapacityExceeded)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			if errors.Is(err, capacity.ErrCapacityExceeded) {
				return
			}
			log.Error(err, "task failed", "type", task.Type())
		}),
		Logger: asynqLogger{log: log.WithName("asynq")},
	})
}

// Backoff returns the exponential retry delay for the nth retry.
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Duration(math.Pow(2, float64(n-1))) * BackoffBase
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

// asynqLogger adapts logr to asynq's logger interface.
type asynqLogger struct {
	log logr.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.V(2).Info("asynq", "msg", args) }
func (l asynqLogger) Info(args ...interface{})  { l.log.V(1).Info("asynq", "msg", args) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Info("asynq warning", "msg", args) }
func (l asynqLogger) Error(args ...interface{}) {
	l.log.Error(nil, "asynq error", "msg", args)
}
func (l asynqLogger) Fatal(args ...interface{}) {
	l.log.Error(nil, "asynq fatal", "msg", args)
}
