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

// Package capacity implements admission control for execution workers.
package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

// ErrCapacityExceeded is returned by Admit when the execution slots are
// full. Handlers return it unwrapped so the queue server can requeue the
// task with a short flat delay instead of counting a failure.
var ErrCapacityExceeded = errors.New("execution capacity exceeded")

// ErrQueueFull is returned by CheckQueued when the waiting backlog exceeds
// the queued capacity. Best-effort; enqueue boundaries surface it as a user
// error.
var ErrQueueFull = errors.New("execution queue is full")

// Counter exposes the queue counts the gate consults.
type Counter interface {
	ActiveCount(ctx context.Context, queues ...string) (int, error)
	PendingCount(ctx context.Context, queues ...string) (int, error)
}

// Gate admits executions while active work stays below runningCapacity.
type Gate struct {
	counter         Counter
	queues          []string
	runningCapacity int
	queuedCapacity  int
	log             logr.Logger
}

// NewGate creates a gate over the given execution queues.
func NewGate(counter Counter, queues []string, runningCapacity, queuedCapacity int, log logr.Logger) *Gate {
	if runningCapacity <= 0 {
		runningCapacity = 5
	}
	if queuedCapacity <= 0 {
		queuedCapacity = 10
	}
	return &Gate{
		counter:         counter,
		queues:          queues,
		runningCapacity: runningCapacity,
		queuedCapacity:  queuedCapacity,
		log:             log.WithName("capacity"),
	}
}

// Admit returns nil when an execution slot is available. When the count is
// unavailable the gate admits; stalling all executions on an introspection
// failure is worse than briefly exceeding capacity.
func (g *Gate) Admit(ctx context.Context) error {
	active, err := g.counter.ActiveCount(ctx, g.queues...)
	if err != nil {
		g.log.Error(err, "active count unavailable, admitting")
		return nil
	}
	if active >= g.runningCapacity {
		g.log.V(1).Info("execution deferred", "active", active, "capacity", g.runningCapacity)
		return fmt.Errorf("%w: %d active, capacity %d", ErrCapacityExceeded, active, g.runningCapacity)
	}
	return nil
}

// CheckQueued returns ErrQueueFull when the waiting backlog is at capacity.
// Count failures admit, same as Admit.
func (g *Gate) CheckQueued(ctx context.Context) error {
	pending, err := g.counter.PendingCount(ctx, g.queues...)
	if err != nil {
		g.log.Error(err, "pending count unavailable, admitting")
		return nil
	}
	if pending >= g.queuedCapacity {
		return fmt.Errorf("%w: %d queued, capacity %d", ErrQueueFull, pending, g.queuedCapacity)
	}
	return nil
}
