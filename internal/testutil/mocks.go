// Package testutil provides shared test utilities and mock implementations
// for use across the supercheck test suites.
package testutil

import (
	"context"
	"sync"

	"github.com/supercheck-io/supercheck/internal/queue"
)

// EnqueuedTask records one Enqueue call on MockQueue.
type EnqueuedTask struct {
	Typename string
	Payload  interface{}
	Opts     *queue.Options
}

// MockQueue is a configurable mock implementation of queue.Service for
// testing. All fields are optional - set only what your test needs.
// Thread-safe for concurrent access in scheduler tests.
type MockQueue struct {
	mu sync.Mutex

	// Counts returned by the inspector methods
	Active  int
	Pending int

	// Error injection - set these to simulate errors
	EnqueueError      error
	ActiveCountError  error
	PendingCountError error

	// DuplicateFor rejects enqueues whose TaskID is in the set, simulating
	// an in-flight task with the same ID
	DuplicateFor map[string]bool

	// Call tracking - these record what was called for verification
	Enqueued []EnqueuedTask
}

// Enqueue implements queue.Service
func (m *MockQueue) Enqueue(_ context.Context, typename string, payload interface{}, opts *queue.Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueError != nil {
		return "", m.EnqueueError
	}
	if opts != nil && m.DuplicateFor[opts.TaskID] {
		return "", queue.ErrDuplicateTask
	}
	m.Enqueued = append(m.Enqueued, EnqueuedTask{Typename: typename, Payload: payload, Opts: opts})
	id := ""
	if opts != nil {
		id = opts.TaskID
	}
	return id, nil
}

// ActiveCount implements queue.Service
func (m *MockQueue) ActiveCount(_ context.Context, _ ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ActiveCountError != nil {
		return 0, m.ActiveCountError
	}
	return m.Active, nil
}

// PendingCount implements queue.Service
func (m *MockQueue) PendingCount(_ context.Context, _ ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PendingCountError != nil {
		return 0, m.PendingCountError
	}
	return m.Pending, nil
}

// Close implements queue.Service
func (m *MockQueue) Close() error { return nil }

// Tasks returns a snapshot of the recorded enqueues.
func (m *MockQueue) Tasks() []EnqueuedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EnqueuedTask, len(m.Enqueued))
	copy(out, m.Enqueued)
	return out
}

// TasksOfType returns the recorded enqueues with the given type name.
func (m *MockQueue) TasksOfType(typename string) []EnqueuedTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EnqueuedTask
	for _, t := range m.Enqueued {
		if t.Typename == typename {
			out = append(out, t)
		}
	}
	return out
}

// Reset clears the recorded enqueues.
func (m *MockQueue) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Enqueued = nil
}
