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
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// RepeatableEntry describes one recurring enqueue. Key is the authoritative
// identity: upserting the same key replaces the previous entry.
type RepeatableEntry struct {
	Key       string
	Cronspec  string
	TaskType  string
	Payload   interface{}
	Queue     string
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// RepeatableRegistry holds the authoritative set of repeatable entries and
// feeds them to an asynq.PeriodicTaskManager as its config provider. Upsert
// and Delete are idempotent; the manager converges the scheduler to the
// registry on its sync interval.
type RepeatableRegistry struct {
	mu      sync.RWMutex
	entries map[string]RepeatableEntry
}

// NewRepeatableRegistry creates an empty registry.
func NewRepeatableRegistry() *RepeatableRegistry {
	return &RepeatableRegistry{entries: make(map[string]RepeatableEntry)}
}

// Upsert installs or replaces the entry for its key.
func (r *RepeatableRegistry) Upsert(e RepeatableEntry) error {
	if e.Key == "" {
		return fmt.Errorf("repeatable entry without key")
	}
	if e.Cronspec == "" {
		return fmt.Errorf("repeatable entry %s without cronspec", e.Key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Key] = e
	return nil
}

// Delete removes the entry for the key. Deleting an absent key is a no-op.
func (r *RepeatableRegistry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// Keys returns the registered keys, sorted.
func (r *RepeatableRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered entries.
func (r *RepeatableRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// GetConfigs implements asynq.PeriodicTaskConfigProvider.
func (r *RepeatableRegistry) GetConfigs() ([]*asynq.PeriodicTaskConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]*asynq.PeriodicTaskConfig, 0, len(r.entries))
	for _, e := range r.entries {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for repeatable %s: %w", e.Key, err)
		}
		opts := []asynq.Option{asynq.MaxRetry(e.MaxRetry)}
		if e.Queue != "" {
			opts = append(opts, asynq.Queue(e.Queue))
		}
		if e.Timeout > 0 {
			opts = append(opts, asynq.Timeout(e.Timeout))
		}
		if e.Retention > 0 {
			opts = append(opts, asynq.Retention(e.Retention))
		}
		configs = append(configs, &asynq.PeriodicTaskConfig{
			Cronspec: e.Cronspec,
			Task:     asynq.NewTask(e.TaskType, data),
			Opts:     opts,
		})
	}
	return configs, nil
}

// NewPeriodicTaskManager wires the registry to asynq's periodic scheduler.
// The manager re-reads the registry every syncInterval, so upserts and
// deletes take effect without restarts.
func NewPeriodicTaskManager(redisOpt asynq.RedisClientOpt, registry *RepeatableRegistry, syncInterval time.Duration) (*asynq.PeriodicTaskManager, error) {
	return asynq.NewPeriodicTaskManager(asynq.PeriodicTaskManagerOpts{
		RedisConnOpt:               redisOpt,
		PeriodicTaskConfigProvider: registry,
		SyncInterval:               syncInterval,
	})
}
