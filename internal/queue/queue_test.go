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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeatableRegistry_UpsertIsIdempotent(t *testing.T) {
	r := NewRepeatableRegistry()

	entry := RepeatableEntry{
		Key:      "job-1",
		Cronspec: "*/5 * * * *",
		TaskType: TaskTypeJobFire,
		Payload:  JobFirePayload{JobID: "job-1", RetryLimit: 2},
		Queue:    QueueJobScheduler,
	}
	require.NoError(t, r.Upsert(entry))
	require.NoError(t, r.Upsert(entry))
	assert.Equal(t, 1, r.Len())

	// Replacing the schedule keeps a single authoritative entry per key.
	entry.Cronspec = "*/10 * * * *"
	require.NoError(t, r.Upsert(entry))
	assert.Equal(t, 1, r.Len())

	configs, err := r.GetConfigs()
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "*/10 * * * *", configs[0].Cronspec)
}

func TestRepeatableRegistry_DeleteIsIdempotent(t *testing.T) {
	r := NewRepeatableRegistry()
	require.NoError(t, r.Upsert(RepeatableEntry{
		Key:      "mon-1",
		Cronspec: "@every 1m",
		TaskType: TaskTypeMonitorFire,
		Payload:  MonitorFirePayload{MonitorID: "mon-1"},
		Queue:    QueueMonitorScheduler,
	}))

	r.Delete("mon-1")
	r.Delete("mon-1")
	r.Delete("never-existed")
	assert.Equal(t, 0, r.Len())
}

func TestRepeatableRegistry_Validation(t *testing.T) {
	r := NewRepeatableRegistry()
	assert.Error(t, r.Upsert(RepeatableEntry{Cronspec: "@every 1m"}))
	assert.Error(t, r.Upsert(RepeatableEntry{Key: "x"}))
}

func TestRepeatableRegistry_ConfigsCarryPayload(t *testing.T) {
	r := NewRepeatableRegistry()
	require.NoError(t, r.Upsert(RepeatableEntry{
		Key:      "mon-2",
		Cronspec: "@every 5m",
		TaskType: TaskTypeMonitorFire,
		Payload:  MonitorFirePayload{MonitorID: "mon-2"},
		Queue:    QueueMonitorScheduler,
		MaxRetry: 3,
	}))

	configs, err := r.GetConfigs()
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, TaskTypeMonitorFire, configs[0].Task.Type())

	var payload MonitorFirePayload
	require.NoError(t, json.Unmarshal(configs[0].Task.Payload(), &payload))
	assert.Equal(t, "mon-2", payload.MonitorID)
}

func TestRepeatableRegistry_KeysSorted(t *testing.T) {
	r := NewRepeatableRegistry()
	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, r.Upsert(RepeatableEntry{Key: key, Cronspec: "@every 1m", TaskType: TaskTypeJobFire}))
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Keys())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(1))
	assert.Equal(t, 10*time.Second, Backoff(2))
	assert.Equal(t, 20*time.Second, Backoff(3))
	assert.Equal(t, 5*time.Second, Backoff(0))
	assert.Equal(t, 10*time.Minute, Backoff(20))
}

func TestBuildOptions_NilIsEmpty(t *testing.T) {
	assert.Empty(t, buildOptions(nil))
}
