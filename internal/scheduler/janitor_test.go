package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supercheck-io/supercheck/internal/store"
)

func TestJanitor_PrunesDatabaseRetention(t *testing.T) {
	st, err := store.NewGormStore("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, st.Init())
	defer st.Close()
	ctx := context.Background()

	m := &store.Monitor{Name: "api", Type: store.MonitorTypeHTTP, Target: "https://api.internal", FrequencyMinutes: 1, Enabled: true}
	require.NoError(t, st.CreateMonitor(ctx, m))
	require.NoError(t, st.InsertMonitorResult(ctx, &store.MonitorResult{
		MonitorID: m.ID, Status: store.ResultStatusUp, IsUp: true,
		CheckedAt: time.Now().UTC().Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, st.InsertMonitorResult(ctx, &store.MonitorResult{
		MonitorID: m.ID, Status: store.ResultStatusUp, IsUp: true,
		CheckedAt: time.Now().UTC(),
	}))

	j := NewJanitor(st, nil, 30*24*time.Hour, 90*24*time.Hour, logr.Discard())
	j.Sweep(ctx)

	results, err := st.RecentMonitorResults(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestClassifyKeyTTL(t *testing.T) {
	// structural keys never expire
	assert.Equal(t, time.Duration(0), classifyKeyTTL("asynq:{job-execution}:pending"))
	assert.Equal(t, time.Duration(0), classifyKeyTTL("asynq:{job-execution}:active"))
	assert.Equal(t, time.Duration(0), classifyKeyTTL("asynq:queues"))
	assert.Equal(t, time.Duration(0), classifyKeyTTL("asynq:servers:{host:1:abc}"))

	// orphan task data
	assert.Equal(t, taskDataTTL, classifyKeyTTL("asynq:{job-execution}:t:0c7d"))

	// event streams and metrics
	assert.Equal(t, eventStreamTTL, classifyKeyTTL("asynq:{monitor-execution}:events:123"))
	assert.Equal(t, queueMetricTTL, classifyKeyTTL("asynq:{job-execution}:processed:2026-08-24"))
	assert.Equal(t, queueMetricTTL, classifyKeyTTL("asynq:{job-execution}:failed:2026-08-24"))

	// unknown keys left alone
	assert.Equal(t, time.Duration(0), classifyKeyTTL("asynq:unrecognized"))
}
