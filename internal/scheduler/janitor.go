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
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/supercheck-io/supercheck/internal/metrics"
	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/store"
)

const (
	// TTLs applied to orphan queue-backend keys.
	taskDataTTL    = 7 * 24 * time.Hour
	eventStreamTTL = 24 * time.Hour
	queueMetricTTL = 48 * time.Hour

	// completedCap bounds the per-queue completed set; archivedCap bounds
	// the per-queue archived set.
	completedCap = 1000
	archivedCap  = 5000

	scanBatch = 100
)

// Janitor periodically prunes stored history and puts TTLs on queue-backend
// keys the queue library leaves behind. Everything it does is best-effort.
type Janitor struct {
	store            store.Store
	redis            redis.UniversalClient
	interval         time.Duration
	resultRetention  time.Duration
	historyRetention time.Duration
	stopCh           chan struct{}
	running          bool
	mu               sync.Mutex
	log              logr.Logger
}

// NewJanitor creates a janitor. rdb may be nil, in which case only the
// database side is swept.
func NewJanitor(st store.Store, rdb redis.UniversalClient, resultRetention, historyRetention time.Duration, log logr.Logger) *Janitor {
	if resultRetention <= 0 {
		resultRetention = 30 * 24 * time.Hour
	}
	if historyRetention <= 0 {
		historyRetention = 90 * 24 * time.Hour
	}
	return &Janitor{
		store:            st,
		redis:            rdb,
		interval:         12 * time.Hour,
		resultRetention:  resultRetention,
		historyRetention: historyRetention,
		stopCh:           make(chan struct{}),
		log:              log.WithName("janitor"),
	}
}

// Start begins the janitor loop. The first sweep runs immediately.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.mu.Unlock()

	j.log.Info("starting janitor", "interval", j.interval)

	j.Sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-j.stopCh:
			return nil
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Stop halts the janitor loop.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		close(j.stopCh)
		j.running = false
	}
}

// SetInterval changes the sweep interval.
func (j *Janitor) SetInterval(d time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.interval = d
}

// Sweep runs one full pass: database retention pruning, then the
// queue-backend key sweep.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := j.store.PruneMonitorResults(ctx, now.Add(-j.resultRetention)); err != nil {
		j.log.Error(err, "monitor result pruning failed")
	} else if n > 0 {
		j.log.Info("pruned monitor results", "rows", n)
	}

	if n, err := j.store.PruneAlertHistory(ctx, now.Add(-j.historyRetention)); err != nil {
		j.log.Error(err, "alert history pruning failed")
	} else if n > 0 {
		j.log.Info("pruned alert history", "rows", n)
	}

	if j.redis != nil {
		j.sweepQueueKeys(ctx)
		j.trimTerminalSets(ctx)
	}
}

// sweepQueueKeys walks all asynq keys and puts a TTL on orphan data keys
// that have none, so a crashed worker can never leak task state forever.
func (j *Janitor) sweepQueueKeys(ctx context.Context) {
	var cursor uint64
	expired := 0
	for {
		keys, next, err := j.redis.Scan(ctx, cursor, "asynq:*", scanBatch).Result()
		if err != nil {
			j.log.Error(err, "queue key scan failed")
			return
		}
		for _, key := range keys {
			ttl := classifyKeyTTL(key)
			if ttl == 0 {
				continue
			}
			current, err := j.redis.TTL(ctx, key).Result()
			if err != nil || current != -1 {
				// already expiring, or gone
				continue
			}
			if err := j.redis.Expire(ctx, key, ttl).Err(); err != nil {
				j.log.Error(err, "ttl set failed", "key", key)
				continue
			}
			expired++
			metrics.JanitorKeysExpired.Inc()
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if expired > 0 {
		j.log.Info("applied ttls to orphan queue keys", "keys", expired)
	}
}

// trimTerminalSets caps the completed and archived sets of every known
// queue so terminal residue cannot grow without bound.
func (j *Janitor) trimTerminalSets(ctx context.Context) {
	queues := []string{
		queue.QueueJobScheduler,
		queue.QueueJobExecution,
		queue.QueueMonitorScheduler,
		queue.QueueMonitorExecution,
		queue.QueueTestExecution,
	}
	for _, q := range queues {
		j.trimSet(ctx, "asynq:{"+q+"}:completed", completedCap)
		j.trimSet(ctx, "asynq:{"+q+"}:archived", archivedCap)
	}
}

func (j *Janitor) trimSet(ctx context.Context, key string, limit int64) {
	size, err := j.redis.ZCard(ctx, key).Result()
	if err != nil || size <= limit {
		return
	}
	// scores are timestamps; drop the oldest beyond the cap
	removed, err := j.redis.ZRemRangeByRank(ctx, key, 0, size-limit-1).Result()
	if err != nil {
		j.log.Error(err, "terminal set trim failed", "key", key)
		return
	}
	if removed > 0 {
		j.log.Info("trimmed terminal set", "key", key, "removed", removed)
	}
}

// classifyKeyTTL decides the orphan TTL for a queue-backend key. Zero means
// the key is live metadata and must never expire.
func classifyKeyTTL(key string) time.Duration {
	switch {
	// live structural keys: queue lists, sets, leases, server metadata
	case strings.HasSuffix(key, ":pending"),
		strings.HasSuffix(key, ":active"),
		strings.HasSuffix(key, ":scheduled"),
		strings.HasSuffix(key, ":retry"),
		strings.HasSuffix(key, ":archived"),
		strings.HasSuffix(key, ":completed"),
		strings.HasSuffix(key, ":lease"),
		strings.HasSuffix(key, ":paused"),
		key == "asynq:queues",
		strings.HasPrefix(key, "asynq:servers"),
		strings.HasPrefix(key, "asynq:workers"),
		strings.HasPrefix(key, "asynq:schedulers"):
		return 0
	case strings.Contains(key, ":t:"):
		return taskDataTTL
	case strings.Contains(key, ":events"), strings.Contains(key, ":stream"):
		return eventStreamTTL
	case strings.Contains(key, ":processed"), strings.Contains(key, ":failed"):
		return queueMetricTTL
	default:
		return 0
	}
}
