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

package store

import (
	"context"
	"errors"
	"time"
)

// ErrConcurrentRun is returned by CreateRun when the job already has a run
// in the running state. Exactly one of two concurrent CreateRun calls for
// the same job succeeds.
var ErrConcurrentRun = errors.New("job already has a running run")

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// AlertHistoryQuery contains parameters for querying alert history.
type AlertHistoryQuery struct {
	Limit      int
	Offset     int
	Since      *time.Time
	TargetKind string
	TargetID   string
	Type       string
}

// Store defines transactional access to the persistent entities.
type Store interface {
	// Init initializes the store (runs migrations).
	Init() error

	// Close closes the store and releases resources.
	Close() error

	// Health checks if the store is reachable.
	Health(ctx context.Context) error

	// Jobs
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	ListSchedulableJobs(ctx context.Context) ([]Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	SetJobRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	DeleteJob(ctx context.Context, id string) error
	GetScriptsForJob(ctx context.Context, jobID string) ([]TestScript, error)

	// Runs
	//
	// CreateRun atomically guards against a second concurrent run for the
	// same job; it returns ErrConcurrentRun if one is already running.
	CreateRun(ctx context.Context, jobID, trigger string) (*Run, error)
	// FinishRun writes the terminal state exactly once; calls against an
	// already-terminal run are no-ops and report applied=false. The stored
	// duration is completed_at minus the run's started_at.
	FinishRun(ctx context.Context, runID, status string, errorDetails, reportURL *string) (applied bool, err error)
	GetRun(ctx context.Context, id string) (*Run, error)
	GetRunStatusesForJob(ctx context.Context, jobID string, limit int) ([]string, error)
	ListRunsForJob(ctx context.Context, jobID string, limit int) ([]Run, error)

	// Reports
	UpsertReport(ctx context.Context, entityType, entityID, status, artifactPath string, artifactURL *string) error
	GetReport(ctx context.Context, entityType, entityID string) (*Report, error)

	// Monitors
	CreateMonitor(ctx context.Context, m *Monitor) error
	GetMonitor(ctx context.Context, id string) (*Monitor, error)
	GetMonitorByHeartbeatToken(ctx context.Context, token string) (*Monitor, error)
	ListMonitors(ctx context.Context) ([]Monitor, error)
	ListEnabledMonitors(ctx context.Context) ([]Monitor, error)
	UpdateMonitor(ctx context.Context, id string, patch MonitorPatch) error
	SetMonitorEnabled(ctx context.Context, id string, enabled bool, status string) error
	DeleteMonitor(ctx context.Context, id string) error

	// Monitor results
	InsertMonitorResult(ctx context.Context, r *MonitorResult) error
	RecentMonitorResults(ctx context.Context, monitorID string, limit int) ([]MonitorResult, error)
	PruneMonitorResults(ctx context.Context, olderThan time.Time) (int64, error)

	// Notification providers
	CreateProvider(ctx context.Context, p *NotificationProvider) error
	GetProvider(ctx context.Context, id string) (*NotificationProvider, error)
	GetProviders(ctx context.Context, ids []string) ([]NotificationProvider, error)
	ListProviders(ctx context.Context) ([]NotificationProvider, error)

	// Alert history
	InsertAlertHistory(ctx context.Context, a *AlertHistory) error
	LastAlertOfKind(ctx context.Context, targetID, kind string) (*AlertHistory, error)
	ListAlertHistory(ctx context.Context, q AlertHistoryQuery) ([]AlertHistory, int64, error)
	PruneAlertHistory(ctx context.Context, olderThan time.Time) (int64, error)
}
