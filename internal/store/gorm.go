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
	"fmt"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (no CGO required)
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements Store using GORM
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// ConnectionPoolConfig holds connection pool settings
type ConnectionPoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewGormStore creates a new GORM-based store
func NewGormStore(dialect string, dsn string) (*GormStore, error) {
	return NewGormStoreWithPool(dialect, dsn, ConnectionPoolConfig{})
}

// NewGormStoreWithPool creates a new GORM-based store with connection pool settings
func NewGormStoreWithPool(dialect string, dsn string, pool ConnectionPoolConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect != "sqlite" && (pool.MaxIdleConns > 0 || pool.MaxOpenConns > 0 || pool.ConnMaxLifetime > 0 || pool.ConnMaxIdleTime > 0) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB for pool config: %w", err)
		}
		if pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
		if pool.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
		}
	}

	return &GormStore{db: db, dialect: dialect}, nil
}

// Init initializes the store (creates tables via auto-migration)
func (s *GormStore) Init() error {
	return s.db.AutoMigrate(
		&Job{},
		&TestScript{},
		&Run{},
		&Monitor{},
		&MonitorResult{},
		&NotificationProvider{},
		&AlertHistory{},
		&Report{},
	)
}

// Close closes the store and releases resources
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the store is healthy
func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// Jobs
// =============================================================================

// CreateJob stores a new job, assigning an ID when absent
func (s *GormStore) CreateJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}
	for i := range job.Scripts {
		if job.Scripts[i].ID == "" {
			job.Scripts[i].ID = uuid.NewString()
		}
		job.Scripts[i].JobID = job.ID
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// GetJob returns a job by ID, or ErrNotFound
func (s *GormStore) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all jobs, newest first
func (s *GormStore) ListJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// ListSchedulableJobs returns enabled jobs carrying a cron expression. The
// scheduler still validates that the expression parses.
func (s *GormStore) ListSchedulableJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND cron_schedule IS NOT NULL AND cron_schedule != ''", true).
		Find(&jobs).Error
	return jobs, err
}

// UpdateJob saves job mutations. Status is not touched here; it belongs to
// the scheduler/dispatcher pair.
func (s *GormStore) UpdateJob(ctx context.Context, job *Job) error {
	return s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"name":          job.Name,
			"cron_schedule": job.CronSchedule,
			"enabled":       job.Enabled,
			"retry_limit":   job.RetryLimit,
			"alert_config":  job.AlertConfig,
		}).Error
}

// SetJobRunTimes updates lastRunAt/nextRunAt. Nil values are skipped.
func (s *GormStore) SetJobRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	updates := map[string]interface{}{}
	if lastRunAt != nil {
		updates["last_run_at"] = lastRunAt
	}
	if nextRunAt != nil {
		updates["next_run_at"] = nextRunAt
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteJob removes a job and, by ownership, its scripts and runs
func (s *GormStore) DeleteJob(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&TestScript{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id = ?", id).Delete(&Run{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Job{}, "id = ?", id).Error
	})
}

// GetScriptsForJob returns the job's scripts in order position
func (s *GormStore) GetScriptsForJob(ctx context.Context, jobID string) ([]TestScript, error) {
	var scripts []TestScript
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("order_position ASC").
		Find(&scripts).Error
	return scripts, err
}

// =============================================================================
// Runs
// =============================================================================

// CreateRun inserts a new running Run for the job and marks the job running,
// all inside one transaction. The row-locked existence check guarantees that
// two concurrent calls never both succeed.
func (s *GormStore) CreateRun(ctx context.Context, jobID, trigger string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Status:    RunStatusRunning,
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var running int64
		if err := tx.Model(&Run{}).
			Where("job_id = ? AND status = ?", jobID, RunStatusRunning).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return ErrConcurrentRun
		}

		if err := tx.Create(run).Error; err != nil {
			return err
		}

		return tx.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]interface{}{
			"status":      JobStatusRunning,
			"last_run_at": run.StartedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// FinishRun writes terminal state. Only rows still in the running state are
// updated, which makes repeated calls no-ops (applied=false). The duration is
// derived from the run's own started_at so it covers the full wall span of
// the run, queue wait included. The job row carries no timeout status, so a
// timed-out run marks its job failed.
func (s *GormStore) FinishRun(ctx context.Context, runID, status string, errorDetails, reportURL *string) (bool, error) {
	if status == RunStatusRunning {
		return false, fmt.Errorf("finish run %s: %q is not a terminal status", runID, status)
	}

	completedAt := time.Now().UTC()
	applied := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run Run
		if err := tx.First(&run, "id = ?", runID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		durationSecs := int64(completedAt.Sub(run.StartedAt).Seconds())
		if durationSecs < 0 {
			durationSecs = 0
		}

		res := tx.Model(&Run{}).
			Where("id = ? AND status = ?", runID, RunStatusRunning).
			Updates(map[string]interface{}{
				"status":        status,
				"completed_at":  completedAt,
				"duration_secs": durationSecs,
				"error_details": errorDetails,
				"report_url":    reportURL,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// already terminal
			return nil
		}
		applied = true

		jobStatus := status
		if status == RunStatusTimeout {
			jobStatus = JobStatusFailed
		}
		return tx.Model(&Job{}).Where("id = ?", run.JobID).
			Update("status", jobStatus).Error
	})
	return applied, err
}

// GetRun returns a run by ID, or ErrNotFound
func (s *GormStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRunStatusesForJob returns recent terminal statuses newest-first, for
// job alert thresholding
func (s *GormStore) GetRunStatusesForJob(ctx context.Context, jobID string, limit int) ([]string, error) {
	var statuses []string
	err := s.db.WithContext(ctx).Model(&Run{}).
		Where("job_id = ? AND status != ?", jobID, RunStatusRunning).
		Order("started_at DESC").
		Limit(limit).
		Pluck("status", &statuses).Error
	return statuses, err
}

// ListRunsForJob returns recent runs newest-first
func (s *GormStore) ListRunsForJob(ctx context.Context, jobID string, limit int) ([]Run, error) {
	var runs []Run
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// =============================================================================
// Reports
// =============================================================================

// UpsertReport inserts or updates report metadata keyed by (entityType, entityID)
func (s *GormStore) UpsertReport(ctx context.Context, entityType, entityID, status, artifactPath string, artifactURL *string) error {
	report := Report{
		EntityType:   entityType,
		EntityID:     entityID,
		Status:       status,
		ArtifactPath: artifactPath,
		ArtifactURL:  artifactURL,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "artifact_path", "artifact_url", "updated_at"}),
		}).Create(&report).Error
}

// GetReport returns report metadata for an entity, or ErrNotFound
func (s *GormStore) GetReport(ctx context.Context, entityType, entityID string) (*Report, error) {
	var report Report
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// =============================================================================
// Monitors
// =============================================================================

// CreateMonitor stores a new monitor. Heartbeat monitors get a token assigned.
func (s *GormStore) CreateMonitor(ctx context.Context, m *Monitor) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MonitorStatusPending
	}
	if m.Type == MonitorTypeHeartbeat && m.HeartbeatToken == nil {
		token := uuid.NewString()
		m.HeartbeatToken = &token
	}
	return s.db.WithContext(ctx).Create(m).Error
}

// GetMonitor returns a monitor by ID, or ErrNotFound
func (s *GormStore) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	var m Monitor
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMonitorByHeartbeatToken resolves the heartbeat ingress token
func (s *GormStore) GetMonitorByHeartbeatToken(ctx context.Context, token string) (*Monitor, error) {
	var m Monitor
	err := s.db.WithContext(ctx).First(&m, "heartbeat_token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMonitors returns all monitors
func (s *GormStore) ListMonitors(ctx context.Context) ([]Monitor, error) {
	var monitors []Monitor
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&monitors).Error
	return monitors, err
}

// ListEnabledMonitors returns enabled, non-paused monitors
func (s *GormStore) ListEnabledMonitors(ctx context.Context) ([]Monitor, error) {
	var monitors []Monitor
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND status NOT IN ?", true, []string{MonitorStatusPaused, MonitorStatusMaintenance}).
		Find(&monitors).Error
	return monitors, err
}

// UpdateMonitor applies a partial update
func (s *GormStore) UpdateMonitor(ctx context.Context, id string, patch MonitorPatch) error {
	updates := map[string]interface{}{}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.LastCheckAt != nil {
		updates["last_check_at"] = patch.LastCheckAt
	}
	if patch.LastStatusChangeAt != nil {
		updates["last_status_change_at"] = patch.LastStatusChangeAt
	}
	if patch.SSLLastCheckedAt != nil {
		updates["ssl_last_checked_at"] = patch.SSLLastCheckedAt
	}
	if patch.Config != nil {
		updates["config"] = *patch.Config
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&Monitor{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMonitorEnabled flips the enabled flag and status (pause/resume)
func (s *GormStore) SetMonitorEnabled(ctx context.Context, id string, enabled bool, status string) error {
	res := s.db.WithContext(ctx).Model(&Monitor{}).Where("id = ?", id).Updates(map[string]interface{}{
		"enabled": enabled,
		"status":  status,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMonitor removes a monitor and its results
func (s *GormStore) DeleteMonitor(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("monitor_id = ?", id).Delete(&MonitorResult{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Monitor{}, "id = ?", id).Error
	})
}

// =============================================================================
// Monitor results
// =============================================================================

// InsertMonitorResult stores one availability sample
func (s *GormStore) InsertMonitorResult(ctx context.Context, r *MonitorResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(r).Error
}

// RecentMonitorResults returns results newest-first
func (s *GormStore) RecentMonitorResults(ctx context.Context, monitorID string, limit int) ([]MonitorResult, error) {
	var results []MonitorResult
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("checked_at DESC").
		Limit(limit).
		Find(&results).Error
	return results, err
}

// PruneMonitorResults removes old samples
func (s *GormStore) PruneMonitorResults(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("checked_at < ?", olderThan).
		Delete(&MonitorResult{})
	return res.RowsAffected, res.Error
}

// =============================================================================
// Notification providers
// =============================================================================

// CreateProvider stores a new notification provider
func (s *GormStore) CreateProvider(ctx context.Context, p *NotificationProvider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(p).Error
}

// GetProvider returns a provider by ID, or ErrNotFound
func (s *GormStore) GetProvider(ctx context.Context, id string) (*NotificationProvider, error) {
	var p NotificationProvider
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProviders resolves a provider ID list. Missing IDs are simply absent
// from the result; the alert engine logs the skip.
func (s *GormStore) GetProviders(ctx context.Context, ids []string) ([]NotificationProvider, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var providers []NotificationProvider
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&providers).Error
	return providers, err
}

// ListProviders returns all providers
func (s *GormStore) ListProviders(ctx context.Context) ([]NotificationProvider, error) {
	var providers []NotificationProvider
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&providers).Error
	return providers, err
}

// =============================================================================
// Alert history
// =============================================================================

// InsertAlertHistory stores one alert fan-out record
func (s *GormStore) InsertAlertHistory(ctx context.Context, a *AlertHistory) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.SentAt.IsZero() {
		a.SentAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// LastAlertOfKind returns the most recent alert of a kind for a target, or
// nil when none exists. Used for cooldown checks.
func (s *GormStore) LastAlertOfKind(ctx context.Context, targetID, kind string) (*AlertHistory, error) {
	var a AlertHistory
	err := s.db.WithContext(ctx).
		Where("target_id = ? AND alert_type = ?", targetID, kind).
		Order("sent_at DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlertHistory returns alert history with pagination
func (s *GormStore) ListAlertHistory(ctx context.Context, q AlertHistoryQuery) ([]AlertHistory, int64, error) {
	var alerts []AlertHistory
	var total int64

	db := s.db.WithContext(ctx).Model(&AlertHistory{})
	if q.Since != nil {
		db = db.Where("sent_at >= ?", *q.Since)
	}
	if q.TargetKind != "" {
		db = db.Where("target_kind = ?", q.TargetKind)
	}
	if q.TargetID != "" {
		db = db.Where("target_id = ?", q.TargetID)
	}
	if q.Type != "" {
		db = db.Where("alert_type = ?", q.Type)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	if q.Offset > 0 {
		db = db.Offset(q.Offset)
	}

	err := db.Order("sent_at DESC").Find(&alerts).Error
	return alerts, total, err
}

// PruneAlertHistory removes old alert records
func (s *GormStore) PruneAlertHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("sent_at < ?", olderThan).
		Delete(&AlertHistory{})
	return res.RowsAffected, res.Error
}
