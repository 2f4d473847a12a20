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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// StoreTestSuite runs all store tests against SQLite
type StoreTestSuite struct {
	suite.Suite
	store *GormStore
	ctx   context.Context
}

func (s *StoreTestSuite) SetupTest() {
	var err error
	s.store, err = NewGormStore("sqlite", "file::memory:?cache=shared")
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.store.Init())
	s.ctx = context.Background()
}

func (s *StoreTestSuite) TearDownTest() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) createJob(name string, cron *string) *Job {
	job := &Job{Name: name, CronSchedule: cron, Enabled: true, RetryLimit: 1}
	require.NoError(s.T(), s.store.CreateJob(s.ctx, job))
	return job
}

// =============================================================================
// Job tests
// =============================================================================

func (s *StoreTestSuite) TestCreateJob_AssignsIDAndDefaults() {
	cron := "*/5 * * * *"
	job := s.createJob("checkout-flow", &cron)

	require.NotEmpty(s.T(), job.ID)
	got, err := s.store.GetJob(s.ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), JobStatusPending, got.Status)
	assert.True(s.T(), got.Runnable())
}

func (s *StoreTestSuite) TestGetJob_NotFound() {
	_, err := s.store.GetJob(s.ctx, "missing-id")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestCreateJob_WithScripts() {
	cron := "0 * * * *"
	job := &Job{
		Name:         "suite",
		CronSchedule: &cron,
		Enabled:      true,
		Scripts: []TestScript{
			{Name: "login", Script: "step one", OrderPosition: 0},
			{Name: "purchase", Script: "step two", OrderPosition: 1},
		},
	}
	require.NoError(s.T(), s.store.CreateJob(s.ctx, job))

	scripts, err := s.store.GetScriptsForJob(s.ctx, job.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), scripts, 2)
	assert.Equal(s.T(), "login", scripts[0].Name)
	assert.Equal(s.T(), "purchase", scripts[1].Name)
}

func (s *StoreTestSuite) TestListSchedulableJobs_FiltersDisabledAndUnscheduled() {
	cron := "*/10 * * * *"
	s.createJob("scheduled", &cron)
	s.createJob("manual-only", nil)

	disabled := &Job{Name: "disabled", CronSchedule: &cron, Enabled: false}
	require.NoError(s.T(), s.store.CreateJob(s.ctx, disabled))

	jobs, err := s.store.ListSchedulableJobs(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), jobs, 1)
	assert.Equal(s.T(), "scheduled", jobs[0].Name)
}

func (s *StoreTestSuite) TestSetJobRunTimes() {
	job := s.createJob("timed", nil)

	next := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)
	require.NoError(s.T(), s.store.SetJobRunTimes(s.ctx, job.ID, nil, &next))

	got, err := s.store.GetJob(s.ctx, job.ID)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), got.NextRunAt)
	assert.WithinDuration(s.T(), next, *got.NextRunAt, time.Second)
	assert.Nil(s.T(), got.LastRunAt)
}

func (s *StoreTestSuite) TestDeleteJob_CascadesScriptsAndRuns() {
	job := &Job{
		Name:    "doomed",
		Enabled: true,
		Scripts: []TestScript{{Name: "only", Script: "x"}},
	}
	require.NoError(s.T(), s.store.CreateJob(s.ctx, job))
	_, err := s.store.CreateRun(s.ctx, job.ID, TriggerManual)
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.store.DeleteJob(s.ctx, job.ID))

	_, err = s.store.GetJob(s.ctx, job.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)
	scripts, err := s.store.GetScriptsForJob(s.ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), scripts)
	runs, err := s.store.ListRunsForJob(s.ctx, job.ID, 10)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), runs)
}

// =============================================================================
// Run tests
// =============================================================================

func (s *StoreTestSuite) TestCreateRun_MarksJobRunning() {
	job := s.createJob("runner", nil)

	run, err := s.store.CreateRun(s.ctx, job.ID, TriggerManual)
	require.NoError(s.T(), err)
	require.NotEmpty(s.T(), run.ID)
	assert.Equal(s.T(), RunStatusRunning, run.Status)
	assert.False(s.T(), run.Terminal())

	got, err := s.store.GetJob(s.ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), JobStatusRunning, got.Status)
	require.NotNil(s.T(), got.LastRunAt)
}

func (s *StoreTestSuite) TestCreateRun_RejectsSecondConcurrentRun() {
	job := s.createJob("exclusive", nil)

	_, err := s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
	require.NoError(s.T(), err)

	_, err = s.store.CreateRun(s.ctx, job.ID, TriggerManual)
	assert.ErrorIs(s.T(), err, ErrConcurrentRun)
}

func (s *StoreTestSuite) TestCreateRun_AllowedAfterFinish() {
	job := s.createJob("serial", nil)

	run, err := s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
	require.NoError(s.T(), err)
	applied, err := s.store.FinishRun(s.ctx, run.ID, RunStatusPassed, nil, nil)
	require.NoError(s.T(), err)
	require.True(s.T(), applied)

	_, err = s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
	assert.NoError(s.T(), err)
}

func (s *StoreTestSuite) TestCreateRun_UnknownJob() {
	_, err := s.store.CreateRun(s.ctx, "no-such-job", TriggerManual)
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestFinishRun_WritesTerminalStateOnce() {
	job := s.createJob("finisher", nil)
	run, err := s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
	require.NoError(s.T(), err)

	errDetails := "element not found"
	applied, err := s.store.FinishRun(s.ctx, run.ID, RunStatusFailed, &errDetails, nil)
	require.NoError(s.T(), err)
	assert.True(s.T(), applied)

	// Second finish is a no-op and must not overwrite the first outcome.
	applied, err = s.store.FinishRun(s.ctx, run.ID, RunStatusPassed, nil, nil)
	require.NoError(s.T(), err)
	assert.False(s.T(), applied)

	got, err := s.store.GetRun(s.ctx, run.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), RunStatusFailed, got.Status)
	require.NotNil(s.T(), got.ErrorDetails)
	assert.Equal(s.T(), "element not found", *got.ErrorDetails)
	require.NotNil(s.T(), got.CompletedAt)

	gotJob, err := s.store.GetJob(s.ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), JobStatusFailed, gotJob.Status)
}

func (s *StoreTestSuite) TestFinishRun_RejectsNonTerminalStatus() {
	job := s.createJob("badstatus", nil)
	run, err := s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
	require.NoError(s.T(), err)

	_, err = s.store.FinishRun(s.ctx, run.ID, RunStatusRunning, nil, nil)
	assert.Error(s.T(), err)
}

func (s *StoreTestSuite) TestFinishRun_UnknownRun() {
	_, err := s.store.FinishRun(s.ctx, "no-such-run", RunStatusPassed, nil, nil)
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestFinishRun_DurationFromStartedAt() {
	job := s.createJob("stopwatch", nil)
	run, err := s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
	require.NoError(s.T(), err)

	// Backdate the start so the derived duration is visible.
	started := time.Now().UTC().Add(-90 * time.Second)
	require.NoError(s.T(), s.store.db.Model(&Run{}).Where("id = ?", run.ID).
		Update("started_at", started).Error)

	applied, err := s.store.FinishRun(s.ctx, run.ID, RunStatusPassed, nil, nil)
	require.NoError(s.T(), err)
	require.True(s.T(), applied)

	got, err := s.store.GetRun(s.ctx, run.ID)
	require.NoError(s.T(), err)
	assert.InDelta(s.T(), 90, got.DurationSecs, 2)
	require.NotNil(s.T(), got.CompletedAt)
}

func (s *StoreTestSuite) TestFinishRun_TimeoutMarksJobFailed() {
	job := s.createJob("slowpoke", nil)
	run, err := s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
	require.NoError(s.T(), err)

	details := "execution timed out"
	applied, err := s.store.FinishRun(s.ctx, run.ID, RunStatusTimeout, &details, nil)
	require.NoError(s.T(), err)
	require.True(s.T(), applied)

	got, err := s.store.GetRun(s.ctx, run.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), RunStatusTimeout, got.Status)

	// The job status enum has no timeout; the job lands on failed.
	gotJob, err := s.store.GetJob(s.ctx, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), JobStatusFailed, gotJob.Status)
}

func (s *StoreTestSuite) TestGetRunStatusesForJob_NewestFirstTerminalOnly() {
	job := s.createJob("history", nil)

	for i, status := range []string{RunStatusPassed, RunStatusFailed, RunStatusFailed} {
		run, err := s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
		require.NoError(s.T(), err)
		// Distinct start times so ordering is deterministic.
		require.NoError(s.T(), s.store.db.Model(&Run{}).Where("id = ?", run.ID).
			Update("started_at", time.Now().Add(time.Duration(i)*time.Second)).Error)
		_, err = s.store.FinishRun(s.ctx, run.ID, status, nil, nil)
		require.NoError(s.T(), err)
	}
	// One still running; it must not appear.
	_, err := s.store.CreateRun(s.ctx, job.ID, TriggerSchedule)
	require.NoError(s.T(), err)

	statuses, err := s.store.GetRunStatusesForJob(s.ctx, job.ID, 10)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []string{RunStatusFailed, RunStatusFailed, RunStatusPassed}, statuses)
}

// =============================================================================
// Report tests
// =============================================================================

func (s *StoreTestSuite) TestUpsertReport_InsertThenUpdate() {
	url1 := "https://artifacts.local/run-1.zip"
	require.NoError(s.T(), s.store.UpsertReport(s.ctx, "run", "run-1", RunStatusPassed, "/data/run-1", &url1))

	url2 := "https://artifacts.local/run-1-v2.zip"
	require.NoError(s.T(), s.store.UpsertReport(s.ctx, "run", "run-1", RunStatusFailed, "/data/run-1-v2", &url2))

	report, err := s.store.GetReport(s.ctx, "run", "run-1")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), RunStatusFailed, report.Status)
	assert.Equal(s.T(), "/data/run-1-v2", report.ArtifactPath)
	require.NotNil(s.T(), report.ArtifactURL)
	assert.Equal(s.T(), url2, *report.ArtifactURL)
}

func (s *StoreTestSuite) TestGetReport_NotFound() {
	_, err := s.store.GetReport(s.ctx, "run", "nothing")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

// =============================================================================
// Monitor tests
// =============================================================================

func (s *StoreTestSuite) TestCreateMonitor_HeartbeatGetsToken() {
	m := &Monitor{Name: "nightly-backup", Type: MonitorTypeHeartbeat, Target: "nightly-backup", FrequencyMinutes: 60, Enabled: true}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))
	require.NotNil(s.T(), m.HeartbeatToken)

	got, err := s.store.GetMonitorByHeartbeatToken(s.ctx, *m.HeartbeatToken)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), m.ID, got.ID)
	assert.Equal(s.T(), MonitorStatusPending, got.Status)
}

func (s *StoreTestSuite) TestListEnabledMonitors_SkipsPausedAndMaintenance() {
	up := &Monitor{Name: "site", Type: MonitorTypeWebsite, Target: "https://example.com", FrequencyMinutes: 1, Enabled: true, Status: MonitorStatusUp}
	paused := &Monitor{Name: "paused", Type: MonitorTypePing, Target: "10.0.0.1", FrequencyMinutes: 1, Enabled: true, Status: MonitorStatusPaused}
	disabled := &Monitor{Name: "off", Type: MonitorTypePing, Target: "10.0.0.2", FrequencyMinutes: 1, Enabled: false, Status: MonitorStatusUp}
	for _, m := range []*Monitor{up, paused, disabled} {
		require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))
	}

	monitors, err := s.store.ListEnabledMonitors(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), monitors, 1)
	assert.Equal(s.T(), "site", monitors[0].Name)
}

func (s *StoreTestSuite) TestUpdateMonitor_PartialPatch() {
	m := &Monitor{Name: "api", Type: MonitorTypeHTTP, Target: "https://api.example.com", FrequencyMinutes: 5, Enabled: true}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	down := MonitorStatusDown
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(s.T(), s.store.UpdateMonitor(s.ctx, m.ID, MonitorPatch{
		Status:      &down,
		LastCheckAt: &now,
	}))

	got, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), MonitorStatusDown, got.Status)
	require.NotNil(s.T(), got.LastCheckAt)
	assert.Nil(s.T(), got.LastStatusChangeAt)
}

func (s *StoreTestSuite) TestUpdateMonitor_NotFound() {
	down := MonitorStatusDown
	err := s.store.UpdateMonitor(s.ctx, "ghost", MonitorPatch{Status: &down})
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestSetMonitorEnabled_PauseResume() {
	m := &Monitor{Name: "pausable", Type: MonitorTypePort, Target: "db.internal:5432", FrequencyMinutes: 1, Enabled: true, Status: MonitorStatusUp}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.store.SetMonitorEnabled(s.ctx, m.ID, false, MonitorStatusPaused))
	got, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.False(s.T(), got.Enabled)
	assert.Equal(s.T(), MonitorStatusPaused, got.Status)

	require.NoError(s.T(), s.store.SetMonitorEnabled(s.ctx, m.ID, true, MonitorStatusPending))
	got, err = s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), got.Enabled)
}

func (s *StoreTestSuite) TestDeleteMonitor_RemovesResults() {
	m := &Monitor{Name: "gone", Type: MonitorTypePing, Target: "10.1.1.1", FrequencyMinutes: 1, Enabled: true}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))
	require.NoError(s.T(), s.store.InsertMonitorResult(s.ctx, &MonitorResult{
		MonitorID: m.ID, Status: ResultStatusUp, IsUp: true,
	}))

	require.NoError(s.T(), s.store.DeleteMonitor(s.ctx, m.ID))
	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 10)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), results)
}

// =============================================================================
// Monitor result tests
// =============================================================================

func (s *StoreTestSuite) TestRecentMonitorResults_NewestFirst() {
	m := &Monitor{Name: "ordered", Type: MonitorTypeHTTP, Target: "https://x", FrequencyMinutes: 1, Enabled: true}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	base := time.Now().Add(-time.Hour)
	for i, status := range []string{ResultStatusUp, ResultStatusDown, ResultStatusDown} {
		require.NoError(s.T(), s.store.InsertMonitorResult(s.ctx, &MonitorResult{
			MonitorID: m.ID,
			CheckedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    status,
			IsUp:      status == ResultStatusUp,
		}))
	}

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 2)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 2)
	assert.Equal(s.T(), ResultStatusDown, results[0].Status)
	assert.Equal(s.T(), ResultStatusDown, results[1].Status)
}

func (s *StoreTestSuite) TestPruneMonitorResults() {
	m := &Monitor{Name: "pruned", Type: MonitorTypeHTTP, Target: "https://x", FrequencyMinutes: 1, Enabled: true}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.store.InsertMonitorResult(s.ctx, &MonitorResult{
		MonitorID: m.ID, CheckedAt: time.Now().Add(-48 * time.Hour), Status: ResultStatusUp, IsUp: true,
	}))
	require.NoError(s.T(), s.store.InsertMonitorResult(s.ctx, &MonitorResult{
		MonitorID: m.ID, CheckedAt: time.Now(), Status: ResultStatusUp, IsUp: true,
	}))

	pruned, err := s.store.PruneMonitorResults(s.ctx, time.Now().Add(-24*time.Hour))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), pruned)

	remaining, err := s.store.RecentMonitorResults(s.ctx, m.ID, 10)
	require.NoError(s.T(), err)
	assert.Len(s.T(), remaining, 1)
}

// =============================================================================
// Provider and alert history tests
// =============================================================================

func (s *StoreTestSuite) TestGetProviders_MissingIDsSkipped() {
	p := &NotificationProvider{Name: "ops-slack", Type: "slack", Config: `{"webhookUrl":"https://hooks.slack.com/x"}`, Enabled: true}
	require.NoError(s.T(), s.store.CreateProvider(s.ctx, p))

	providers, err := s.store.GetProviders(s.ctx, []string{p.ID, "missing"})
	require.NoError(s.T(), err)
	require.Len(s.T(), providers, 1)
	assert.Equal(s.T(), "ops-slack", providers[0].Name)

	providers, err = s.store.GetProviders(s.ctx, nil)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), providers)
}

func (s *StoreTestSuite) TestLastAlertOfKind() {
	a1 := &AlertHistory{
		Type: "ssl_expiring", TargetKind: TargetKindMonitor, TargetID: "mon-1",
		Message: "cert expires in 29 days", Status: AlertStatusSent,
		SentAt: time.Now().Add(-2 * time.Hour),
	}
	a2 := &AlertHistory{
		Type: "ssl_expiring", TargetKind: TargetKindMonitor, TargetID: "mon-1",
		Message: "cert expires in 28 days", Status: AlertStatusSent,
		SentAt: time.Now().Add(-1 * time.Hour),
	}
	require.NoError(s.T(), s.store.InsertAlertHistory(s.ctx, a1))
	require.NoError(s.T(), s.store.InsertAlertHistory(s.ctx, a2))

	last, err := s.store.LastAlertOfKind(s.ctx, "mon-1", "ssl_expiring")
	require.NoError(s.T(), err)
	require.NotNil(s.T(), last)
	assert.Equal(s.T(), "cert expires in 28 days", last.Message)

	none, err := s.store.LastAlertOfKind(s.ctx, "mon-1", "monitor_failure")
	require.NoError(s.T(), err)
	assert.Nil(s.T(), none)
}

func (s *StoreTestSuite) TestListAlertHistory_Filters() {
	for i := 0; i < 3; i++ {
		require.NoError(s.T(), s.store.InsertAlertHistory(s.ctx, &AlertHistory{
			Type: "monitor_failure", TargetKind: TargetKindMonitor, TargetID: "mon-2",
			Message: "down", Status: AlertStatusSent,
			SentAt: time.Now().Add(time.Duration(-i) * time.Hour),
		}))
	}
	require.NoError(s.T(), s.store.InsertAlertHistory(s.ctx, &AlertHistory{
		Type: "job_failure", TargetKind: TargetKindJob, TargetID: "job-1",
		Message: "failed", Status: AlertStatusFailed,
		SentAt: time.Now(),
	}))

	alerts, total, err := s.store.ListAlertHistory(s.ctx, AlertHistoryQuery{TargetKind: TargetKindMonitor, Limit: 2})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), total)
	assert.Len(s.T(), alerts, 2)

	since := time.Now().Add(-30 * time.Minute)
	alerts, total, err = s.store.ListAlertHistory(s.ctx, AlertHistoryQuery{Since: &since})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), total)
	assert.Len(s.T(), alerts, 2)
}

func (s *StoreTestSuite) TestAlertHistoryProvidersRoundTrip() {
	a := &AlertHistory{Type: "monitor_recovery", TargetKind: TargetKindMonitor, TargetID: "mon-3", Status: AlertStatusSent, SentAt: time.Now()}
	a.SetProviders([]string{"ops-slack", "oncall-email"})
	require.NoError(s.T(), s.store.InsertAlertHistory(s.ctx, a))

	got, _, err := s.store.ListAlertHistory(s.ctx, AlertHistoryQuery{TargetID: "mon-3"})
	require.NoError(s.T(), err)
	require.Len(s.T(), got, 1)
	assert.Equal(s.T(), []string{"ops-slack", "oncall-email"}, got[0].GetProviders())
}

// =============================================================================
// AlertConfig tests
// =============================================================================

func (s *StoreTestSuite) TestParseAlertConfig() {
	raw := `{"enabled":true,"providerIds":["p1"],"alertOnFailure":true,"failureThreshold":3}`
	cfg, err := ParseAlertConfig(&raw)
	require.NoError(s.T(), err)
	assert.True(s.T(), cfg.Enabled)
	assert.Equal(s.T(), 3, cfg.FailureThreshold)
	assert.Equal(s.T(), 1, cfg.RecoveryThreshold)
	assert.Equal(s.T(), 30, cfg.SSLWarnDays)

	cfg, err = ParseAlertConfig(nil)
	require.NoError(s.T(), err)
	assert.False(s.T(), cfg.Enabled)
	assert.Equal(s.T(), 1, cfg.FailureThreshold)

	bad := `{not-json`
	_, err = ParseAlertConfig(&bad)
	assert.Error(s.T(), err)
}
