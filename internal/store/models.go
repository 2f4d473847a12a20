package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Job statuses. The status column is owned by the scheduler/dispatcher pair;
// the API must never write it directly.
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusPassed  = "passed"
	JobStatusFailed  = "failed"
	JobStatusError   = "error"
)

// Run terminal statuses, plus the single non-terminal "running".
const (
	RunStatusRunning = "running"
	RunStatusPassed  = "passed"
	RunStatusFailed  = "failed"
	RunStatusError   = "error"
	RunStatusTimeout = "timeout"
)

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Monitor types.
const (
	MonitorTypeHTTP      = "http_request"
	MonitorTypeWebsite   = "website"
	MonitorTypePing      = "ping_host"
	MonitorTypePort      = "port_check"
	MonitorTypeHeartbeat = "heartbeat"
)

// Monitor statuses. paused and maintenance are operator-set only.
const (
	MonitorStatusPending     = "pending"
	MonitorStatusUp          = "up"
	MonitorStatusDown        = "down"
	MonitorStatusPaused      = "paused"
	MonitorStatusMaintenance = "maintenance"
	MonitorStatusError       = "error"
)

// MonitorResult statuses.
const (
	ResultStatusUp      = "up"
	ResultStatusDown    = "down"
	ResultStatusError   = "error"
	ResultStatusTimeout = "timeout"
)

// Alert history delivery statuses.
const (
	AlertStatusSent    = "sent"
	AlertStatusFailed  = "failed"
	AlertStatusPending = "pending"
)

// Alert target kinds.
const (
	TargetKindMonitor = "monitor"
	TargetKindJob     = "job"
)

// Job is a bundle of test scripts executed on a cron schedule or on demand.
type Job struct {
	ID           string     `gorm:"primaryKey;size:36"`
	Name         string     `gorm:"size:255;not null"`
	CronSchedule *string    `gorm:"column:cron_schedule;size:100"`
	Status       string     `gorm:"size:20;not null;default:pending"`
	Enabled      bool       `gorm:"not null;default:true"`
	RetryLimit   int        `gorm:"not null;default:1"`
	LastRunAt    *time.Time `gorm:"column:last_run_at"`
	NextRunAt    *time.Time `gorm:"column:next_run_at"`
	AlertConfig  *string    `gorm:"column:alert_config;type:text"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`

	Scripts []TestScript `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

func (*Job) TableName() string { return "jobs" }

// HasSchedule reports whether the job carries a non-empty cron expression.
func (j *Job) HasSchedule() bool {
	return j.CronSchedule != nil && strings.TrimSpace(*j.CronSchedule) != ""
}

// Runnable reports whether the scheduler should keep a repeatable entry for
// this job. Manually-triggered runs bypass this check.
func (j *Job) Runnable() bool {
	return j.Enabled && j.HasSchedule()
}

// TestScript belongs to a Job through an ordered join.
type TestScript struct {
	ID            string    `gorm:"primaryKey;size:36"`
	JobID         string    `gorm:"column:job_id;size:36;not null;index"`
	Name          string    `gorm:"size:255;not null"`
	Script        string    `gorm:"type:text;not null"`
	OrderPosition int       `gorm:"column:order_position;not null;default:0"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (*TestScript) TableName() string { return "test_scripts" }

// Run is one attempted execution of a Job. Terminal state is written exactly
// once, by the task that created the row.
type Run struct {
	ID           string     `gorm:"primaryKey;size:36"`
	JobID        string     `gorm:"column:job_id;size:36;not null;index:idx_run_job;index:idx_run_job_status,priority:1"`
	Status       string     `gorm:"size:20;not null;index:idx_run_job_status,priority:2"`
	Trigger      string     `gorm:"size:20;not null"`
	StartedAt    time.Time  `gorm:"column:started_at;not null;index"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
	DurationSecs int64      `gorm:"column:duration_secs;not null;default:0"`
	ErrorDetails *string    `gorm:"column:error_details;type:text"`
	ReportURL    *string    `gorm:"column:report_url;size:2048"`
}

func (*Run) TableName() string { return "runs" }

// Terminal reports whether the run reached a terminal status.
func (r *Run) Terminal() bool {
	return r.Status != RunStatusRunning
}

// Monitor is a recurring health probe.
type Monitor struct {
	ID                 string     `gorm:"primaryKey;size:36"`
	Name               string     `gorm:"size:255;not null"`
	Type               string     `gorm:"size:30;not null"`
	Target             string     `gorm:"size:2048;not null"`
	FrequencyMinutes   int        `gorm:"column:frequency_minutes;not null;default:1"`
	Enabled            bool       `gorm:"not null;default:true;index"`
	Status             string     `gorm:"size:20;not null;default:pending"`
	Config             *string    `gorm:"type:text"`
	AlertConfig        *string    `gorm:"column:alert_config;type:text"`
	LastCheckAt        *time.Time `gorm:"column:last_check_at"`
	LastStatusChangeAt *time.Time `gorm:"column:last_status_change_at"`
	SSLLastCheckedAt   *time.Time `gorm:"column:ssl_last_checked_at"`
	HeartbeatToken     *string    `gorm:"column:heartbeat_token;size:36;uniqueIndex"`
	CreatedAt          time.Time  `gorm:"autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime"`
}

func (*Monitor) TableName() string { return "monitors" }

// MonitorResult is one availability sample for a monitor.
type MonitorResult struct {
	ID             string    `gorm:"primaryKey;size:36"`
	MonitorID      string    `gorm:"column:monitor_id;size:36;not null;index:idx_result_monitor_time,priority:1"`
	CheckedAt      time.Time `gorm:"column:checked_at;not null;index:idx_result_monitor_time,priority:2,sort:desc"`
	Status         string    `gorm:"size:20;not null"`
	ResponseTimeMs *int64    `gorm:"column:response_time_ms"`
	Details        *string   `gorm:"type:text"`
	IsUp           bool      `gorm:"column:is_up;not null"`
	IsStatusChange bool      `gorm:"column:is_status_change;not null;default:false"`
}

func (*MonitorResult) TableName() string { return "monitor_results" }

// NotificationProvider is a configured alert transport. Jobs and monitors
// reference providers weakly by ID; deleting one does not cascade.
type NotificationProvider struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"size:255;not null"`
	Type      string    `gorm:"size:30;not null"`
	Config    string    `gorm:"type:text;not null"`
	Enabled   bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (*NotificationProvider) TableName() string { return "notification_providers" }

// AlertHistory records one fan-out attempt across providers.
type AlertHistory struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Type         string    `gorm:"column:alert_type;size:50;not null;index:idx_alert_target,priority:3"`
	TargetKind   string    `gorm:"column:target_kind;size:10;not null;index:idx_alert_target,priority:1"`
	TargetID     string    `gorm:"column:target_id;size:36;not null;index:idx_alert_target,priority:2"`
	Message      string    `gorm:"type:text"`
	Providers    string    `gorm:"type:text"` // comma-separated provider names
	Status       string    `gorm:"size:20;not null"`
	ErrorMessage *string   `gorm:"column:error_message;type:text"`
	SentAt       time.Time `gorm:"column:sent_at;not null;index:idx_alert_sent,sort:desc"`
}

func (*AlertHistory) TableName() string { return "alert_history" }

// SetProviders sets the provider list from a slice.
func (a *AlertHistory) SetProviders(names []string) {
	a.Providers = strings.Join(names, ",")
}

// GetProviders returns the notified providers as a slice.
func (a *AlertHistory) GetProviders() []string {
	if a.Providers == "" {
		return nil
	}
	return strings.Split(a.Providers, ",")
}

// Report holds artifact metadata per entity, unique on (entity_type, entity_id).
type Report struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	EntityType   string    `gorm:"column:entity_type;size:30;not null;uniqueIndex:idx_report_entity,priority:1"`
	EntityID     string    `gorm:"column:entity_id;size:36;not null;uniqueIndex:idx_report_entity,priority:2"`
	Status       string    `gorm:"size:20;not null"`
	ArtifactURL  *string   `gorm:"column:artifact_url;size:2048"`
	ArtifactPath string    `gorm:"column:artifact_path;size:2048"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (*Report) TableName() string { return "reports" }

// AlertConfig is the shared alert configuration shape carried by Jobs and
// Monitors in their alert_config column.
type AlertConfig struct {
	Enabled              bool     `json:"enabled"`
	ProviderIDs          []string `json:"providerIds"`
	AlertOnFailure       bool     `json:"alertOnFailure"`
	AlertOnRecovery      bool     `json:"alertOnRecovery"`
	AlertOnSuccess       bool     `json:"alertOnSuccess"`
	AlertOnTimeout       bool     `json:"alertOnTimeout"`
	AlertOnSSLExpiration bool     `json:"alertOnSslExpiration"`
	FailureThreshold     int      `json:"failureThreshold"`
	RecoveryThreshold    int      `json:"recoveryThreshold"`
	SSLWarnDays          int      `json:"sslDaysUntilExpirationWarning"`
	CustomMessage        string   `json:"customMessage"`
}

// Normalize clamps thresholds to their minimums and applies defaults.
func (c *AlertConfig) Normalize() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 1
	}
	if c.RecoveryThreshold < 1 {
		c.RecoveryThreshold = 1
	}
	if c.SSLWarnDays <= 0 {
		c.SSLWarnDays = 30
	}
}

// ParseAlertConfig decodes an alert_config column. A nil or empty column
// yields a disabled config.
func ParseAlertConfig(raw *string) (*AlertConfig, error) {
	cfg := &AlertConfig{}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(*raw), cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// MonitorPatch is a partial monitor update applied by UpdateMonitor. Nil
// fields are left untouched.
type MonitorPatch struct {
	Status             *string
	LastCheckAt        *time.Time
	LastStatusChangeAt *time.Time
	SSLLastCheckedAt   *time.Time
	Config             *string
}
