package queue

import "time"

// Queue names. The two execution queues are consulted together by the
// capacity gate.
const (
	QueueJobScheduler     = "job-scheduler"
	QueueJobExecution     = "job-execution"
	QueueMonitorScheduler = "monitor-scheduler"
	QueueMonitorExecution = "monitor-execution"
	QueueTestExecution    = "test-execution"
)

// Task type names.
const (
	TaskTypeJobFire      = "job:fire"
	TaskTypeJobExecute   = "job:execute"
	TaskTypeMonitorFire  = "monitor:fire"
	TaskTypeMonitorCheck = "monitor:check"
)

// JobFirePayload is carried by the repeatable per-job scheduler entry.
type JobFirePayload struct {
	JobID      string `json:"job_id"`
	RetryLimit int    `json:"retry_limit"`
}

// JobExecutePayload is carried by a single job execution task. RunID doubles
// as the task ID so a run is never executed twice.
type JobExecutePayload struct {
	JobID   string `json:"job_id"`
	RunID   string `json:"run_id"`
	Trigger string `json:"trigger"`
}

// MonitorFirePayload is carried by the repeatable per-monitor entry.
type MonitorFirePayload struct {
	MonitorID string `json:"monitor_id"`
}

// MonitorCheckPayload is carried by a single monitor check task.
type MonitorCheckPayload struct {
	MonitorID   string    `json:"monitor_id"`
	MonitorName string    `json:"monitor_name"`
	MonitorType string    `json:"monitor_type"`
	ScheduledAt time.Time `json:"scheduled_at"`
}
