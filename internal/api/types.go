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

package api

import (
	"time"

	"github.com/supercheck-io/supercheck/internal/store"
)

// HealthResponse is the response for GET /api/v1/health
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse wraps an API error
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine code and human message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JobResponse is one job in list and get responses
type JobResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CronSchedule *string    `json:"cronSchedule,omitempty"`
	Status       string     `json:"status"`
	Enabled      bool       `json:"enabled"`
	RetryLimit   int        `json:"retryLimit"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt    *time.Time `json:"nextRunAt,omitempty"`
	ScriptCount  int        `json:"scriptCount"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// RunResponse is one run in run listings
type RunResponse struct {
	ID           string     `json:"id"`
	JobID        string     `json:"jobId"`
	Status       string     `json:"status"`
	Trigger      string     `json:"trigger"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	DurationSecs int64      `json:"durationSecs"`
	ErrorDetails *string    `json:"errorDetails,omitempty"`
	ReportURL    *string    `json:"reportUrl,omitempty"`
}

// TriggerResponse is the response for POST /api/v1/jobs/{id}/trigger
type TriggerResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// MonitorResponse is one monitor in list and get responses
type MonitorResponse struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	Target             string     `json:"target"`
	FrequencyMinutes   int        `json:"frequencyMinutes"`
	Enabled            bool       `json:"enabled"`
	Status             string     `json:"status"`
	LastCheckAt        *time.Time `json:"lastCheckAt,omitempty"`
	LastStatusChangeAt *time.Time `json:"lastStatusChangeAt,omitempty"`
	HeartbeatToken     *string    `json:"heartbeatToken,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// ResultResponse is one monitor result sample
type ResultResponse struct {
	ID             string    `json:"id"`
	CheckedAt      time.Time `json:"checkedAt"`
	Status         string    `json:"status"`
	ResponseTimeMs *int64    `json:"responseTimeMs,omitempty"`
	IsUp           bool      `json:"isUp"`
	IsStatusChange bool      `json:"isStatusChange"`
	Details        *string   `json:"details,omitempty"`
}

// AlertHistoryResponse pages alert history rows
type AlertHistoryResponse struct {
	Items []AlertHistoryItem `json:"items"`
	Total int64              `json:"total"`
}

// AlertHistoryItem is one alert history row
type AlertHistoryItem struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	TargetKind   string    `json:"targetKind"`
	TargetID     string    `json:"targetId"`
	Message      string    `json:"message"`
	Providers    []string  `json:"providers"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	SentAt       time.Time `json:"sentAt"`
}

// ProviderResponse is one notification provider; its config stays private
type ProviderResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// HeartbeatResponse acknowledges a heartbeat ping
type HeartbeatResponse struct {
	OK         bool      `json:"ok"`
	Monitor    string    `json:"monitor"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func toJobResponse(j *store.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		Name:         j.Name,
		CronSchedule: j.CronSchedule,
		Status:       j.Status,
		Enabled:      j.Enabled,
		RetryLimit:   j.RetryLimit,
		LastRunAt:    j.LastRunAt,
		NextRunAt:    j.NextRunAt,
		ScriptCount:  len(j.Scripts),
		CreatedAt:    j.CreatedAt,
	}
}

func toRunResponse(r *store.Run) RunResponse {
	return RunResponse{
		ID:           r.ID,
		JobID:        r.JobID,
		Status:       r.Status,
		Trigger:      r.Trigger,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		DurationSecs: r.DurationSecs,
		ErrorDetails: r.ErrorDetails,
		ReportURL:    r.ReportURL,
	}
}

func toMonitorResponse(m *store.Monitor) MonitorResponse {
	return MonitorResponse{
		ID:                 m.ID,
		Name:               m.Name,
		Type:               m.Type,
		Target:             m.Target,
		FrequencyMinutes:   m.FrequencyMinutes,
		Enabled:            m.Enabled,
		Status:             m.Status,
		LastCheckAt:        m.LastCheckAt,
		LastStatusChangeAt: m.LastStatusChangeAt,
		HeartbeatToken:     m.HeartbeatToken,
		CreatedAt:          m.CreatedAt,
	}
}

func toResultResponse(r *store.MonitorResult) ResultResponse {
	return ResultResponse{
		ID:             r.ID,
		CheckedAt:      r.CheckedAt,
		Status:         r.Status,
		ResponseTimeMs: r.ResponseTimeMs,
		IsUp:           r.IsUp,
		IsStatusChange: r.IsStatusChange,
		Details:        r.Details,
	}
}

func toAlertHistoryItem(a *store.AlertHistory) AlertHistoryItem {
	return AlertHistoryItem{
		ID:           a.ID,
		Type:         a.Type,
		TargetKind:   a.TargetKind,
		TargetID:     a.TargetID,
		Message:      a.Message,
		Providers:    a.GetProviders(),
		Status:       a.Status,
		ErrorMessage: a.ErrorMessage,
		SentAt:       a.SentAt,
	}
}
