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

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/hibiken/asynq"

	"github.com/supercheck-io/supercheck/internal/alerting"
	"github.com/supercheck-io/supercheck/internal/capacity"
	"github.com/supercheck-io/supercheck/internal/metrics"
	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/store"
)

// ReportEntityRun is the report entity type for job runs.
const ReportEntityRun = "run"

// JobDispatcher executes one job run per task. The task ID equals the run
// ID, so re-deliveries of an already-finished run are no-ops.
type JobDispatcher struct {
	store    store.Store
	gate     *capacity.Gate
	executor *Executor
	uploader Uploader
	alerts   *alerting.Engine
	workRoot string
	log      logr.Logger
}

// NewJobDispatcher creates a job dispatcher writing run workdirs under
// workRoot.
func NewJobDispatcher(st store.Store, gate *capacity.Gate, executor *Executor, uploader Uploader, alerts *alerting.Engine, workRoot string, log logr.Logger) *JobDispatcher {
	return &JobDispatcher{
		store:    st,
		gate:     gate,
		executor: executor,
		uploader: uploader,
		alerts:   alerts,
		workRoot: workRoot,
		log:      log.WithName("job-dispatcher"),
	}
}

// HandleTask processes one job execution task.
func (d *JobDispatcher) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.JobExecutePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal job execution payload: %w", err)
	}
	log := d.log.WithValues("job", payload.JobID, "run", payload.RunID)

	run, err := d.store.GetRun(ctx, payload.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("run vanished, dropping task")
			return nil
		}
		return err
	}
	if run.Terminal() {
		log.V(1).Info("run already terminal, dropping re-delivery", "status", run.Status)
		return nil
	}

	// returned unwrapped so the server requeues without burning an attempt
	if err := d.gate.Admit(ctx); err != nil {
		metrics.CapacityDeferrals.Inc()
		return err
	}

	status, errDetails, reportURL := d.execute(ctx, log, &payload)

	applied, err := d.finishRun(ctx, payload.RunID, status, errDetails, reportURL)
	if err != nil {
		return err
	}
	if !applied {
		log.Info("run finalized elsewhere, alerts skipped")
		return nil
	}
	metrics.RunsCompleted.WithLabelValues(status).Inc()

	artifactKey := "runs/" + payload.RunID
	if err := d.store.UpsertReport(ctx, ReportEntityRun, payload.RunID, status, artifactKey, reportURL); err != nil {
		log.Error(err, "report metadata update failed")
	}

	job, err := d.store.GetJob(ctx, payload.JobID)
	if err != nil {
		log.Error(err, "job reload for alerting failed")
		return nil
	}
	// the terminal row carries the store-derived duration
	run, err = d.store.GetRun(ctx, payload.RunID)
	if err != nil {
		log.Error(err, "run reload for alerting failed")
		return nil
	}
	d.alerts.HandleJobOutcome(ctx, job, run)
	return nil
}

// execute runs steps 2 through 7: report metadata, workdir, child process,
// artifact upload, status derivation. It never returns an error; everything
// is folded into the terminal status.
func (d *JobDispatcher) execute(ctx context.Context, log logr.Logger, payload *queue.JobExecutePayload) (status string, errDetails, reportURL *string) {
	if err := d.store.UpsertReport(ctx, ReportEntityRun, payload.RunID, store.RunStatusRunning, "", nil); err != nil {
		log.Error(err, "report metadata write failed")
	}

	// workdir is keyed by run ID; the single-running-run guard means no
	// two live tasks can share it
	workdir := filepath.Join(d.workRoot, payload.RunID)
	reportDir := filepath.Join(workdir, "report")
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			log.Error(err, "workdir cleanup failed", "dir", workdir)
		}
	}()

	if err := d.writeScripts(ctx, payload.JobID, workdir); err != nil {
		return store.RunStatusError, strPtr(err.Error()), nil
	}
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return store.RunStatusError, strPtr(err.Error()), nil
	}

	res, err := d.executor.Run(ctx, workdir, reportDir)
	if err != nil {
		log.Error(err, "executor failed to run")
		return store.RunStatusError, strPtr(err.Error()), nil
	}

	// upload-on-failure: failure reports stay viewable
	if url, uerr := d.uploader.Upload(ctx, reportDir, "runs/"+payload.RunID); uerr != nil {
		log.Error(uerr, "artifact upload failed")
	} else if hasIndex(reportDir) {
		reportURL = &url
	}

	switch {
	case res.TimedOut:
		status = store.RunStatusTimeout
		errDetails = strPtr("execution timed out")
	case res.ExitCode == 0 && reportURL != nil:
		status = store.RunStatusPassed
	default:
		status = store.RunStatusFailed
		errDetails = strPtr(tail(res.Output, 4096))
	}
	return status, errDetails, reportURL
}

// finishRun retries the terminal write once before giving up.
func (d *JobDispatcher) finishRun(ctx context.Context, runID, status string, errDetails, reportURL *string) (bool, error) {
	applied, err := d.store.FinishRun(ctx, runID, status, errDetails, reportURL)
	if err == nil {
		return applied, nil
	}
	d.log.Error(err, "finish run failed, retrying once", "run", runID)
	applied, err = d.store.FinishRun(ctx, runID, status, errDetails, reportURL)
	if err != nil {
		return false, fmt.Errorf("finish run %s: %w", runID, err)
	}
	return applied, nil
}

// writeScripts materializes the job's scripts in order.
func (d *JobDispatcher) writeScripts(ctx context.Context, jobID, workdir string) error {
	scripts, err := d.store.GetScriptsForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load scripts: %w", err)
	}
	scriptDir := filepath.Join(workdir, "scripts")
	if err := os.MkdirAll(scriptDir, 0o755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}
	for i, s := range scripts {
		name := fmt.Sprintf("%03d-%s.spec.js", i, sanitizeName(s.Name))
		if err := os.WriteFile(filepath.Join(scriptDir, name), []byte(s.Script), 0o644); err != nil {
			return fmt.Errorf("write script %s: %w", s.Name, err)
		}
	}
	return nil
}

func hasIndex(reportDir string) bool {
	_, err := os.Stat(filepath.Join(reportDir, "index.html"))
	return err == nil
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func strPtr(s string) *string { return &s }
