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

// Package dispatch executes queued job and monitor tasks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/kballard/go-shellquote"
)

const (
	// maxCapturedOutput caps combined stdout/stderr capture.
	maxCapturedOutput = 10 << 20
	truncationMarker  = "\n... [output truncated]"
	// killGrace is how long a child gets between SIGTERM and SIGKILL.
	killGrace = 5 * time.Second
)

// ExecResult is the outcome of one executor child process.
type ExecResult struct {
	ExitCode int
	TimedOut bool
	Output   string
	Duration time.Duration
}

// Executor runs the external test runner as a child process. The command
// line is configured, not derived from user data.
type Executor struct {
	command string
	timeout time.Duration
	log     logr.Logger
}

// NewExecutor creates an executor for the given command line.
func NewExecutor(command string, timeout time.Duration, log logr.Logger) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Executor{command: command, timeout: timeout, log: log.WithName("executor")}
}

// Run starts the child in workdir with the report directory exported in its
// environment, and waits for completion. A deadline sends SIGTERM first and
// SIGKILL after the grace period. A start failure is an error; a non-zero
// exit is a result.
func (e *Executor) Run(ctx context.Context, workdir, reportDir string) (*ExecResult, error) {
	argv, err := shellquote.Split(e.command)
	if err != nil {
		return nil, fmt.Errorf("parse executor command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("executor command is empty")
	}

	buf := newCappedBuffer(maxCapturedOutput)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Stdout = buf
	cmd.Stderr = buf
	cmd.Env = append(os.Environ(),
		"SUPERCHECK_REPORT_DIR="+reportDir,
		"SUPERCHECK_WORK_DIR="+workdir,
	)
	// child gets its own process group so the kill reaches grandchildren
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start executor: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case err = <-done:
	case <-timer.C:
		timedOut = true
		err = e.terminate(cmd, done)
	case <-ctx.Done():
		timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		err = e.terminate(cmd, done)
	}

	result := &ExecResult{
		TimedOut: timedOut,
		Output:   buf.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if !timedOut {
			return nil, fmt.Errorf("executor wait: %w", err)
		} else {
			result.ExitCode = -1
		}
	}
	if timedOut {
		result.ExitCode = -1
	}
	return result, nil
}

// terminate escalates SIGTERM to SIGKILL against the child's process group.
func (e *Executor) terminate(cmd *exec.Cmd, done <-chan error) error {
	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		e.log.V(1).Info("sigterm failed, killing directly", "error", err.Error())
		_ = cmd.Process.Kill()
	}
	select {
	case err := <-done:
		return err
	case <-time.After(killGrace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		return <-done
	}
}

// cappedBuffer keeps the first n bytes and drops the rest, appending a
// truncation marker once.
type cappedBuffer struct {
	limit     int
	data      []byte
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - len(b.data); remaining > 0 {
		if len(p) <= remaining {
			b.data = append(b.data, p...)
		} else {
			b.data = append(b.data, p[:remaining]...)
			b.truncated = true
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return string(b.data) + truncationMarker
	}
	return string(b.data)
}
