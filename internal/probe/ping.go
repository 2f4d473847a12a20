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

package probe

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/go-logr/logr"
)

const defaultPingTimeout = 5 * time.Second

var pingLatencyRe = regexp.MustCompile(`time[=<]([\d.]+)\s*ms`)

// PingProber checks ping_host monitors with the platform ping binary; raw
// ICMP sockets need privileges the service does not have.
type PingProber struct {
	log logr.Logger
}

// NewPingProber creates a ping prober.
func NewPingProber(log logr.Logger) *PingProber {
	return &PingProber{log: log.WithName("ping-prober")}
}

// Probe sends a single echo request. Exit 0 is up; a context deadline is
// timeout; any other failure is down.
func (p *PingProber) Probe(ctx context.Context, target string, cfg *PingConfig) *Result {
	if cfg == nil {
		cfg = &PingConfig{}
	}
	timeout := defaultPingTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := pingArgs(target, timeout)
	start := time.Now()
	out, err := exec.CommandContext(ctx, "ping", args...).CombinedOutput()
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutResult(map[string]interface{}{"error": "ping timed out"})
		}
		return down(map[string]interface{}{
			"error":  err.Error(),
			"output": string(out),
		})
	}

	latency := elapsed
	if m := pingLatencyRe.FindSubmatch(out); m != nil {
		if parsed, perr := strconv.ParseFloat(string(m[1]), 64); perr == nil {
			latency = int64(parsed)
		}
	}
	return up(latency, nil)
}

func pingArgs(target string, timeout time.Duration) []string {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	switch runtime.GOOS {
	case "darwin":
		// -t is the overall timeout on macOS
		return []string{"-c", "1", "-t", strconv.Itoa(secs), target}
	default:
		return []string{"-c", "1", "-W", strconv.Itoa(secs), target}
	}
}
