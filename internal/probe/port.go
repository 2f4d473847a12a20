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
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const defaultPortTimeout = 10 * time.Second

// PortProber checks port_check monitors. Target is the host; the port comes
// from config, or from a host:port target when the config leaves it unset.
type PortProber struct {
	log logr.Logger
}

// NewPortProber creates a port prober.
func NewPortProber(log logr.Logger) *PortProber {
	return &PortProber{log: log.WithName("port-prober")}
}

// Probe attempts a connection. TCP is authoritative: an accepted connection
// is up, refusal or unreachability is down, a deadline is timeout. UDP is
// connectionless, so the probe writes a few bytes and treats silence as up
// (annotated best-effort); only an ICMP unreachable surfaced by the stack
// proves down.
func (p *PortProber) Probe(ctx context.Context, target string, cfg *PortConfig) *Result {
	if cfg == nil {
		cfg = &PortConfig{}
	}
	timeout := defaultPortTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	network := strings.ToLower(cfg.Protocol)
	if network == "" {
		network = "tcp"
	}
	if network != "tcp" && network != "udp" {
		return errResult("unsupported protocol " + cfg.Protocol)
	}

	address := target
	if cfg.Port > 0 {
		host := target
		if h, _, err := net.SplitHostPort(target); err == nil {
			host = h
		}
		address = net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		status, class := classifyNetError(err)
		details := map[string]interface{}{
			"error":      err.Error(),
			"errorClass": class,
		}
		if status == StatusTimeout {
			return timeoutResult(details)
		}
		return down(details)
	}
	defer conn.Close()

	if network == "tcp" {
		return up(time.Since(start).Milliseconds(), nil)
	}

	// UDP dial never touches the network; send a probe datagram and give
	// the stack a short window to deliver an ICMP port-unreachable.
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte{0x00, 0x00, 0x00, 0x00}); err != nil {
		status, class := classifyNetError(err)
		details := map[string]interface{}{"error": err.Error(), "errorClass": class}
		if status == StatusTimeout {
			return timeoutResult(details)
		}
		return down(details)
	}
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// silence: assume open
			return up(time.Since(start).Milliseconds(), map[string]interface{}{
				"note": "udp port gave no response; assuming open",
			})
		}
		_, class := classifyNetError(err)
		return down(map[string]interface{}{"error": err.Error(), "errorClass": class})
	}
	return up(time.Since(start).Milliseconds(), nil)
}
