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
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const (
	defaultUserAgent   = "Supercheck-Monitor/1.0"
	defaultHTTPTimeout = 30 * time.Second
	maxRedirects       = 5
	// keyword matching only ever needs the body prefix
	maxBodyRead = 1 << 20
)

var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
	http.MethodOptions: true,
}

// HttpProber checks http_request and website monitors.
type HttpProber struct {
	log logr.Logger
}

// NewHttpProber creates an HTTP prober.
func NewHttpProber(log logr.Logger) *HttpProber {
	return &HttpProber{log: log.WithName("http-prober")}
}

// Probe performs one HTTP check. Latency is measured to header completion.
// Certificate inspection is the TlsProber's job; a verifying client cannot
// report on a certificate it refuses to handshake with.
func (p *HttpProber) Probe(ctx context.Context, target string, cfg *HTTPConfig) *Result {
	if cfg == nil {
		cfg = &HTTPConfig{}
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return errResult(fmt.Sprintf("unsupported method %q", cfg.Method))
	}

	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errResult(fmt.Sprintf("build request: %v", err))
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "*/*")
	for k, v := range cfg.Headers {
		// canonicalization makes the override case-insensitive
		req.Header.Set(k, v)
	}

	switch strings.ToLower(cfg.AuthMethod) {
	case "basic":
		req.SetBasicAuth(cfg.BasicUsername, cfg.BasicPassword)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+cfg.BearerToken)
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	start := time.Now()
	resp, err := client.Do(req)
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
	defer resp.Body.Close()
	latencyMs := time.Since(start).Milliseconds()

	details := map[string]interface{}{
		"statusCode": resp.StatusCode,
	}

	if !StatusAccepted(resp.StatusCode, cfg.ExpectedStatusCodes) {
		details["error"] = fmt.Sprintf("status code %d not expected", resp.StatusCode)
		return down(details)
	}

	if cfg.KeywordInBody != "" {
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
		if readErr != nil {
			status, class := classifyNetError(readErr)
			details["error"] = fmt.Sprintf("read body: %v", readErr)
			details["errorClass"] = class
			if status == StatusTimeout {
				return timeoutResult(details)
			}
			return down(details)
		}
		found := strings.Contains(strings.ToLower(string(data)), strings.ToLower(cfg.KeywordInBody))
		details["keywordFound"] = found
		if found != cfg.KeywordShouldBePresent() {
			if cfg.KeywordShouldBePresent() {
				details["error"] = fmt.Sprintf("keyword %q not found in body", cfg.KeywordInBody)
			} else {
				details["error"] = fmt.Sprintf("forbidden keyword %q found in body", cfg.KeywordInBody)
			}
			return down(details)
		}
	}

	return up(latencyMs, details)
}
