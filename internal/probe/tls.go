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
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const defaultTLSTimeout = 10 * time.Second

// TlsProber inspects served certificates. The handshake skips chain
// verification so an expired or self-signed certificate can still be
// examined; trust problems are evaluated from the certificate itself.
type TlsProber struct {
	log logr.Logger
}

// NewTlsProber creates a TLS prober.
func NewTlsProber(log logr.Logger) *TlsProber {
	return &TlsProber{log: log.WithName("tls-prober")}
}

// Probe dials host:port (port defaults to 443), extracts the leaf
// certificate and maps validity to a status: not yet valid is error, expired
// is down, expiring within warnDays is up with a warning detail.
func (p *TlsProber) Probe(ctx context.Context, target string, warnDays int) *Result {
	if warnDays <= 0 {
		warnDays = 30
	}

	host, port := splitTarget(target)

	dialer := &net.Dialer{Timeout: defaultTLSTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, port), &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true, // inspect, do not verify; validity is judged below
	})
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

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return errResult("no certificate presented")
	}

	leaf := certs[0]
	info := certInfo(leaf)
	details := map[string]interface{}{"ssl": info}
	now := time.Now()

	switch {
	case now.Before(leaf.NotBefore):
		details["error"] = fmt.Sprintf("certificate not valid until %s", leaf.NotBefore.Format(time.RFC3339))
		return &Result{Status: StatusError, Details: details}
	case now.After(leaf.NotAfter):
		details["error"] = "certificate expired"
		details["errorClass"] = classCertExpired
		return down(details)
	}

	days := daysRemaining(leaf.NotAfter, now)
	if days <= warnDays {
		details["sslWarning"] = fmt.Sprintf("certificate expires in %d days", days)
	}
	var latency int64
	return up(latency, details)
}

// daysRemaining rounds partial days up, so a certificate expiring in one
// hour still reports 1.
func daysRemaining(notAfter, now time.Time) int {
	return int(math.Ceil(notAfter.Sub(now).Hours() / 24))
}

// certInfo extracts the stored certificate fields.
func certInfo(cert *x509.Certificate) map[string]interface{} {
	sum := sha256.Sum256(cert.Raw)
	return map[string]interface{}{
		"validFrom":     cert.NotBefore.UTC().Format(time.RFC3339),
		"validTo":       cert.NotAfter.UTC().Format(time.RFC3339),
		"issuerCN":      cert.Issuer.CommonName,
		"subjectCN":     cert.Subject.CommonName,
		"serial":        cert.SerialNumber.String(),
		"fingerprint":   hex.EncodeToString(sum[:]),
		"daysRemaining": daysRemaining(cert.NotAfter, time.Now()),
	}
}

// splitTarget splits a TLS target into host and port, defaulting to 443.
// Accepts bare hosts, host:port and https:// URLs.
func splitTarget(target string) (host, port string) {
	t := strings.TrimSpace(target)
	t = strings.TrimPrefix(t, "https://")
	t = strings.TrimPrefix(t, "http://")
	if i := strings.IndexAny(t, "/?"); i >= 0 {
		t = t[:i]
	}
	host, port, err := net.SplitHostPort(t)
	if err != nil {
		return t, "443"
	}
	return host, port
}
