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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/supercheck-io/supercheck/internal/alerting"
	"github.com/supercheck-io/supercheck/internal/probe"
	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/store"
)

type MonitorDispatcherTestSuite struct {
	suite.Suite
	store      *store.GormStore
	dispatcher *MonitorDispatcher
	ctx        context.Context
}

func (s *MonitorDispatcherTestSuite) SetupTest() {
	var err error
	s.store, err = store.NewGormStore("sqlite", "file::memory:?cache=shared")
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.store.Init())
	s.ctx = context.Background()

	alerts := alerting.NewEngine(s.store, "", logr.Discard())
	s.dispatcher = NewMonitorDispatcher(s.store, alerts, logr.Discard())
}

func (s *MonitorDispatcherTestSuite) TearDownTest() {
	_ = s.store.Close()
}

func checkTask(m *store.Monitor) *asynq.Task {
	payload, _ := json.Marshal(queue.MonitorCheckPayload{
		MonitorID:   m.ID,
		MonitorName: m.Name,
		MonitorType: m.Type,
		ScheduledAt: time.Now().UTC(),
	})
	return asynq.NewTask(queue.TaskTypeMonitorCheck, payload)
}

func upResult(latencyMs int64) *probe.Result {
	return &probe.Result{Status: probe.StatusUp, IsUp: true, ResponseTimeMs: &latencyMs}
}

func downResult() *probe.Result {
	return &probe.Result{Status: probe.StatusDown, Details: map[string]interface{}{"error": "connection refused"}}
}

func (s *MonitorDispatcherTestSuite) TestPausedMonitorRecordsNothing() {
	m := &store.Monitor{Name: "paused", Type: store.MonitorTypePort, Target: "db:5432", FrequencyMinutes: 1, Enabled: false, Status: store.MonitorStatusPaused}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.dispatcher.HandleTask(s.ctx, checkTask(m)))

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 10)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), results)

	got, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), store.MonitorStatusPaused, got.Status)
	assert.Nil(s.T(), got.LastCheckAt)
}

func (s *MonitorDispatcherTestSuite) TestVanishedMonitorIsDropped() {
	payload, _ := json.Marshal(queue.MonitorCheckPayload{MonitorID: "ghost"})
	err := s.dispatcher.HandleTask(s.ctx, asynq.NewTask(queue.TaskTypeMonitorCheck, payload))
	assert.NoError(s.T(), err)
}

func (s *MonitorDispatcherTestSuite) TestApply_PendingToUpTransition() {
	m := &store.Monitor{Name: "api", Type: store.MonitorTypeHTTP, Target: "https://api.internal", FrequencyMinutes: 1, Enabled: true, Status: store.MonitorStatusPending}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.dispatcher.Apply(s.ctx, m, upResult(42)))

	got, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), store.MonitorStatusUp, got.Status)
	assert.NotNil(s.T(), got.LastCheckAt)
	assert.NotNil(s.T(), got.LastStatusChangeAt)

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	assert.True(s.T(), results[0].IsUp)
	assert.True(s.T(), results[0].IsStatusChange)
	require.NotNil(s.T(), results[0].ResponseTimeMs)
	assert.EqualValues(s.T(), 42, *results[0].ResponseTimeMs)
}

func (s *MonitorDispatcherTestSuite) TestApply_SteadyStateKeepsChangeTimestamp() {
	m := &store.Monitor{Name: "api", Type: store.MonitorTypeHTTP, Target: "https://api.internal", FrequencyMinutes: 1, Enabled: true, Status: store.MonitorStatusPending}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.dispatcher.Apply(s.ctx, m, upResult(10)))
	first, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), first.LastStatusChangeAt)

	require.NoError(s.T(), s.dispatcher.Apply(s.ctx, first, upResult(11)))
	second, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), *first.LastStatusChangeAt, *second.LastStatusChangeAt)

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 2)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 2)
	assert.False(s.T(), results[0].IsStatusChange)
}

func (s *MonitorDispatcherTestSuite) TestApply_UpToDownTransition() {
	m := &store.Monitor{Name: "api", Type: store.MonitorTypeHTTP, Target: "https://api.internal", FrequencyMinutes: 1, Enabled: true, Status: store.MonitorStatusUp}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.dispatcher.Apply(s.ctx, m, downResult()))

	got, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), store.MonitorStatusDown, got.Status)

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	assert.True(s.T(), results[0].IsStatusChange)
	assert.Equal(s.T(), probe.StatusDown, results[0].Status)
}

// expiredCertServer serves TLS with a certificate that expired a day ago, so
// a verifying client refuses the handshake outright.
func expiredCertServer(t *testing.T) *httptest.Server {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-48 * time.Hour),
		NotAfter:     time.Now().Add(-24 * time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}
	srv.StartTLS()
	return srv
}

func (s *MonitorDispatcherTestSuite) TestWebsiteExpiredCertificateStillYieldsSSLDetails() {
	srv := expiredCertServer(s.T())
	defer srv.Close()

	cfg := `{"enableSslCheck":true}`
	alertCfg := `{"enabled":true,"alertOnSslExpiration":true}`
	m := &store.Monitor{Name: "shop", Type: store.MonitorTypeWebsite, Target: srv.URL, FrequencyMinutes: 1, Enabled: true, Status: store.MonitorStatusUp, Config: &cfg, AlertConfig: &alertCfg}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.dispatcher.HandleTask(s.ctx, checkTask(m)))

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	assert.False(s.T(), results[0].IsUp)

	var details map[string]interface{}
	require.NotNil(s.T(), results[0].Details)
	require.NoError(s.T(), json.Unmarshal([]byte(*results[0].Details), &details))
	ssl, ok := details["ssl"].(map[string]interface{})
	require.True(s.T(), ok, "sample must carry certificate details despite the failed handshake")
	days, ok := ssl["daysRemaining"].(float64)
	require.True(s.T(), ok)
	assert.LessOrEqual(s.T(), days, float64(0))

	got, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.NotNil(s.T(), got.SSLLastCheckedAt)

	alert, err := s.store.LastAlertOfKind(s.ctx, m.ID, alerting.TypeSSLExpired)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), alert)
}

func (s *MonitorDispatcherTestSuite) TestHeartbeatWithinGraceRecordsNothing() {
	now := time.Now().UTC()
	cfg := fmt.Sprintf(`{"expectedIntervalMinutes":60,"gracePeriodMinutes":10,"lastPingAt":%q}`, now.Format(time.RFC3339))
	m := &store.Monitor{Name: "cron", Type: store.MonitorTypeHeartbeat, Target: "backup-job", FrequencyMinutes: 5, Enabled: true, Status: store.MonitorStatusUp, Config: &cfg}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.dispatcher.HandleTask(s.ctx, checkTask(m)))

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 10)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), results)
}

func (s *MonitorDispatcherTestSuite) TestHeartbeatOverdueGoesDown() {
	stale := time.Now().UTC().Add(-3 * time.Hour)
	cfg := fmt.Sprintf(`{"expectedIntervalMinutes":60,"gracePeriodMinutes":10,"lastPingAt":%q}`, stale.Format(time.RFC3339))
	m := &store.Monitor{Name: "cron", Type: store.MonitorTypeHeartbeat, Target: "backup-job", FrequencyMinutes: 5, Enabled: true, Status: store.MonitorStatusUp, Config: &cfg}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.dispatcher.HandleTask(s.ctx, checkTask(m)))

	got, err := s.store.GetMonitor(s.ctx, m.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), store.MonitorStatusDown, got.Status)

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	require.NotNil(s.T(), results[0].Details)
	assert.Contains(s.T(), *results[0].Details, "missed_heartbeat")
}

func (s *MonitorDispatcherTestSuite) TestUnknownTypeRecordsErrorSample() {
	m := &store.Monitor{Name: "weird", Type: "carrier_pigeon", Target: "loft", FrequencyMinutes: 1, Enabled: true, Status: store.MonitorStatusPending}
	require.NoError(s.T(), s.store.CreateMonitor(s.ctx, m))

	require.NoError(s.T(), s.dispatcher.HandleTask(s.ctx, checkTask(m)))

	results, err := s.store.RecentMonitorResults(s.ctx, m.ID, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	assert.Equal(s.T(), probe.StatusError, results[0].Status)
	assert.False(s.T(), results[0].IsUp)
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, store.MonitorStatusUp, deriveStatus(&probe.Result{IsUp: true}))
	assert.Equal(t, store.MonitorStatusDown, deriveStatus(&probe.Result{Status: probe.StatusTimeout}))
	assert.Equal(t, store.MonitorStatusDown, deriveStatus(&probe.Result{Status: probe.StatusError}))
}

func TestMonitorDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorDispatcherTestSuite))
}
