package probe

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortProber_TCPOpen(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	p := NewPortProber(logr.Discard())
	result := p.Probe(context.Background(), ln.Addr().String(), nil)

	assert.Equal(t, StatusUp, result.Status)
	require.NotNil(t, result.ResponseTimeMs)
}

func TestPortProber_ConfiguredPortJoinsBareHost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := NewPortProber(logr.Discard())
	result := p.Probe(context.Background(), "127.0.0.1", &PortConfig{Port: port})
	assert.Equal(t, StatusUp, result.Status)
}

func TestPortProber_ConfiguredPortOverridesTargetPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	// target names a closed port; the configured port wins
	p := NewPortProber(logr.Discard())
	result := p.Probe(context.Background(), "127.0.0.1:1", &PortConfig{Port: port})
	assert.Equal(t, StatusUp, result.Status)
}

func TestPortProber_TCPRefused(t *testing.T) {
	p := NewPortProber(logr.Discard())
	result := p.Probe(context.Background(), "127.0.0.1:1", nil)

	assert.Equal(t, StatusDown, result.Status)
	assert.Equal(t, classConnRefused, result.Details["errorClass"])
}

func TestPortProber_UnsupportedProtocol(t *testing.T) {
	p := NewPortProber(logr.Discard())
	result := p.Probe(context.Background(), "127.0.0.1:53", &PortConfig{Protocol: "sctp"})
	assert.Equal(t, StatusError, result.Status)
}

func TestPortProber_UDPSilenceIsBestEffortUp(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	p := NewPortProber(logr.Discard())
	result := p.Probe(context.Background(), conn.LocalAddr().String(), &PortConfig{Protocol: "udp", TimeoutSeconds: 3})

	assert.Equal(t, StatusUp, result.Status)
	assert.Contains(t, result.Details, "note")
}

func TestParsePortConfig(t *testing.T) {
	raw := `{"port":8443,"protocol":"udp","timeoutSeconds":3}`
	cfg, err := ParsePortConfig(&raw)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Port)
	assert.Equal(t, "udp", cfg.Protocol)
	assert.Equal(t, 3, cfg.TimeoutSeconds)

	cfg, err = ParsePortConfig(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Protocol)
}
