package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Success(t *testing.T) {
	e := NewExecutor(`sh -c "echo hello"`, time.Minute, logr.Discard())
	res, err := e.Run(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Contains(t, res.Output, "hello")
}

func TestExecutor_NonZeroExitIsResult(t *testing.T) {
	e := NewExecutor(`sh -c "echo boom >&2; exit 3"`, time.Minute, logr.Discard())
	res, err := e.Run(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "boom")
}

func TestExecutor_ExportsReportAndWorkDirs(t *testing.T) {
	workdir := t.TempDir()
	reportDir := t.TempDir()
	e := NewExecutor(`sh -c "printf %s:%s $SUPERCHECK_REPORT_DIR $SUPERCHECK_WORK_DIR"`, time.Minute, logr.Discard())
	res, err := e.Run(context.Background(), workdir, reportDir)
	require.NoError(t, err)
	assert.Equal(t, reportDir+":"+workdir, res.Output)
}

func TestExecutor_Timeout(t *testing.T) {
	e := NewExecutor(`sleep 30`, 200*time.Millisecond, logr.Discard())
	start := time.Now()
	res, err := e.Run(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
	// sleep dies on SIGTERM, well before the kill grace
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutor_KillsTermIgnoringChildWithinGrace(t *testing.T) {
	// the shell ignores SIGTERM and respawns sleeps, so only SIGKILL at the
	// end of the grace period ends it
	e := NewExecutor(`sh -c "trap '' TERM; while :; do sleep 1; done"`, 200*time.Millisecond, logr.Discard())
	start := time.Now()
	res, err := e.Run(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.True(t, res.TimedOut)
	assert.Greater(t, elapsed, 4*time.Second)
	assert.Less(t, elapsed, 9*time.Second)
}

func TestExecutor_StartFailureIsError(t *testing.T) {
	e := NewExecutor(`/nonexistent/binary`, time.Minute, logr.Discard())
	_, err := e.Run(context.Background(), t.TempDir(), t.TempDir())
	assert.Error(t, err)
}

func TestExecutor_EmptyCommand(t *testing.T) {
	e := NewExecutor("", time.Minute, logr.Discard())
	_, err := e.Run(context.Background(), t.TempDir(), t.TempDir())
	assert.Error(t, err)
}

func TestExecutor_UnbalancedQuotes(t *testing.T) {
	e := NewExecutor(`sh -c "unterminated`, time.Minute, logr.Discard())
	_, err := e.Run(context.Background(), t.TempDir(), t.TempDir())
	assert.Error(t, err)
}

func TestCappedBuffer_UnderLimit(t *testing.T) {
	b := newCappedBuffer(16)
	_, err := b.Write([]byte("short"))
	require.NoError(t, err)
	assert.Equal(t, "short", b.String())
}

func TestCappedBuffer_TruncatesWithMarker(t *testing.T) {
	b := newCappedBuffer(8)
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("more"))
	assert.Equal(t, "01234567"+truncationMarker, b.String())
}

func TestCappedBuffer_ExactLimitNotTruncated(t *testing.T) {
	b := newCappedBuffer(4)
	_, _ = b.Write([]byte("abcd"))
	assert.Equal(t, "abcd", b.String())
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "login-flow", sanitizeName("login-flow"))
	assert.Equal(t, "login-flow-v2", sanitizeName("login flow/v2"))
	assert.Equal(t, "a_b-1", sanitizeName("a_b-1"))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", tail("short", 10))
	long := strings.Repeat("x", 100) + "end"
	assert.Equal(t, "xxend", tail(long, 5))
}
