package launcher

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/pkg/types"
)

func testLauncher(t *testing.T, commands map[string]CommandSpec, max int) (*Launcher, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	l := New(Config{
		MaxSessions: max,
		GatewayURL:  "ws://127.0.0.1:7433/cli/ws",
		Commands:    commands,
	}, bus)
	t.Cleanup(l.Shutdown)
	return l, bus
}

func TestSupports(t *testing.T) {
	l, _ := testLauncher(t, map[string]CommandSpec{
		"claude": {Args: []string{"claude", "--sdk-url", "{gatewayUrl}?sessionId={sessionId}"}},
	}, 4)

	assert.True(t, l.Supports("claude"))
	assert.False(t, l.Supports("gemini"))
}

func TestLaunchSubstitutesAndTracksPID(t *testing.T) {
	l, _ := testLauncher(t, map[string]CommandSpec{
		"sleepy": {Args: []string{"sleep", "30"}},
	}, 4)

	info := types.SessionInfo{ID: "s1", AdapterName: "sleepy", Cwd: t.TempDir()}
	pid, err := l.Launch(context.Background(), info)
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	got, ok := l.PID("s1")
	require.True(t, ok)
	assert.Equal(t, pid, got)
	assert.Equal(t, 1, l.Count())

	l.Kill("s1")
	require.Eventually(t, func() bool { return l.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLaunchEnforcesMaxSessions(t *testing.T) {
	l, _ := testLauncher(t, map[string]CommandSpec{
		"sleepy": {Args: []string{"sleep", "30"}},
	}, 1)

	_, err := l.Launch(context.Background(), types.SessionInfo{ID: "s1", AdapterName: "sleepy", Cwd: t.TempDir()})
	require.NoError(t, err)

	_, err = l.Launch(context.Background(), types.SessionInfo{ID: "s2", AdapterName: "sleepy", Cwd: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session limit")
}

func TestLaunchRejectsDuplicateSession(t *testing.T) {
	l, _ := testLauncher(t, map[string]CommandSpec{
		"sleepy": {Args: []string{"sleep", "30"}},
	}, 4)

	info := types.SessionInfo{ID: "s1", AdapterName: "sleepy", Cwd: t.TempDir()}
	_, err := l.Launch(context.Background(), info)
	require.NoError(t, err)

	_, err = l.Launch(context.Background(), info)
	assert.Error(t, err)
}

func TestLaunchUnknownAdapter(t *testing.T) {
	l, _ := testLauncher(t, nil, 4)
	_, err := l.Launch(context.Background(), types.SessionInfo{ID: "s1", AdapterName: "ghost"})
	assert.Error(t, err)
}

func TestExitPublishesProcessExited(t *testing.T) {
	l, bus := testLauncher(t, map[string]CommandSpec{
		"quick": {Args: []string{"true"}},
	}, 4)

	var mu sync.Mutex
	var exits []event.Event
	bus.Subscribe(event.ProcessExited, func(e event.Event) {
		mu.Lock()
		exits = append(exits, e)
		mu.Unlock()
	})

	_, err := l.Launch(context.Background(), types.SessionInfo{ID: "s1", AdapterName: "quick", Cwd: t.TempDir()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(exits) == 1 && exits[0].SessionID == "s1"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, l.Count())
}

func TestLogsAreCapturedAndRedacted(t *testing.T) {
	l, _ := testLauncher(t, map[string]CommandSpec{
		"chatty": {Args: []string{"sh", "-c", "echo hello {sessionId}; echo MY_API_KEY=topsecret; sleep 30"}},
	}, 4)

	_, err := l.Launch(context.Background(), types.SessionInfo{ID: "s1", AdapterName: "chatty", Cwd: t.TempDir()})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(l.Logs("s1")) >= 2 }, 2*time.Second, 10*time.Millisecond)

	lines := strings.Join(l.Logs("s1"), "\n")
	assert.Contains(t, lines, "hello s1", "argv placeholder substituted")
	assert.NotContains(t, lines, "topsecret", "captured output must be redacted")
	assert.Contains(t, lines, "MY_API_KEY=[REDACTED]")
}
