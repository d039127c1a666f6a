package claudecli

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/adapter/compliance"
	"github.com/teng-lin/beamcode/internal/gateway"
	"github.com/teng-lin/beamcode/pkg/types"
)

// testCLI is a fake Claude CLI dialing the gateway.
type testCLI struct {
	conn *websocket.Conn
	ctx  context.Context
}

func startBackendPair(t *testing.T, sessionID string) (*Adapter, adapter.BackendSession, *testCLI) {
	t.Helper()

	registry := gateway.NewSocketRegistry()
	gw := gateway.New(registry, func(string) bool { return true })
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	a := New(registry, 2*time.Second)

	type connectResult struct {
		sess adapter.BackendSession
		err  error
	}
	resCh := make(chan connectResult, 1)
	go func() {
		sess, err := a.Connect(context.Background(), adapter.ConnectOptions{SessionID: sessionID})
		resCh <- connectResult{sess, err}
	}()

	// Dial like the freshly launched CLI does.
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?sessionId=" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	res := <-resCh
	require.NoError(t, res.err)

	return a, res.sess, &testCLI{conn: conn, ctx: context.Background()}
}

func (c *testCLI) sendLine(t *testing.T, line string) {
	t.Helper()
	require.NoError(t, c.conn.Write(c.ctx, websocket.MessageText, []byte(line)))
}

func (c *testCLI) readFrame(t *testing.T) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(c.ctx, 2*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestConnectTimesOutWithoutDial(t *testing.T) {
	registry := gateway.NewSocketRegistry()
	a := New(registry, 100*time.Millisecond)

	_, err := a.Connect(context.Background(), adapter.ConnectOptions{SessionID: "never"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, adapter.ErrProcess, adapter.KindOf(err))
}

func TestSessionStreamsNormalizedMessages(t *testing.T) {
	_, sess, cli := startBackendPair(t, "s1")
	defer sess.Close()

	cli.sendLine(t, `{"type":"system","subtype":"init","session_id":"be-77","model":"opus"}`)
	cli.sendLine(t, `{"type":"assistant","session_id":"be-77","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`)

	var got []types.UnifiedMessage
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m, ok := <-sess.Messages():
			require.True(t, ok, "messages closed early")
			got = append(got, m)
		case <-timeout:
			t.Fatal("normalized messages not delivered")
		}
	}

	assert.Equal(t, types.MessageTypeSessionInit, got[0].Type)
	assert.Equal(t, types.MessageTypeAssistant, got[1].Type)

	// Backend id captured from the first frame.
	withID, ok := sess.(adapter.BackendSessionID)
	require.True(t, ok)
	assert.Equal(t, "be-77", withID.BackendID())
}

func TestSendWritesUserFrame(t *testing.T) {
	_, sess, cli := startBackendPair(t, "s1")
	defer sess.Close()

	msg := types.UnifiedMessage{
		Type:    types.MessageTypeUser,
		Role:    types.RoleUser,
		Content: []types.ContentBlock{types.TextBlock("Turn 1?")},
	}
	require.NoError(t, sess.Send(context.Background(), msg))

	f := cli.readFrame(t)
	assert.Equal(t, FrameUser, f.Type)
	assert.Equal(t, "s1", f.SessionID)
	assert.Equal(t, "Turn 1?", f.Message.Content[0].Text)
}

func TestCapabilityProbes(t *testing.T) {
	_, sess, cli := startBackendPair(t, "s1")
	defer sess.Close()

	intr, ok := sess.(adapter.Interruptible)
	require.True(t, ok)
	require.NoError(t, intr.Interrupt(context.Background()))
	f := cli.readFrame(t)
	assert.Equal(t, SubtypeInterrupt, f.Request.Subtype)
	assert.NotEmpty(t, f.RequestID)

	conf, ok := sess.(adapter.Configurable)
	require.True(t, ok)
	require.NoError(t, conf.SetModel(context.Background(), "sonnet"))
	f = cli.readFrame(t)
	assert.Equal(t, SubtypeSetModel, f.Request.Subtype)
	assert.Equal(t, "sonnet", f.Request.Model)

	perm, ok := sess.(adapter.PermissionHandler)
	require.True(t, ok)
	require.NoError(t, perm.RespondPermission(context.Background(), types.PermissionResponse{
		RequestID: "req-9",
		Behavior:  types.PermissionAllow,
	}))
	f = cli.readFrame(t)
	assert.Equal(t, FrameControlResponse, f.Type)
	assert.Equal(t, "req-9", f.Response.RequestID)
	assert.Equal(t, "allow", f.Response.Response["behavior"])
}

func TestCompliance(t *testing.T) {
	registry := gateway.NewSocketRegistry()
	a := New(registry, 2*time.Second)

	var n int
	compliance.Run(t, compliance.Target{
		Adapter: a,
		NewSession: func(t *testing.T) adapter.BackendSession {
			n++
			sid := "compliance-" + string(rune('a'+n))
			_, sess, _ := startBackendPair(t, sid)
			return sess
		},
	})
}
