package agentsdk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/adapter/compliance"
	"github.com/teng-lin/beamcode/pkg/types"
)

func echoQuery(ctx context.Context, prompt types.UnifiedMessage, opts QueryOptions) (<-chan types.UnifiedMessage, error) {
	out := make(chan types.UnifiedMessage, 2)
	assistant := types.UnifiedMessage{
		Type:    types.MessageTypeAssistant,
		Role:    types.RoleAssistant,
		Content: []types.ContentBlock{types.TextBlock("echo: " + prompt.PlainText())},
	}
	assistant.SetMeta(types.MetaModel, opts.Model)
	out <- assistant
	out <- types.UnifiedMessage{Type: types.MessageTypeResult, Role: types.RoleSystem}
	close(out)
	return out, nil
}

func TestSendStreamsTurn(t *testing.T) {
	a := New(echoQuery)
	sess, err := a.Connect(context.Background(), adapter.ConnectOptions{
		SessionID: "s1",
		Model:     "opus",
	})
	require.NoError(t, err)
	defer sess.Close()

	prompt := types.UnifiedMessage{
		Type:    types.MessageTypeUser,
		Role:    types.RoleUser,
		Content: []types.ContentBlock{types.TextBlock("Turn 1?")},
	}
	require.NoError(t, sess.Send(context.Background(), prompt))

	var got []types.UnifiedMessage
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m := <-sess.Messages():
			got = append(got, m)
		case <-timeout:
			t.Fatal("turn not streamed")
		}
	}

	assert.Equal(t, types.MessageTypeAssistant, got[0].Type)
	assert.Equal(t, "echo: Turn 1?", got[0].PlainText())
	assert.Equal(t, "opus", got[0].MetaString(types.MetaModel))
	assert.Equal(t, types.MessageTypeResult, got[1].Type)
}

func TestQueryErrorSurfaces(t *testing.T) {
	a := New(func(ctx context.Context, prompt types.UnifiedMessage, opts QueryOptions) (<-chan types.UnifiedMessage, error) {
		return nil, errors.New("model unavailable")
	})
	sess, err := a.Connect(context.Background(), adapter.ConnectOptions{SessionID: "s1"})
	require.NoError(t, err)
	defer sess.Close()

	err = sess.Send(context.Background(), types.UnifiedMessage{Type: types.MessageTypeUser})
	require.Error(t, err)
	assert.Equal(t, adapter.ErrAPIError, adapter.KindOf(err))
}

func TestInterruptCancelsTurnContext(t *testing.T) {
	started := make(chan struct{})
	var startOnce sync.Once
	a := New(func(ctx context.Context, prompt types.UnifiedMessage, opts QueryOptions) (<-chan types.UnifiedMessage, error) {
		out := make(chan types.UnifiedMessage)
		go func() {
			startOnce.Do(func() { close(started) })
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	})

	sess, err := a.Connect(context.Background(), adapter.ConnectOptions{SessionID: "s1"})
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Send(context.Background(), types.UnifiedMessage{Type: types.MessageTypeUser}))
	<-started

	intr, ok := sess.(adapter.Interruptible)
	require.True(t, ok)
	require.NoError(t, intr.Interrupt(context.Background()))

	// A fresh turn still works after the interrupt.
	require.NoError(t, sess.Send(context.Background(), types.UnifiedMessage{Type: types.MessageTypeUser}))
}

func TestCompliance(t *testing.T) {
	a := New(echoQuery)
	compliance.Run(t, compliance.Target{
		Adapter: a,
		NewSession: func(t *testing.T) adapter.BackendSession {
			sess, err := a.Connect(context.Background(), adapter.ConnectOptions{SessionID: "c1"})
			require.NoError(t, err)
			return sess
		},
	})
}
