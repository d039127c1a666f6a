// Package compliance provides a reusable contract-check harness that every
// backend adapter's test suite runs against itself.
package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/pkg/types"
)

// Target describes the adapter under test. NewSession returns a connected
// BackendSession backed by whatever fake transport the adapter's own tests
// provide; leave it nil to check only the static surface.
type Target struct {
	Adapter    adapter.Adapter
	NewSession func(t *testing.T) adapter.BackendSession
}

// Run executes the adapter contract checks as subtests.
func Run(t *testing.T, target Target) {
	t.Helper()

	t.Run("Name", func(t *testing.T) {
		if target.Adapter.Name() == "" {
			t.Fatal("adapter name must be non-empty")
		}
	})

	t.Run("Capabilities", func(t *testing.T) {
		caps := target.Adapter.Capabilities()
		switch caps.Availability {
		case adapter.AvailabilityLocal, adapter.AvailabilityCloud:
		default:
			t.Fatalf("availability must be local or cloud, got %q", caps.Availability)
		}
	})

	if target.NewSession == nil {
		return
	}

	t.Run("CloseIdempotent", func(t *testing.T) {
		sess := target.NewSession(t)
		if err := sess.Close(); err != nil {
			t.Fatalf("first close: %v", err)
		}
		if err := sess.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}
	})

	t.Run("MessagesCloseOnClose", func(t *testing.T) {
		sess := target.NewSession(t)
		if err := sess.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		deadline := time.After(2 * time.Second)
		for {
			select {
			case _, ok := <-sess.Messages():
				if !ok {
					return
				}
				// Drain messages emitted before teardown.
			case <-deadline:
				t.Fatal("messages channel did not close after Close")
			}
		}
	})

	t.Run("SendAfterCloseFails", func(t *testing.T) {
		sess := target.NewSession(t)
		if err := sess.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		err := sess.Send(context.Background(), types.UnifiedMessage{
			Type:    types.MessageTypeUser,
			Role:    types.RoleUser,
			Content: []types.ContentBlock{types.TextBlock("after close")},
		})
		if err == nil {
			t.Fatal("send after close must fail")
		}
	})
}
