// Package slashcmd dispatches slash commands through an ordered handler
// chain. The first handler that claims a command owns it; the chain emits
// exactly one slash_command_result per dispatch.
package slashcmd

import (
	"context"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/pkg/types"
)

// Result sources.
const (
	SourceEmulated    = "emulated"
	SourceAdapter     = "adapter"
	SourcePassthrough = "passthrough"
	SourceUnsupported = "unsupported"
)

// Env is the slice of the session runtime a handler may touch.
type Env interface {
	// Capabilities of the session's backend.
	Capabilities() adapter.Capabilities

	// SendToBackend forwards a message on the backend connection.
	SendToBackend(ctx context.Context, msg types.UnifiedMessage) error

	// RegisterPassthrough marks the next assistant reply as the result of
	// the given slash command request.
	RegisterPassthrough(requestID, command string)

	// Info returns the session's metadata snapshot.
	Info() types.SessionInfo

	// QueueLen returns the outbound queue depth.
	QueueLen() int
}

// Handler is one link of the chain. Handle returns false to pass the command
// on; when it returns true the returned result (which may be zero for
// deferred results, e.g. passthrough) ends the dispatch.
type Handler interface {
	Name() string
	Handle(ctx context.Context, env Env, cmd types.ConsumerCommand) (Result, bool)
}

// Result is the payload of a slash_command_result message.
type Result struct {
	Content string
	Source  string
	// Deferred suppresses the immediate result message; a later assistant
	// reply will be tagged instead.
	Deferred bool
}

// Chain is the ordered handler list.
type Chain struct {
	handlers []Handler
}

// NewChain builds the standard chain: local built-ins, adapter-native
// forwarding, passthrough, unsupported terminal.
func NewChain(local *LocalHandler) *Chain {
	return &Chain{handlers: []Handler{
		local,
		&NativeHandler{},
		&PassthroughHandler{},
		&UnsupportedHandler{},
	}}
}

// Dispatch runs the command through the chain and returns the
// slash_command_result unified message, or ok=false when the claiming
// handler deferred the result.
func (c *Chain) Dispatch(ctx context.Context, env Env, cmd types.ConsumerCommand) (types.UnifiedMessage, bool) {
	for _, h := range c.handlers {
		res, claimed := h.Handle(ctx, env, cmd)
		if !claimed {
			continue
		}
		logging.Debug().
			Str("handler", h.Name()).
			Str("command", cmd.Command).
			Msg("slash command claimed")
		if res.Deferred {
			return types.UnifiedMessage{}, false
		}
		return resultMessage(cmd, res), true
	}

	// The terminal handler claims everything; reaching here is a chain
	// construction bug.
	return resultMessage(cmd, Result{Content: "command not handled", Source: SourceUnsupported}), true
}

func resultMessage(cmd types.ConsumerCommand, res Result) types.UnifiedMessage {
	msg := types.UnifiedMessage{
		Type:    types.MessageTypeSlashCommandResult,
		Role:    types.RoleSystem,
		Content: []types.ContentBlock{types.TextBlock(res.Content)},
	}
	msg.SetMeta(types.MetaRequestID, cmd.RequestID)
	msg.SetMeta(types.MetaSource, res.Source)
	msg.SetMeta("command", cmd.Command)
	return msg
}
