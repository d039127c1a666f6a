package slashcmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/teng-lin/beamcode/pkg/types"
)

// LocalHandler serves built-in commands without touching the backend. Its
// commands are also programmatically callable through Run.
type LocalHandler struct {
	commands map[string]func(env Env) string
}

// NewLocalHandler registers the built-ins.
func NewLocalHandler() *LocalHandler {
	h := &LocalHandler{commands: make(map[string]func(env Env) string)}
	h.commands["/help"] = h.help
	h.commands["/compact"] = func(Env) string {
		return "Compaction is handled locally and sends nothing to the backend; earlier turns are left as they are."
	}
	h.commands["/status"] = func(env Env) string {
		info := env.Info()
		return fmt.Sprintf("session %s\nadapter: %s\nmodel: %s\nqueued messages: %d",
			info.ID, info.AdapterName, info.Model, env.QueueLen())
	}
	return h
}

func (h *LocalHandler) help(Env) string {
	names := make([]string, 0, len(h.commands))
	for name := range h.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return "Available built-in commands:\n" + strings.Join(names, "\n")
}

func (h *LocalHandler) Name() string { return "local" }

func (h *LocalHandler) Handle(ctx context.Context, env Env, cmd types.ConsumerCommand) (Result, bool) {
	fn, ok := h.commands[commandWord(cmd.Command)]
	if !ok {
		return Result{}, false
	}
	return Result{Content: fn(env), Source: SourceEmulated}, true
}

// Run executes a built-in directly, bypassing the consumer plane.
func (h *LocalHandler) Run(command string, env Env) (Result, error) {
	fn, ok := h.commands[commandWord(command)]
	if !ok {
		return Result{}, fmt.Errorf("unknown built-in command: %s", command)
	}
	return Result{Content: fn(env), Source: SourceEmulated}, nil
}

// NativeHandler forwards commands to backends that advertise slash support.
type NativeHandler struct{}

func (h *NativeHandler) Name() string { return "adapter-native" }

func (h *NativeHandler) Handle(ctx context.Context, env Env, cmd types.ConsumerCommand) (Result, bool) {
	if !env.Capabilities().SlashCommands {
		return Result{}, false
	}

	msg := types.UnifiedMessage{
		Type:    types.MessageTypeUser,
		Role:    types.RoleUser,
		Content: []types.ContentBlock{types.TextBlock(cmd.Command)},
	}
	msg.SetMeta(types.MetaRequestID, cmd.RequestID)

	if err := env.SendToBackend(ctx, msg); err != nil {
		return Result{Content: "backend rejected command: " + err.Error(), Source: SourceAdapter}, true
	}
	env.RegisterPassthrough(cmd.RequestID, cmd.Command)
	return Result{Deferred: true}, true
}

// PassthroughHandler wraps the command into a plain user message; the next
// assistant reply becomes the command's result.
type PassthroughHandler struct{}

func (h *PassthroughHandler) Name() string { return "passthrough" }

func (h *PassthroughHandler) Handle(ctx context.Context, env Env, cmd types.ConsumerCommand) (Result, bool) {
	if !env.Capabilities().Streaming {
		return Result{}, false
	}

	msg := types.UnifiedMessage{
		Type:    types.MessageTypeUser,
		Role:    types.RoleUser,
		Content: []types.ContentBlock{types.TextBlock(cmd.Command)},
	}
	if err := env.SendToBackend(ctx, msg); err != nil {
		return Result{}, false
	}
	env.RegisterPassthrough(cmd.RequestID, cmd.Command)
	return Result{Deferred: true}, true
}

// UnsupportedHandler terminates the chain.
type UnsupportedHandler struct{}

func (h *UnsupportedHandler) Name() string { return "unsupported" }

func (h *UnsupportedHandler) Handle(ctx context.Context, env Env, cmd types.ConsumerCommand) (Result, bool) {
	return Result{
		Content: fmt.Sprintf("command %s is not supported by this session", commandWord(cmd.Command)),
		Source:  SourceUnsupported,
	}, true
}

// commandWord strips arguments: "/help me please" -> "/help".
func commandWord(command string) string {
	if i := strings.IndexByte(command, ' '); i > 0 {
		return command[:i]
	}
	return command
}
