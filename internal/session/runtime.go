package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/internal/logging"
	"github.com/teng-lin/beamcode/internal/permission"
	"github.com/teng-lin/beamcode/internal/slashcmd"
	"github.com/teng-lin/beamcode/internal/teamstate"
	"github.com/teng-lin/beamcode/pkg/types"
)

// PolicyCommand is a supervisory instruction applied through the sequencer.
type PolicyCommand struct {
	Type string `json:"type"`
}

// Policy command types.
const (
	PolicyReconnectTimeout    = "reconnect_timeout"
	PolicyIdleReap            = "idle_reap"
	PolicyCapabilitiesTimeout = "capabilities_timeout"
)

type cmdKind int

const (
	cmdInbound cmdKind = iota
	cmdBind
	cmdBackendMsg
	cmdBackendClosed
	cmdPolicy
	cmdAttach
	cmdDetach
	cmdWatchdog
	cmdClose
)

type runtimeCmd struct {
	kind       cmdKind
	consumerID string
	identity   types.Identity
	sink       ConsumerSink
	cmd        types.ConsumerCommand
	msg        types.UnifiedMessage
	policy     PolicyCommand
	elapsed    time.Duration
	backend    adapter.BackendSession
	caps       adapter.Capabilities
}

// Runtime is the per-session sequencer. It is the sole mutator of lifecycle
// state; inbound commands, backend messages, and policy commands all pass
// through one ordered channel and are processed by one goroutine.
type Runtime struct {
	sess        *Session
	caps        adapter.Capabilities
	backend     adapter.BackendSession
	bus         *event.Bus
	broadcaster *Broadcaster
	chain       *slashcmd.Chain
	persist     func(*Session)
	onClosed    func(sessionID string)

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan runtimeCmd
	done   chan struct{}
	log    zerolog.Logger
}

// RuntimeDeps wires a runtime's collaborators.
type RuntimeDeps struct {
	Bus     *event.Bus
	Chain   *slashcmd.Chain
	Persist func(*Session)
	// OnClosed is invoked once, after the terminal transition.
	OnClosed func(sessionID string)
}

// NewRuntime starts a session's sequencer. The backend attaches separately
// through BindBackend once its connection is established.
func NewRuntime(sess *Session, deps RuntimeDeps) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		sess:        sess,
		bus:         deps.Bus,
		broadcaster: NewBroadcaster(sess.ID()),
		chain:       deps.Chain,
		persist:     deps.Persist,
		onClosed:    deps.OnClosed,
		ctx:         ctx,
		cancel:      cancel,
		cmds:        make(chan runtimeCmd, 256),
		done:        make(chan struct{}),
		log:         logging.Component("runtime").With().Str("sessionId", sess.ID()).Logger(),
	}

	go r.loop()
	return r
}

// BindBackend hands an established backend connection to the sequencer.
// Rebinding replaces (and closes) a previous backend, which is how reconnect
// works.
func (r *Runtime) BindBackend(backend adapter.BackendSession, caps adapter.Capabilities) {
	r.enqueue(runtimeCmd{kind: cmdBind, backend: backend, caps: caps})
}

// pump feeds backend messages into the sequencer.
func (r *Runtime) pump(backend adapter.BackendSession) {
	for msg := range backend.Messages() {
		r.enqueue(runtimeCmd{kind: cmdBackendMsg, msg: msg})
	}
	r.enqueue(runtimeCmd{kind: cmdBackendClosed, backend: backend})
}

func (r *Runtime) enqueue(c runtimeCmd) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.cmds <- c:
	case <-r.done:
	}
}

func (r *Runtime) loop() {
	for {
		select {
		case c := <-r.cmds:
			r.handle(c)
			if c.kind == cmdClose {
				return
			}
		case <-r.ctx.Done():
			r.handle(runtimeCmd{kind: cmdClose})
			return
		}
	}
}

func (r *Runtime) handle(c runtimeCmd) {
	switch c.kind {
	case cmdInbound:
		r.handleInbound(c)
	case cmdBind:
		r.handleBind(c)
	case cmdBackendMsg:
		r.handleBackendMsg(c.msg)
	case cmdBackendClosed:
		r.handleBackendClosed(c.backend)
	case cmdPolicy:
		r.handlePolicy(c.policy)
	case cmdAttach:
		r.handleAttach(c)
	case cmdDetach:
		r.handleDetach(c)
	case cmdWatchdog:
		r.handleWatchdog(c.elapsed)
	case cmdClose:
		r.handleClose()
	}
}

// --- public surface -------------------------------------------------------

// IngestInbound submits a consumer command to the sequencer.
func (r *Runtime) IngestInbound(consumerID string, cmd types.ConsumerCommand) {
	r.enqueue(runtimeCmd{kind: cmdInbound, consumerID: consumerID, cmd: cmd})
}

// ApplyPolicyCommand submits a policy command to the sequencer.
func (r *Runtime) ApplyPolicyCommand(cmd PolicyCommand) {
	r.enqueue(runtimeCmd{kind: cmdPolicy, policy: cmd})
}

// AttachConsumer adds a consumer; it receives a session_init frame and the
// history tail.
func (r *Runtime) AttachConsumer(consumerID string, identity types.Identity, sink ConsumerSink) {
	r.enqueue(runtimeCmd{kind: cmdAttach, consumerID: consumerID, identity: identity, sink: sink})
}

// DetachConsumer removes a consumer.
func (r *Runtime) DetachConsumer(consumerID string) {
	r.enqueue(runtimeCmd{kind: cmdDetach, consumerID: consumerID})
}

// NotifyWatchdog fans a reconnect-watchdog status frame to consumers.
func (r *Runtime) NotifyWatchdog(elapsed time.Duration) {
	r.enqueue(runtimeCmd{kind: cmdWatchdog, elapsed: elapsed})
}

// Close tears the session down. Idempotent; returns once teardown ran.
func (r *Runtime) Close() {
	r.enqueue(runtimeCmd{kind: cmdClose})
	<-r.done
}

// Done is closed after the terminal transition.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Session exposes the owned session for read-side callers.
func (r *Runtime) Session() *Session { return r.sess }

// ConsumerCount reports attached consumers.
func (r *Runtime) ConsumerCount() int { return r.broadcaster.Count() }

// --- state machine --------------------------------------------------------

// transition validates and applies a lifecycle transition. Illegal requests
// are ignored and reported as invalidLifecycleTransition diagnostics.
func (r *Runtime) transition(to State) bool {
	from := r.sess.State()
	if !CanTransition(from, to) {
		r.log.Warn().Str("from", string(from)).Str("to", string(to)).Msg("invalidLifecycleTransition")
		r.bus.Publish(event.Event{
			Type:      event.InvalidTransition,
			SessionID: r.sess.ID(),
			Data:      map[string]string{"from": string(from), "to": string(to)},
		})
		return false
	}
	if from == to {
		return true
	}

	r.sess.setState(to)
	r.bus.Publish(event.Event{Type: event.SessionStateChanged, SessionID: r.sess.ID(), Data: string(to)})

	status := types.UnifiedMessage{Type: types.MessageTypeStatusChange, Role: types.RoleSystem}
	status.SetMeta(types.MetaState, string(to))
	r.record(status)
	r.save()
	return true
}

// record assigns the next message id, appends to history, and fans out.
func (r *Runtime) record(msg types.UnifiedMessage) types.UnifiedMessage {
	msg.ID = r.sess.nextMessageID()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if backendID := msg.MetaString(types.MetaSessionID); backendID != "" && backendID != r.sess.ID() {
		msg.SetMeta("backend_session_id", backendID)
	}
	msg.SetMeta(types.MetaSessionID, r.sess.ID())

	r.sess.history.Push(msg)
	r.broadcaster.Broadcast(msg)
	r.bus.Publish(event.Event{Type: event.MessageFanout, SessionID: r.sess.ID(), Data: string(msg.Type)})
	return msg
}

// sendError delivers an error frame to one consumer without recording it.
func (r *Runtime) sendError(consumerID, text string) {
	msg := types.UnifiedMessage{
		Type:    types.MessageTypeError,
		Role:    types.RoleSystem,
		Content: []types.ContentBlock{types.TextBlock(text)},
	}
	r.broadcaster.SendTo(consumerID, msg)
}

func (r *Runtime) save() {
	if r.persist != nil {
		r.persist(r.sess)
	}
}

// --- inbound commands -----------------------------------------------------

func (r *Runtime) handleInbound(c runtimeCmd) {
	if r.sess.State().Terminal() {
		return
	}
	r.sess.Touch()

	identity, attached := r.broadcaster.Identity(c.consumerID)
	if attached && !identity.Participant() && c.cmd.Type != "" {
		r.sendError(c.consumerID, "observers cannot drive the session")
		return
	}

	switch c.cmd.Type {
	case types.CmdUserMessage:
		r.handleUserMessage(c)
	case types.CmdQueueMessage:
		r.handleQueueMessage(c)
	case types.CmdUpdateQueuedMessage:
		if err := r.sess.queue.Update(c.cmd.QueuedID, c.consumerID, c.cmd.Content); err != nil {
			r.sendError(c.consumerID, err.Error())
			return
		}
		r.queueChanged()
	case types.CmdCancelQueuedMessage:
		if err := r.sess.queue.Cancel(c.cmd.QueuedID, c.consumerID); err != nil {
			r.sendError(c.consumerID, err.Error())
			return
		}
		r.queueChanged()
	case types.CmdSlashCommand:
		r.handleSlashCommand(c)
	case types.CmdPermissionResponse:
		r.handlePermissionResponse(c)
	case types.CmdInterrupt:
		r.handleInterrupt(c)
	case types.CmdConfigurationChange:
		r.handleConfigurationChange(c)
	default:
		r.sendError(c.consumerID, fmt.Sprintf("unknown command type %q", c.cmd.Type))
	}
}

func (r *Runtime) handleUserMessage(c runtimeCmd) {
	state := r.sess.State()
	switch state {
	case StateActive, StateIdle:
	default:
		r.sendError(c.consumerID, fmt.Sprintf("session is %s and cannot accept messages", state))
		return
	}

	msg := types.UnifiedMessage{
		Type:    types.MessageTypeUser,
		Role:    types.RoleUser,
		Content: []types.ContentBlock{types.TextBlock(c.cmd.Content)},
	}
	msg.SetMeta("author", c.consumerID)
	recorded := r.record(msg)

	r.transition(StateActive)
	if err := r.backendSend(recorded); err != nil {
		r.sendError(c.consumerID, "backend send failed: "+err.Error())
	}
}

func (r *Runtime) handleQueueMessage(c runtimeCmd) {
	item := r.sess.queue.Enqueue(c.consumerID, c.cmd.Content)

	note := types.UnifiedMessage{Type: types.MessageTypeSystem, Role: types.RoleSystem}
	note.SetMeta(types.MetaSubtype, "message_queued")
	note.SetMeta("queued_id", item.ID)
	note.SetMeta("queue_depth", r.sess.queue.Len())
	r.record(note)
	r.queueChanged()
}

func (r *Runtime) queueChanged() {
	r.bus.Publish(event.Event{Type: event.QueueChanged, SessionID: r.sess.ID(), Data: r.sess.queue.Len()})
	r.save()
}

func (r *Runtime) handleSlashCommand(c runtimeCmd) {
	inbound := types.UnifiedMessage{Type: types.MessageTypeSlashCommand, Role: types.RoleUser}
	inbound.SetMeta(types.MetaRequestID, c.cmd.RequestID)
	inbound.SetMeta("command", c.cmd.Command)
	r.record(inbound)

	if result, ok := r.chain.Dispatch(r.ctx, (*runtimeEnv)(r), c.cmd); ok {
		r.record(result)
	}
}

func (r *Runtime) handlePermissionResponse(c runtimeCmd) {
	resp := c.cmd.Permission
	if resp == nil {
		r.sendError(c.consumerID, "permission_response requires a permission payload")
		return
	}

	if _, pending := r.sess.pendingPermissions[resp.RequestID]; !pending {
		r.log.Warn().Str("requestId", resp.RequestID).Msg("permission response for unknown request dropped")
		return
	}
	delete(r.sess.pendingPermissions, resp.RequestID)

	if handler, ok := r.backend.(adapter.PermissionHandler); ok && r.sess.State().AcceptsBackendTraffic() {
		if err := handler.RespondPermission(r.ctx, *resp); err != nil {
			r.log.Error().Err(err).Str("requestId", resp.RequestID).Msg("backend permission ack failed")
		}
	}

	echo := types.UnifiedMessage{Type: types.MessageTypePermissionResponse, Role: types.RoleUser}
	echo.SetMeta(types.MetaRequestID, resp.RequestID)
	echo.SetMeta("behavior", string(resp.Behavior))
	r.record(echo)

	r.bus.Publish(event.Event{Type: event.PermissionResolved, SessionID: r.sess.ID(), Data: resp.RequestID})
	r.save()
}

func (r *Runtime) handleInterrupt(c runtimeCmd) {
	msg := types.UnifiedMessage{Type: types.MessageTypeInterrupt, Role: types.RoleUser}
	msg.SetMeta(types.MetaRequestID, c.cmd.RequestID)
	r.record(msg)

	intr, ok := r.backend.(adapter.Interruptible)
	if !ok {
		r.sendError(c.consumerID, "backend does not support interrupt")
		return
	}
	if err := intr.Interrupt(r.ctx); err != nil {
		r.sendError(c.consumerID, "interrupt failed: "+err.Error())
	}
}

func (r *Runtime) handleConfigurationChange(c runtimeCmd) {
	conf, ok := r.backend.(adapter.Configurable)
	if !ok {
		r.sendError(c.consumerID, "backend does not support configuration changes")
		return
	}

	if c.cmd.Model != "" {
		if err := conf.SetModel(r.ctx, c.cmd.Model); err != nil {
			r.sendError(c.consumerID, "set model failed: "+err.Error())
			return
		}
		r.sess.updateInfo(func(info *types.SessionInfo) { info.Model = c.cmd.Model })
	}
	if c.cmd.PermissionMode != "" {
		if err := conf.SetPermissionMode(r.ctx, c.cmd.PermissionMode); err != nil {
			r.sendError(c.consumerID, "set permission mode failed: "+err.Error())
			return
		}
		r.sess.updateInfo(func(info *types.SessionInfo) { info.PermissionMode = c.cmd.PermissionMode })
	}

	msg := types.UnifiedMessage{Type: types.MessageTypeConfigurationChange, Role: types.RoleSystem}
	msg.SetMeta(types.MetaModel, c.cmd.Model)
	msg.SetMeta("permission_mode", c.cmd.PermissionMode)
	r.record(msg)
	r.save()
}

// backendSend forwards a message to the backend, honoring the no-sends-
// while-closing invariant.
func (r *Runtime) backendSend(msg types.UnifiedMessage) error {
	if !r.sess.State().AcceptsBackendTraffic() {
		return fmt.Errorf("session is %s", r.sess.State())
	}
	if r.backend == nil {
		return fmt.Errorf("no backend attached")
	}
	return r.backend.Send(r.ctx, msg)
}

// --- backend messages -----------------------------------------------------

func (r *Runtime) handleBind(c runtimeCmd) {
	if r.sess.State().Terminal() {
		if c.backend != nil {
			_ = c.backend.Close()
		}
		return
	}

	if r.backend != nil {
		_ = r.backend.Close()
	}
	r.backend = c.backend
	r.caps = c.caps
	go r.pump(c.backend)

	r.transition(StateAwaitingBackend)
}

func (r *Runtime) handleBackendMsg(msg types.UnifiedMessage) {
	if r.sess.State().Terminal() {
		return
	}
	r.sess.Touch()

	// The first frame proves the backend is live; protocols without an init
	// frame still leave awaiting_backend here.
	if r.sess.State() == StateAwaitingBackend {
		r.transition(StateActive)
		r.bus.Publish(event.Event{Type: event.BackendConnected, SessionID: r.sess.ID()})
	}

	if backendID := msg.MetaString(types.MetaSessionID); backendID != "" {
		r.sess.updateInfo(func(info *types.SessionInfo) {
			if info.BackendSessionID == "" {
				info.BackendSessionID = backendID
			}
		})
	}

	switch msg.Type {
	case types.MessageTypeSessionInit:
		r.record(msg)

	case types.MessageTypeResult:
		r.record(msg)
		r.transition(StateIdle)
		r.save()
		r.releaseQueuedMessage()

	case types.MessageTypeAssistant:
		r.resolvePassthrough(msg)
		r.record(msg)
		r.transition(StateActive)

	case types.MessageTypePermissionRequest:
		r.handleBackendPermissionRequest(msg)

	case types.MessageTypeTeamEvent:
		r.handleTeamEvent(msg)

	case types.MessageTypeError:
		r.record(msg)
		if msg.MetaString(types.MetaErrorCode) == string(adapter.ErrProviderAuth) {
			status := types.UnifiedMessage{Type: types.MessageTypeStatusChange, Role: types.RoleSystem}
			status.SetMeta(types.MetaErrorCode, string(adapter.ErrProviderAuth))
			status.SetMeta(types.MetaState, string(StateDegraded))
			r.record(status)
			r.transition(StateDegraded)
		}

	default:
		r.record(msg)
	}
}

// resolvePassthrough tags the first assistant reply after a passthrough
// slash command as that command's result.
func (r *Runtime) resolvePassthrough(assistant types.UnifiedMessage) {
	pending := r.sess.pendingSlash
	if pending == nil {
		return
	}
	r.sess.pendingSlash = nil

	result := types.UnifiedMessage{
		Type:    types.MessageTypeSlashCommandResult,
		Role:    types.RoleSystem,
		Content: assistant.Content,
	}
	result.SetMeta(types.MetaRequestID, pending.RequestID)
	result.SetMeta(types.MetaSource, slashcmd.SourcePassthrough)
	result.SetMeta("command", pending.Command)
	r.record(result)
}

func (r *Runtime) handleBackendPermissionRequest(msg types.UnifiedMessage) {
	requestID := msg.MetaString(types.MetaRequestID)
	if requestID == "" {
		requestID = "perm_" + uuid.NewString()
		msg.SetMeta(types.MetaRequestID, requestID)
	}
	toolName := msg.MetaString("tool_name")

	info := r.sess.Info()
	if permission.AutoAllowed(info.PermissionMode, info.AllowedTools, toolName) {
		if handler, ok := r.backend.(adapter.PermissionHandler); ok {
			resp := types.PermissionResponse{RequestID: requestID, Behavior: types.PermissionAllow}
			if err := handler.RespondPermission(r.ctx, resp); err == nil {
				r.log.Debug().Str("tool", toolName).Msg("tool use auto-allowed")
				return
			}
		}
	}

	input, _ := msg.Meta("input").(map[string]any)
	r.sess.pendingPermissions[requestID] = types.PermissionRequest{
		RequestID:   requestID,
		ToolName:    toolName,
		Input:       input,
		Description: msg.MetaString("description"),
		CreatedAt:   time.Now(),
	}

	r.record(msg)
	r.bus.Publish(event.Event{Type: event.PermissionRequested, SessionID: r.sess.ID(), Data: requestID})
	r.save()
}

func (r *Runtime) handleTeamEvent(msg types.UnifiedMessage) {
	team, ok := msg.Meta("team").(types.TeamState)
	if !ok {
		r.record(msg)
		return
	}

	changes := teamstate.Diff(r.sess.team, &team)
	r.sess.team = &team

	for _, change := range changes {
		ev := types.UnifiedMessage{Type: types.MessageTypeTeamEvent, Role: types.RoleSystem}
		ev.SetMeta(types.MetaSubtype, string(change.Kind))
		if change.Member != nil {
			ev.SetMeta("member", *change.Member)
		}
		if change.Task != nil {
			ev.SetMeta("task", *change.Task)
		}
		r.record(ev)
		r.bus.Publish(event.Event{Type: teamEventType(change.Kind), SessionID: r.sess.ID(), Data: change})
	}
}

func teamEventType(kind teamstate.ChangeKind) event.Type {
	switch kind {
	case teamstate.MemberJoined:
		return event.TeamMemberJoined
	case teamstate.MemberLeft:
		return event.TeamMemberLeft
	case teamstate.MemberStatus:
		return event.TeamMemberStatus
	case teamstate.TaskCreated:
		return event.TeamTaskCreated
	case teamstate.TaskClaimed:
		return event.TeamTaskClaimed
	case teamstate.TaskCompleted:
		return event.TeamTaskCompleted
	default:
		return event.TeamTaskCreated
	}
}

// releaseQueuedMessage sends the queue head once the backend reports idle.
func (r *Runtime) releaseQueuedMessage() {
	head, ok := r.sess.queue.Dequeue()
	if !ok {
		return
	}

	note := types.UnifiedMessage{Type: types.MessageTypeSystem, Role: types.RoleSystem}
	note.SetMeta(types.MetaSubtype, "queued_message_sent")
	note.SetMeta("queued_id", head.ID)
	note.SetMeta("queue_depth", r.sess.queue.Len())
	r.record(note)
	r.queueChanged()

	msg := types.UnifiedMessage{
		Type:    types.MessageTypeUser,
		Role:    types.RoleUser,
		Content: []types.ContentBlock{types.TextBlock(head.Content)},
	}
	msg.SetMeta("author", head.AuthorID)
	msg.SetMeta("queued_id", head.ID)
	recorded := r.record(msg)

	r.transition(StateActive)
	if err := r.backendSend(recorded); err != nil {
		r.log.Error().Err(err).Msg("queued message send failed")
	}
}

func (r *Runtime) handleBackendClosed(backend adapter.BackendSession) {
	if backend != nil && r.backend != backend {
		// A superseded backend's pump drained; the live one is unaffected.
		return
	}
	state := r.sess.State()
	if state.Terminal() || state == StateClosing {
		return
	}
	r.bus.Publish(event.Event{Type: event.BackendDisconnected, SessionID: r.sess.ID()})
	r.backend = nil
	r.transition(StateDegraded)
}

// --- policy ---------------------------------------------------------------

func (r *Runtime) handlePolicy(p PolicyCommand) {
	switch p.Type {
	case PolicyReconnectTimeout:
		switch r.sess.State() {
		case StateStarting:
			// The launcher owns the relaunch; consumers get a watchdog frame.
			r.handleWatchdog(0)
			r.bus.Publish(event.Event{Type: event.ProcessExited, SessionID: r.sess.ID(), Data: "reconnect_timeout"})
		case StateAwaitingBackend:
			r.transition(StateDegraded)
		}

	case PolicyIdleReap:
		if r.broadcaster.Count() > 0 {
			return
		}
		if r.sess.State().Terminal() {
			return
		}
		r.log.Info().Msg("idle session reaped")
		r.handleClose()

	case PolicyCapabilitiesTimeout:
		status := types.UnifiedMessage{Type: types.MessageTypeStatusChange, Role: types.RoleSystem}
		status.SetMeta(types.MetaErrorCode, "capabilities_timeout")
		status.SetMeta(types.MetaState, string(StateDegraded))
		r.record(status)
		r.transition(StateDegraded)

	default:
		r.log.Warn().Str("type", p.Type).Msg("unknown policy command")
	}
}

// --- consumers ------------------------------------------------------------

func (r *Runtime) handleAttach(c runtimeCmd) {
	if r.sess.State().Terminal() {
		_ = c.sink.Close()
		return
	}

	r.broadcaster.Attach(c.consumerID, c.identity, c.sink)
	r.sess.Touch()

	info := r.sess.Info()
	init := types.UnifiedMessage{Type: types.MessageTypeSessionInit, Role: types.RoleSystem}
	init.SetMeta(types.MetaSessionID, info.ID)
	init.SetMeta(types.MetaState, string(r.sess.State()))
	init.SetMeta(types.MetaModel, info.Model)
	init.SetMeta("adapter", info.AdapterName)
	init.SetMeta("cwd", info.Cwd)

	replay := append([]types.UnifiedMessage{init}, r.sess.history.ToArray()...)
	r.broadcaster.SendTo(c.consumerID, replay...)

	r.bus.Publish(event.Event{Type: event.ConsumerConnected, SessionID: r.sess.ID(), Data: c.consumerID})
}

func (r *Runtime) handleDetach(c runtimeCmd) {
	if r.broadcaster.Detach(c.consumerID) {
		r.bus.Publish(event.Event{Type: event.ConsumerDisconnected, SessionID: r.sess.ID(), Data: c.consumerID})
	}
}

func (r *Runtime) handleWatchdog(elapsed time.Duration) {
	msg := types.UnifiedMessage{Type: types.MessageTypeStatusChange, Role: types.RoleSystem}
	msg.SetMeta(types.MetaSubtype, "watchdog")
	msg.SetMeta(types.MetaState, string(r.sess.State()))
	if elapsed > 0 {
		msg.SetMeta("waiting_ms", elapsed.Milliseconds())
	}
	// Watchdog frames are transient; they bypass history.
	r.broadcaster.Broadcast(msg)
}

// --- teardown -------------------------------------------------------------

func (r *Runtime) handleClose() {
	if r.sess.State().Terminal() {
		return
	}

	r.transition(StateClosing)

	// Flush: queued messages are dropped on the floor deliberately; the
	// backend is going away. The closed snapshot saved below holds an empty
	// queue, and closed sessions are not restored, so a restart does not
	// bring them back.
	if dropped := r.sess.queue.Clear(); len(dropped) > 0 {
		r.log.Info().Int("count", len(dropped)).Msg("dropping queued messages on close")
		r.bus.Publish(event.Event{Type: event.QueueChanged, SessionID: r.sess.ID(), Data: 0})
	}

	for id := range r.sess.pendingPermissions {
		delete(r.sess.pendingPermissions, id)
	}

	if r.backend != nil {
		if err := r.backend.Close(); err != nil {
			r.log.Warn().Err(err).Msg("backend close failed")
		}
		r.backend = nil
	}

	r.transition(StateClosed)
	r.save()

	r.broadcaster.CloseAll()
	r.cancel()
	r.bus.Publish(event.Event{Type: event.SessionClosed, SessionID: r.sess.ID()})

	if r.onClosed != nil {
		r.onClosed(r.sess.ID())
	}
	close(r.done)
}

// --- slash command environment -------------------------------------------

// runtimeEnv adapts the runtime to the slash chain's Env without widening
// the runtime's public surface.
type runtimeEnv Runtime

func (e *runtimeEnv) Capabilities() adapter.Capabilities { return e.caps }

func (e *runtimeEnv) SendToBackend(ctx context.Context, msg types.UnifiedMessage) error {
	r := (*Runtime)(e)
	recorded := r.record(msg)
	r.transition(StateActive)
	return r.backendSend(recorded)
}

func (e *runtimeEnv) RegisterPassthrough(requestID, command string) {
	e.sess.pendingSlash = &pendingPassthrough{RequestID: requestID, Command: command}
}

func (e *runtimeEnv) Info() types.SessionInfo { return e.sess.Info() }

func (e *runtimeEnv) QueueLen() int { return e.sess.queue.Len() }
