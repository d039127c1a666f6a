package runtime_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/teng-lin/beamcode/citest/testutil"
	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/event"
	"github.com/teng-lin/beamcode/internal/session"
	"github.com/teng-lin/beamcode/internal/slashcmd"
	"github.com/teng-lin/beamcode/pkg/types"
)

var _ = Describe("Session runtime", func() {
	var (
		bus     *event.Bus
		bridge  *session.Bridge
		ad      *testutil.ScriptedAdapter
		sess    *session.Session
		backend *testutil.ScriptedBackend
	)

	participant := func(id string) types.Identity {
		return types.Identity{ConsumerID: id, Role: "participant"}
	}

	BeforeEach(func() {
		bus = event.NewBus()
		ad = testutil.NewScriptedAdapter("scripted")

		reg, err := adapter.NewRegistry(ad)
		Expect(err).NotTo(HaveOccurred())

		bridge = session.NewBridge(
			session.BridgeConfig{HistorySize: 100},
			session.NewRepository(nil),
			reg, bus, nil,
			slashcmd.NewChain(slashcmd.NewLocalHandler()),
		)

		sess, err = bridge.CreateSession(context.Background(), session.CreateRequest{
			Cwd:         "/work",
			AdapterName: "scripted",
		})
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() *testutil.ScriptedBackend { return ad.Backend() },
			2*time.Second, 10*time.Millisecond).ShouldNot(BeNil())
		backend = ad.Backend()

		backend.EmitInit("be-1")
		Eventually(sess.State, 2*time.Second, 10*time.Millisecond).Should(Equal(session.StateActive))
	})

	AfterEach(func() {
		bridge.CloseAll()
		bus.Close()
	})

	It("runs a two-turn conversation observed by both consumers in order", func() {
		sink1 := &testutil.Sink{}
		sink2 := &testutil.Sink{}
		Expect(bridge.AttachConsumer(sess.ID(), "c1", participant("c1"), sink1)).To(Succeed())
		Expect(bridge.AttachConsumer(sess.ID(), "c2", participant("c2"), sink2)).To(Succeed())

		Expect(bridge.IngestInbound(sess.ID(), "c1", types.ConsumerCommand{
			Type: types.CmdUserMessage, Content: "Turn 1?",
		})).To(Succeed())
		Eventually(func() int { return len(backend.Sent()) }, 2*time.Second, 10*time.Millisecond).Should(Equal(1))
		backend.EmitAssistant("Answer 1")
		backend.EmitResult("done-1")

		Eventually(sess.State, 2*time.Second, 10*time.Millisecond).Should(Equal(session.StateIdle))

		Expect(bridge.IngestInbound(sess.ID(), "c1", types.ConsumerCommand{
			Type: types.CmdUserMessage, Content: "Turn 2?",
		})).To(Succeed())
		Eventually(func() int { return len(backend.Sent()) }, 2*time.Second, 10*time.Millisecond).Should(Equal(2))
		backend.EmitAssistant("Answer 2")
		backend.EmitResult("done-2")

		for _, sink := range []*testutil.Sink{sink1, sink2} {
			Eventually(func() int {
				return len(sink.ByType(types.MessageTypeResult))
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(2))

			assistants := sink.ByType(types.MessageTypeAssistant)
			Expect(assistants).To(HaveLen(2))
			Expect(assistants[0].PlainText()).To(Equal("Answer 1"))
			Expect(assistants[1].PlainText()).To(Equal("Answer 2"))

			results := sink.ByType(types.MessageTypeResult)
			Expect(results[0].MetaString(types.MetaSubtype)).To(Equal("done-1"))
			Expect(results[1].MetaString(types.MetaSubtype)).To(Equal("done-2"))
		}
	})

	It("queues a message and releases it on the next result", func() {
		sink := &testutil.Sink{}
		Expect(bridge.AttachConsumer(sess.ID(), "c1", participant("c1"), sink)).To(Succeed())

		Expect(bridge.IngestInbound(sess.ID(), "c1", types.ConsumerCommand{
			Type: types.CmdQueueMessage, Content: "queued hello",
		})).To(Succeed())

		Eventually(func() int {
			return len(sink.BySubtype("message_queued"))
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(1))

		backend.EmitResult("success")

		Eventually(func() int {
			return len(sink.BySubtype("queued_message_sent"))
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(1))

		Eventually(func() int { return len(backend.Sent()) },
			2*time.Second, 10*time.Millisecond).Should(Equal(1))
		Expect(backend.Sent()[0].PlainText()).To(Equal("queued hello"))
	})

	It("answers /help locally with emulated source", func() {
		sink := &testutil.Sink{}
		Expect(bridge.AttachConsumer(sess.ID(), "c1", participant("c1"), sink)).To(Succeed())

		Expect(bridge.IngestInbound(sess.ID(), "c1", types.ConsumerCommand{
			Type:      types.CmdSlashCommand,
			Command:   "/help",
			RequestID: "req-42",
		})).To(Succeed())

		Eventually(func() int {
			return len(sink.ByType(types.MessageTypeSlashCommandResult))
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(1))

		res := sink.ByType(types.MessageTypeSlashCommandResult)[0]
		Expect(res.MetaString(types.MetaRequestID)).To(Equal("req-42"))
		Expect(res.MetaString(types.MetaSource)).To(Equal(slashcmd.SourceEmulated))
		Expect(res.PlainText()).To(ContainSubstring("/help"))
		Expect(res.PlainText()).To(ContainSubstring("/compact"))
	})

	It("survives a consumer disconnect without losing pending permissions", func() {
		sink := &testutil.Sink{}
		Expect(bridge.AttachConsumer(sess.ID(), "c1", participant("c1"), sink)).To(Succeed())

		req := types.UnifiedMessage{Type: types.MessageTypePermissionRequest, Role: types.RoleSystem}
		req.SetMeta(types.MetaRequestID, "req-1")
		req.SetMeta("tool_name", "bash")
		backend.EmitAssistant("about to run a tool")
		backend.Emit(req)

		Eventually(func() int {
			return len(sink.ByType(types.MessageTypePermissionRequest))
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(1))

		// Consumer churn: disconnect, reconnect, and the request is still
		// answerable.
		bridge.DetachConsumer(sess.ID(), "c1")
		sink2 := &testutil.Sink{}
		Expect(bridge.AttachConsumer(sess.ID(), "c2", participant("c2"), sink2)).To(Succeed())

		// The replayed history carries the permission request.
		Eventually(func() int {
			return len(sink2.ByType(types.MessageTypePermissionRequest))
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(1))

		Expect(bridge.IngestInbound(sess.ID(), "c2", types.ConsumerCommand{
			Type: types.CmdPermissionResponse,
			Permission: &types.PermissionResponse{
				RequestID: "req-1",
				Behavior:  types.PermissionAllow,
			},
		})).To(Succeed())

		Eventually(func() int {
			return len(sink2.ByType(types.MessageTypePermissionResponse))
		}, 2*time.Second, 10*time.Millisecond).Should(Equal(1))
	})
})
