package service

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/config"
	"github.com/spec-kit/support-bridge/internal/domain"
	"github.com/spec-kit/support-bridge/internal/events"
	"github.com/spec-kit/support-bridge/internal/observability"
	"github.com/spec-kit/support-bridge/internal/persistence"
	"github.com/spec-kit/support-bridge/internal/platform"
	"github.com/spec-kit/support-bridge/internal/platform/platformtest"
	"github.com/spec-kit/support-bridge/internal/repository"
	"github.com/spec-kit/support-bridge/internal/session"
	"github.com/spec-kit/support-bridge/internal/worker"
)

const (
	userID       = int64(42)
	staffID      = int64(7)
	generalGroup = int64(-100)
	billingGroup = int64(-200)
)

// trackingEnqueuer counts accepted and finished actions so tests can wait for quiescence.
type trackingEnqueuer struct {
	d        *worker.Dispatcher
	accepted atomic.Int64
	done     atomic.Int64
}

func (e *trackingEnqueuer) Enqueue(actions ...worker.Action) int {
	n := e.d.Enqueue(actions...)
	e.accepted.Add(int64(n))
	return n
}

type harness struct {
	bridge   *BridgeService
	store    repository.Store
	sessions *session.MemoryStore
	fake     *platformtest.Fake
	metrics  *observability.Metrics
	outbound *trackingEnqueuer
	updateID atomic.Int64
}

func newHarness(t *testing.T, policy config.ClosedTicketPolicy) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := persistence.NewSQLite(ctx, config.SQLiteConfig{Path: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	h := &harness{
		store:    repository.NewSQLiteStore(db.DB),
		sessions: session.NewMemoryStore(),
		fake:     platformtest.NewFake(),
		metrics:  observability.NewMetrics(),
	}
	dispatcher := worker.NewDispatcher(h.fake, config.DispatchConfig{
		Workers:        4,
		MaxAttempts:    3,
		ActionTimeout:  time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, logger, h.metrics)
	h.outbound = &trackingEnqueuer{d: dispatcher}

	bridgeCfg := config.BridgeConfig{
		ClosedTicketPolicy:   policy,
		SessionTTL:           time.Hour,
		GreetingText:         "Hi! How can we help?",
		CloseNoticeText:      "Your request has been closed.",
		ReopenNoticeText:     "Your request has been reopened.",
		NotifyStaffOnFailure: true,
	}
	bus := events.NewInMemoryDispatcher()
	NewNotificationService(bus, h.store.Events, h.outbound, logger, bridgeCfg).RegisterHandlers()

	h.bridge = NewBridgeService(BridgeDependencies{
		Tickets:    h.store.Tickets,
		Mirrors:    h.store.Mirrors,
		Sessions:   h.sessions,
		Locker:     session.NewMemoryLocker(),
		Dispatcher: h.outbound,
		Events:     bus,
		Groups:     config.NewGroupMapping("general", map[string]int64{"general": generalGroup, "billing": billingGroup}),
		Config:     bridgeCfg,
		Logger:     logger,
		Metrics:    h.metrics,
	})
	dispatcher.SetResultHandler(worker.ResultHandlerFunc(func(ctx context.Context, res worker.Result) {
		h.bridge.OnActionResult(ctx, res)
		h.outbound.done.Add(1)
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Close(ctx)
	})
	return h
}

func (h *harness) handle(t *testing.T, update domain.Update) {
	t.Helper()
	require.NoError(t, h.bridge.Handle(context.Background(), update))
	h.settle(t)
}

// settle waits until every accepted action has reported its result.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.outbound.done.Load() == h.outbound.accepted.Load()
	}, 5*time.Second, 2*time.Millisecond)
}

func (h *harness) nextID() int64 {
	return h.updateID.Add(1)
}

func (h *harness) userMessage(messageID int64, text string) domain.Update {
	return domain.Update{ID: h.nextID(), Event: domain.NewMessage{Message: userMsg(messageID, text)}}
}

func (h *harness) staffMessage(topicID, messageID int64, text string) domain.Update {
	return domain.Update{ID: h.nextID(), Event: domain.NewMessage{Message: staffMsg(topicID, messageID, text)}}
}

func (h *harness) staffMessageFrom(sender domain.Sender, topicID, messageID int64, text string) domain.Update {
	msg := staffMsg(topicID, messageID, text)
	msg.Sender = sender
	return domain.Update{ID: h.nextID(), Event: domain.NewMessage{Message: msg}}
}

func (h *harness) staffCommand(topicID, messageID int64, name string) domain.Update {
	return domain.Update{ID: h.nextID(), Event: domain.Command{Message: staffMsg(topicID, messageID, "/"+name), Name: name}}
}

func (h *harness) ticket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket, err := h.store.Tickets.LoadTicketByUser(context.Background(), userID)
	require.NoError(t, err)
	return ticket
}

func userMsg(messageID int64, text string) domain.Message {
	return domain.Message{
		Side:      domain.SideUser,
		ChatID:    userID,
		MessageID: messageID,
		Sender:    domain.Sender{ID: userID, FirstName: "Ann", Username: "ann"},
		Text:      text,
	}
}

func staffMsg(topicID, messageID int64, text string) domain.Message {
	return domain.Message{
		Side:      domain.SideStaff,
		ChatID:    generalGroup,
		ThreadID:  topicID,
		MessageID: messageID,
		Sender:    domain.Sender{ID: staffID, FirstName: "Bob"},
		Text:      text,
	}
}

func sendsTo(calls []platformtest.Call, chatID int64) []platformtest.Call {
	var out []platformtest.Call
	for _, c := range calls {
		if c.Method == "SendMessage" && c.ChatID == chatID {
			out = append(out, c)
		}
	}
	return out
}

func auditTrail(t *testing.T, h *harness, ticketID string) []domain.TicketEventAction {
	t.Helper()
	list, err := h.store.Events.ListByTicket(context.Background(), ticketID)
	require.NoError(t, err)
	out := make([]domain.TicketEventAction, 0, len(list))
	for _, e := range list {
		out = append(out, e.Action)
	}
	return out
}

// openTicket runs the first contact and returns the ticket with its topic.
func openTicket(t *testing.T, h *harness) *domain.Ticket {
	t.Helper()
	h.handle(t, h.userMessage(10, "hello"))
	ticket := h.ticket(t)
	require.True(t, ticket.HasTopic())
	return ticket
}

func TestBridge_FirstContactOpensTicketAndMirrors(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)

	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, generalGroup, ticket.GroupID)
	assert.Equal(t, "general", ticket.Category)
	assert.Equal(t, int64(101), *ticket.TopicID)

	topics := h.fake.Calls("CreateTopic")
	require.Len(t, topics, 1)
	assert.Equal(t, generalGroup, topics[0].ChatID)
	assert.Equal(t, "🟢 [-] Ann (@ann)", topics[0].Title)

	sends := h.fake.Calls("SendMessage")
	require.Len(t, sends, 1)
	assert.Equal(t, generalGroup, sends[0].ChatID)
	assert.Equal(t, int64(101), sends[0].ThreadID)
	assert.Equal(t, &platform.MessageRef{ChatID: userID, MessageID: 10}, sends[0].CopyFrom)

	mirror, err := h.store.Mirrors.LookupMirror(context.Background(), ticket.ID, domain.SideUser, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), mirror.MirrorMessageID)

	state, err := h.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, state.TicketID)
	assert.Equal(t, domain.TicketStatusOpen, state.Status)
	assert.False(t, state.TopicPending)

	ref, err := h.sessions.GetTopic(context.Background(), generalGroup, 101)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, ref.TicketID)

	assert.Equal(t, []domain.TicketEventAction{
		domain.ActionTicketCreated,
		domain.ActionTopicCreated,
		domain.ActionStatusChanged,
	}, auditTrail(t, h, ticket.ID))
}

func TestBridge_StaffReplyAssignsAndMirrors(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)

	h.handle(t, h.staffMessage(*ticket.TopicID, 500, "how can I help?"))

	ticket = h.ticket(t)
	assert.Equal(t, domain.TicketStatusAssigned, ticket.Status)
	require.NotNil(t, ticket.Assignee)
	assert.Equal(t, staffID, *ticket.Assignee)
	assert.Equal(t, "Bob", ticket.AssigneeName)

	toUser := sendsTo(h.fake.Calls(), userID)
	require.Len(t, toUser, 1)
	assert.Equal(t, &platform.MessageRef{ChatID: generalGroup, MessageID: 500}, toUser[0].CopyFrom)

	retitles := h.fake.Calls("EditTopic")
	require.Len(t, retitles, 1)
	assert.Equal(t, "🟡 Ann (@ann)", retitles[0].Title)

	state, err := h.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAssigned, state.Status)
}

func TestBridge_ConversationCycle(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)
	topic := *ticket.TopicID

	h.handle(t, h.staffMessage(topic, 500, "hi"))
	h.handle(t, h.userMessage(11, "thanks"))
	assert.Equal(t, domain.TicketStatusWaitingStaff, h.ticket(t).Status)

	h.handle(t, h.staffMessage(topic, 501, "done?"))
	assert.Equal(t, domain.TicketStatusWaitingUser, h.ticket(t).Status)

	// WAITING_USER has no staff row: status stays, message still mirrored.
	h.handle(t, h.staffMessage(topic, 502, "ping"))
	assert.Equal(t, domain.TicketStatusWaitingUser, h.ticket(t).Status)
	assert.Len(t, sendsTo(h.fake.Calls(), userID), 3)
	assert.Equal(t, int64(1), h.metrics.Counter(observability.CounterTransitionMissed))

	h.handle(t, h.userMessage(12, "yes"))
	assert.Equal(t, domain.TicketStatusWaitingStaff, h.ticket(t).Status)
}

func TestBridge_CloseThenNewTicket(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	first := openTicket(t, h)
	topic := *first.TopicID
	h.handle(t, h.staffMessage(topic, 500, "hi"))

	h.handle(t, h.staffCommand(topic, 501, CommandClose))

	closed, err := h.store.Tickets.GetTicket(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	notices := sendsTo(h.fake.Calls(), userID)
	require.Len(t, notices, 2)
	assert.Equal(t, "Your request has been closed.", notices[1].Text)
	require.Len(t, h.fake.Calls("CloseTopic"), 1)
	assert.Equal(t, topic, h.fake.Calls("CloseTopic")[0].ThreadID)

	h.handle(t, h.userMessage(20, "one more thing"))

	second := h.ticket(t)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, domain.TicketStatusOpen, second.Status)
	assert.Equal(t, int64(102), *second.TopicID)
	assert.Len(t, h.fake.Calls("CreateTopic"), 2)

	intoNewTopic := h.fake.Calls("SendMessage")
	last := intoNewTopic[len(intoNewTopic)-1]
	assert.Equal(t, int64(102), last.ThreadID)
	assert.Equal(t, int64(20), last.CopyFrom.MessageID)
}

func TestBridge_CloseThenReopenPolicy(t *testing.T) {
	h := newHarness(t, config.PolicyReopen)
	first := openTicket(t, h)
	topic := *first.TopicID
	h.handle(t, h.staffCommand(topic, 501, CommandDone))
	assert.Equal(t, domain.TicketStatusClosed, h.ticket(t).Status)

	h.handle(t, h.userMessage(20, "again"))

	ticket := h.ticket(t)
	assert.Equal(t, first.ID, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Nil(t, ticket.ClosedAt)
	assert.Len(t, h.fake.Calls("CreateTopic"), 1)
	require.Len(t, h.fake.Calls("ReopenTopic"), 1)

	sends := h.fake.Calls("SendMessage")
	last := sends[len(sends)-1]
	assert.Equal(t, topic, last.ThreadID)
	assert.Equal(t, int64(20), last.CopyFrom.MessageID)
}

func TestBridge_StaffReopenCommand(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	first := openTicket(t, h)
	topic := *first.TopicID
	h.handle(t, h.staffCommand(topic, 501, CommandClose))

	h.handle(t, h.staffCommand(topic, 502, CommandReopen))

	ticket := h.ticket(t)
	assert.Equal(t, first.ID, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Len(t, h.fake.Calls("ReopenTopic"), 1)
	notices := sendsTo(h.fake.Calls(), userID)
	require.NotEmpty(t, notices)
	assert.Equal(t, "Your request has been reopened.", notices[len(notices)-1].Text)

	state, err := h.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, state.Status)
}

func TestBridge_StaffReopenAfterSessionEviction(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	first := openTicket(t, h)
	topic := *first.TopicID
	h.handle(t, h.staffCommand(topic, 501, CommandClose))
	require.NoError(t, h.sessions.Delete(context.Background(), userID))

	h.handle(t, h.staffCommand(topic, 502, CommandReopen))

	assert.Equal(t, domain.TicketStatusOpen, h.ticket(t).Status)
	state, err := h.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, state.TicketID)
	assert.Equal(t, domain.TicketStatusOpen, state.Status)
	assert.False(t, state.TopicPending)
}

func TestBridge_ReopenedTicketIsReassigned(t *testing.T) {
	h := newHarness(t, config.PolicyReopen)
	ticket := openTicket(t, h)
	topic := *ticket.TopicID

	h.handle(t, h.staffMessage(topic, 500, "hi"))
	h.handle(t, h.staffCommand(topic, 501, CommandDone))
	h.handle(t, h.userMessage(20, "it broke again"))

	reopened := h.ticket(t)
	assert.Equal(t, domain.TicketStatusOpen, reopened.Status)
	assert.Nil(t, reopened.Assignee)
	assert.Empty(t, reopened.AssigneeName)

	carol := domain.Sender{ID: 8, FirstName: "Carol"}
	h.handle(t, h.staffMessageFrom(carol, topic, 502, "looking"))

	reassigned := h.ticket(t)
	assert.Equal(t, domain.TicketStatusAssigned, reassigned.Status)
	require.NotNil(t, reassigned.Assignee)
	assert.Equal(t, int64(8), *reassigned.Assignee)
	assert.Equal(t, "Carol", reassigned.AssigneeName)

	retitles := h.fake.Calls("EditTopic")
	require.NotEmpty(t, retitles)
	assert.Equal(t, "🟡 Ann (@ann)", retitles[len(retitles)-1].Title)

	assigned := 0
	for _, action := range auditTrail(t, h, ticket.ID) {
		if action == domain.ActionAssigned {
			assigned++
		}
	}
	assert.Equal(t, 2, assigned)
}

func TestBridge_WorkCommandAssignsWithoutMirroring(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)
	topic := *ticket.TopicID

	h.handle(t, h.staffCommand(topic, 600, CommandWork))

	assigned := h.ticket(t)
	assert.Equal(t, domain.TicketStatusAssigned, assigned.Status)
	require.NotNil(t, assigned.Assignee)
	assert.Equal(t, staffID, *assigned.Assignee)
	assert.Empty(t, sendsTo(h.fake.Calls(), userID))
	require.Len(t, h.fake.Calls("EditTopic"), 1)
	assert.Equal(t, "🟡 Ann (@ann)", h.fake.Calls("EditTopic")[0].Title)

	h.handle(t, h.staffCommand(topic, 601, CommandWork))

	assert.Equal(t, domain.TicketStatusAssigned, h.ticket(t).Status)
	inTopic := sendsTo(h.fake.Calls(), generalGroup)
	last := inTopic[len(inTopic)-1]
	assert.Equal(t, topic, last.ThreadID)
	assert.Equal(t, "✅ Already in work", last.Text)
	assert.Len(t, h.fake.Calls("EditTopic"), 1)
}

func TestBridge_StaffReopenRejectedWhileAnotherTicketActive(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	first := openTicket(t, h)
	oldTopic := *first.TopicID
	h.handle(t, h.staffCommand(oldTopic, 501, CommandClose))
	h.handle(t, h.userMessage(20, "new issue"))

	h.handle(t, h.staffCommand(oldTopic, 502, CommandReopen))

	old, err := h.store.Tickets.GetTicket(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, old.Status)
	assert.Empty(t, h.fake.Calls("ReopenTopic"))

	inOldTopic := sendsTo(h.fake.Calls(), generalGroup)
	last := inOldTopic[len(inOldTopic)-1]
	assert.Equal(t, oldTopic, last.ThreadID)
	assert.Contains(t, last.Text, "another active ticket")
}

func TestBridge_InternalNotesAndUnknownCommands(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)
	before := len(h.fake.Calls())

	note := h.staffCommand(*ticket.TopicID, 600, CommandNote)
	h.handle(t, note)
	h.handle(t, h.staffCommand(*ticket.TopicID, 601, "stats"))

	assert.Len(t, h.fake.Calls(), before)
	assert.Equal(t, domain.TicketStatusOpen, h.ticket(t).Status)
}

func TestBridge_StartCommandRoutesCategory(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)

	h.handle(t, domain.Update{ID: h.nextID(), Event: domain.Command{Message: userMsg(1, "/start billing"), Name: CommandStart, Args: "billing"}})

	greetings := sendsTo(h.fake.Calls(), userID)
	require.Len(t, greetings, 1)
	assert.Equal(t, "Hi! How can we help?", greetings[0].Text)
	assert.Empty(t, h.fake.Calls("CreateTopic"))

	h.handle(t, h.userMessage(2, "my invoice"))

	ticket := h.ticket(t)
	assert.Equal(t, "billing", ticket.Category)
	assert.Equal(t, billingGroup, ticket.GroupID)
	assert.Equal(t, billingGroup, h.fake.Calls("CreateTopic")[0].ChatID)
}

func TestBridge_OtherUserCommandIsAMessage(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)

	h.handle(t, domain.Update{ID: h.nextID(), Event: domain.Command{Message: userMsg(5, "/help"), Name: "help"}})

	assert.Len(t, h.fake.Calls("CreateTopic"), 1)
	sends := h.fake.Calls("SendMessage")
	require.Len(t, sends, 1)
	assert.Equal(t, int64(5), sends[0].CopyFrom.MessageID)
}

func TestBridge_ConcurrentFirstContact(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(messageID int64) {
			defer wg.Done()
			assert.NoError(t, h.bridge.Handle(context.Background(), h.userMessage(messageID, "hi")))
		}(int64(100 + i))
	}
	wg.Wait()
	h.settle(t)

	assert.Len(t, h.fake.Calls("CreateTopic"), 1)
	assert.Equal(t, int64(1), h.metrics.Counter(observability.CounterTicketsCreated))
	sends := h.fake.Calls("SendMessage")
	assert.Len(t, sends, 10)
	for _, c := range sends {
		assert.Equal(t, int64(101), c.ThreadID)
	}
}

func TestBridge_ReplayedUpdateProducesNoNewAction(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	update := h.userMessage(10, "hello")

	h.handle(t, update)
	h.handle(t, update)

	assert.Len(t, h.fake.Calls("CreateTopic"), 1)
	assert.Len(t, h.fake.Calls("SendMessage"), 1)
	assert.Equal(t, int64(1), h.metrics.Counter(observability.CounterActionsDuplicate))
}

func TestBridge_EditPropagatesToLinkedMirror(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	openTicket(t, h)
	h.handle(t, h.userMessage(11, "second"))

	edited := userMsg(10, "hello (edited)")
	h.handle(t, domain.Update{ID: h.nextID(), Event: domain.EditedMessage{Message: edited}})

	edits := h.fake.Calls("EditMessage")
	require.Len(t, edits, 1)
	assert.Equal(t, generalGroup, edits[0].ChatID)
	assert.Equal(t, int64(1001), edits[0].MessageID)
	assert.Equal(t, "hello (edited)", edits[0].Text)
	assert.Equal(t, domain.TicketStatusOpen, h.ticket(t).Status)
}

func TestBridge_EditWithoutMirrorIsReported(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)

	h.handle(t, domain.Update{ID: h.nextID(), Event: domain.EditedMessage{Message: userMsg(99, "never mirrored")}})

	assert.Empty(t, h.fake.Calls("EditMessage"))
	assert.Equal(t, int64(1), h.metrics.Counter(observability.CounterMirrorMissed))
	assert.Contains(t, auditTrail(t, h, ticket.ID), domain.ActionMirrorMissed)
}

func TestBridge_StaffEditAndDelete(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)
	topic := *ticket.TopicID
	h.handle(t, h.staffMessage(topic, 500, "typo"))

	h.handle(t, domain.Update{ID: h.nextID(), Event: domain.EditedMessage{Message: staffMsg(topic, 500, "fixed")}})
	h.handle(t, domain.Update{ID: h.nextID(), Event: domain.DeletedMessage{Side: domain.SideStaff, ChatID: generalGroup, ThreadID: topic, MessageIDs: []int64{500}}})

	edits := h.fake.Calls("EditMessage")
	require.Len(t, edits, 1)
	assert.Equal(t, userID, edits[0].ChatID)
	assert.Equal(t, int64(1002), edits[0].MessageID)

	deletes := h.fake.Calls("DeleteMessage")
	require.Len(t, deletes, 1)
	assert.Equal(t, userID, deletes[0].ChatID)
	assert.Equal(t, int64(1002), deletes[0].MessageID)
}

func TestBridge_ReplyThreading(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)
	topic := *ticket.TopicID

	// Staff replies to the mirrored copy (1001) of the user's message 10.
	reply := staffMsg(topic, 500, "about that")
	reply.ReplyToID = 1001
	h.handle(t, domain.Update{ID: h.nextID(), Event: domain.NewMessage{Message: reply}})

	toUser := sendsTo(h.fake.Calls(), userID)
	require.Len(t, toUser, 1)
	assert.Equal(t, int64(10), toUser[0].ReplyToID)

	// The user replies to their own message 10; the topic copy replies to 1001.
	own := userMsg(11, "as I said")
	own.ReplyToID = 10
	h.handle(t, domain.Update{ID: h.nextID(), Event: domain.NewMessage{Message: own}})

	intoTopic := sendsTo(h.fake.Calls(), generalGroup)
	assert.Equal(t, int64(1001), intoTopic[len(intoTopic)-1].ReplyToID)
}

func TestBridge_UnknownTopicIsCounted(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)

	h.handle(t, h.staffMessage(999, 1, "anyone?"))

	assert.Empty(t, h.fake.Calls())
	assert.Equal(t, int64(1), h.metrics.Counter(observability.CounterUnknownTopic))
}

func TestBridge_TopicLookupSurvivesCacheEviction(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)

	fresh := session.NewMemoryStore()
	h.bridge.sessions = fresh
	h.handle(t, h.staffMessage(*ticket.TopicID, 500, "still here"))

	assert.Equal(t, domain.TicketStatusAssigned, h.ticket(t).Status)
	ref, err := fresh.GetTopic(context.Background(), generalGroup, *ticket.TopicID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, ref.TicketID)
}

func TestBridge_SessionRebuiltAfterEviction(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)
	require.NoError(t, h.sessions.Delete(context.Background(), userID))

	h.handle(t, h.userMessage(11, "are you there?"))

	assert.Len(t, h.fake.Calls("CreateTopic"), 1)
	again := h.ticket(t)
	assert.Equal(t, ticket.ID, again.ID)
	state, err := h.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, state.TicketID)
}

func TestBridge_RateLimitedDeliveryKeepsStatus(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)
	h.fake.On("SendMessage", func(_ context.Context, n int, _ platformtest.Call) error {
		if n == 2 {
			return &platform.APIError{Code: http.StatusTooManyRequests, Description: "Too Many Requests", RetryAfter: 5 * time.Millisecond}
		}
		return nil
	})

	h.handle(t, h.staffMessage(*ticket.TopicID, 500, "reply"))

	assert.Len(t, sendsTo(h.fake.Calls(), userID), 1)
	assert.Equal(t, domain.TicketStatusAssigned, h.ticket(t).Status)
	assert.Equal(t, int64(1), h.metrics.Counter(observability.CounterActionsRetried))
}

func TestBridge_DeliveryFailureNotifiesStaff(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	ticket := openTicket(t, h)
	h.fake.On("SendMessage", func(_ context.Context, _ int, call platformtest.Call) error {
		if call.ChatID == userID {
			return &platform.APIError{Code: http.StatusForbidden, Description: "Forbidden: bot was blocked by the user"}
		}
		return nil
	})

	h.handle(t, h.staffMessage(*ticket.TopicID, 500, "hello?"))

	assert.Equal(t, domain.TicketStatusAssigned, h.ticket(t).Status)
	inTopic := sendsTo(h.fake.Calls(), generalGroup)
	last := inTopic[len(inTopic)-1]
	assert.Equal(t, *ticket.TopicID, last.ThreadID)
	assert.Contains(t, last.Text, "bot was blocked")
	assert.Contains(t, auditTrail(t, h, ticket.ID), domain.ActionDeliveryFailed)
}

func TestBridge_TopicCreationFailureAllowsRetry(t *testing.T) {
	h := newHarness(t, config.PolicyNewTicket)
	h.fake.On("CreateTopic", func(_ context.Context, n int, _ platformtest.Call) error {
		if n == 1 {
			return &platform.APIError{Code: http.StatusBadRequest, Description: "Bad Request: not enough rights to create a topic"}
		}
		return nil
	})

	h.handle(t, h.userMessage(10, "hello"))
	ticket := h.ticket(t)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.False(t, ticket.HasTopic())
	assert.Empty(t, h.fake.Calls("SendMessage"))

	state, err := h.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, state.TopicPending)

	h.handle(t, h.userMessage(11, "hello again"))

	ticket = h.ticket(t)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Len(t, h.fake.Calls("CreateTopic"), 1)
	sends := h.fake.Calls("SendMessage")
	require.Len(t, sends, 1)
	assert.Equal(t, int64(11), sends[0].CopyFrom.MessageID)
}
