package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/config"
	"github.com/spec-kit/support-bridge/internal/domain"
	"github.com/spec-kit/support-bridge/internal/events"
	"github.com/spec-kit/support-bridge/internal/observability"
	"github.com/spec-kit/support-bridge/internal/platform"
	"github.com/spec-kit/support-bridge/internal/repository"
	"github.com/spec-kit/support-bridge/internal/session"
	"github.com/spec-kit/support-bridge/internal/worker"
)

// Staff and user commands understood by the bridge.
const (
	CommandStart  = "start"
	CommandClose  = "close"
	CommandDone   = "done"
	CommandReopen = "reopen"
	CommandWork   = "work"
	CommandNote   = "note"
	CommandI      = "i"
)

// ErrActiveTicketExists rejects a reopen while the user has another open ticket.
var ErrActiveTicketExists = errors.New("service: user already has an active ticket")

// BridgeService owns ticket state. It turns admitted updates into transitions
// and outbound actions, and records dispatcher outcomes.
type BridgeService struct {
	tickets    repository.TicketRepository
	mirrors    repository.MirrorRepository
	sessions   session.Store
	locker     session.Locker
	dispatcher worker.Enqueuer
	events     events.Dispatcher
	groups     config.GroupMapping
	cfg        config.BridgeConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// BridgeDependencies bundles collaborators for the bridge.
type BridgeDependencies struct {
	Tickets    repository.TicketRepository
	Mirrors    repository.MirrorRepository
	Sessions   session.Store
	Locker     session.Locker
	Dispatcher worker.Enqueuer
	Events     events.Dispatcher
	Groups     config.GroupMapping
	Config     config.BridgeConfig
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewBridgeService constructs the bridge.
func NewBridgeService(deps BridgeDependencies) *BridgeService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NewInMemoryDispatcher()
	}
	cfg := deps.Config
	if cfg.ClosedTicketPolicy == "" {
		cfg.ClosedTicketPolicy = config.PolicyNewTicket
	}
	return &BridgeService{
		tickets:    deps.Tickets,
		mirrors:    deps.Mirrors,
		sessions:   deps.Sessions,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		events:     publisher,
		groups:     deps.Groups,
		cfg:        cfg,
		logger:     logger,
		metrics:    deps.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// conversation is the user's view loaded under the user lock.
type conversation struct {
	updateID int64
	userID   int64
	state    *domain.SessionState
	ticket   *domain.Ticket
}

// Handle processes one admitted update. Errors mean the update was dropped.
func (b *BridgeService) Handle(ctx context.Context, update domain.Update) error {
	if update.Event == nil {
		return nil
	}
	switch update.Event.Origin() {
	case domain.SideUser:
		return b.handleUser(ctx, update)
	case domain.SideStaff:
		return b.handleStaff(ctx, update)
	}
	return nil
}

func (b *BridgeService) handleUser(ctx context.Context, update domain.Update) error {
	userID := update.UserID()
	unlock, err := b.locker.Lock(ctx, session.UserLockKey(userID))
	if err != nil {
		return fmt.Errorf("lock user %d: %w", userID, err)
	}
	defer unlock()

	conv, err := b.loadConversation(ctx, userID)
	if err != nil {
		return err
	}
	conv.updateID = update.ID

	switch ev := update.Event.(type) {
	case domain.Command:
		if ev.Name == CommandStart {
			err = b.handleStart(ctx, conv, ev)
			break
		}
		err = b.handleUserMessage(ctx, conv, ev.Message)
	case domain.NewMessage:
		err = b.handleUserMessage(ctx, conv, ev.Message)
	case domain.EditedMessage:
		b.propagateEdit(conv.ticket, update.ID, ev.Message)
	case domain.DeletedMessage:
		b.propagateDelete(conv.ticket, domain.SideUser, ev.MessageIDs)
	}
	if err != nil {
		return err
	}
	b.saveSession(ctx, conv.state)
	return nil
}

// loadConversation reads the session and rebuilds it from the repository when
// evicted or stale. The repository always wins.
func (b *BridgeService) loadConversation(ctx context.Context, userID int64) (*conversation, error) {
	conv := &conversation{userID: userID}

	state, err := b.sessions.Get(ctx, userID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		b.logger.Warn("session store unavailable, rebuilding from repository", zap.Int64("user_id", userID), zap.Error(err))
	}

	if state != nil && state.TicketID != "" {
		ticket, err := b.tickets.GetTicket(ctx, state.TicketID)
		switch {
		case err == nil:
			conv.ticket = ticket
		case errors.Is(err, repository.ErrNotFound):
			b.inconsistent("session points at unknown ticket", zap.Int64("user_id", userID), zap.String("ticket_id", state.TicketID))
		default:
			return nil, fmt.Errorf("load ticket %s: %w", state.TicketID, err)
		}
	}
	if conv.ticket == nil {
		ticket, err := b.tickets.LoadTicketByUser(ctx, userID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load ticket for user %d: %w", userID, err)
		}
		conv.ticket = ticket
	}

	if state == nil {
		init := &domain.SessionState{UserID: userID, UpdatedAt: b.now()}
		init.Track(conv.ticket)
		created := false
		state, created, err = b.sessions.GetOrCreate(ctx, userID, init, b.cfg.SessionTTL)
		if err != nil {
			b.logger.Warn("session create failed", zap.Int64("user_id", userID), zap.Error(err))
			state = init
		} else if created {
			b.logger.Debug("session created", zap.Int64("user_id", userID))
		}
	}

	if conv.ticket != nil && state.TicketID != conv.ticket.ID {
		if state.TicketID != "" {
			b.inconsistent("session tracks a different ticket", zap.Int64("user_id", userID),
				zap.String("session_ticket_id", state.TicketID), zap.String("ticket_id", conv.ticket.ID))
		}
		state.TopicPending = false
	}
	state.Track(conv.ticket)
	if conv.ticket.HasTopic() {
		state.TopicPending = false
	}
	conv.state = state
	return conv, nil
}

func (b *BridgeService) handleStart(ctx context.Context, conv *conversation, cmd domain.Command) error {
	if category := strings.TrimSpace(cmd.Args); category != "" {
		if b.groups.Has(category) {
			conv.state.PendingCategory, _ = b.groups.Resolve(category)
		} else {
			b.logger.Debug("unknown category in start", zap.Int64("user_id", conv.userID), zap.String("category", category))
		}
	}
	if b.cfg.GreetingText == "" {
		return nil
	}
	lane := session.UserLockKey(conv.userID)
	b.enqueue(worker.Action{
		Key:       worker.Key(lane, worker.DirectionToUser, worker.ActionSendMessage, fmt.Sprintf("start-%d", conv.updateID)),
		Lane:      lane,
		Kind:      worker.ActionSendMessage,
		UserID:    conv.userID,
		Direction: worker.DirectionToUser,
		Target:    worker.Target{ChatID: cmd.Message.ChatID},
		Text:      b.cfg.GreetingText,
	})
	return nil
}

func (b *BridgeService) handleUserMessage(ctx context.Context, conv *conversation, msg domain.Message) error {
	actor := events.UserActor(conv.userID)
	ticket := conv.ticket

	switch {
	case ticket == nil:
		created, err := b.openTicket(ctx, conv, msg.Sender, "")
		if err != nil {
			return err
		}
		ticket = created
	case ticket.Status == domain.TicketStatusClosed && b.cfg.ClosedTicketPolicy == config.PolicyReopen:
		if err := b.reopenTicket(ctx, conv, ticket, domain.TriggerUserMessage, actor); err != nil {
			return err
		}
	case ticket.Status == domain.TicketStatusClosed:
		created, err := b.openTicket(ctx, conv, msg.Sender, ticket.Category)
		if err != nil {
			return err
		}
		ticket = created
	default:
		if _, err := b.transition(ctx, ticket, domain.TriggerUserMessage, actor); err != nil {
			return err
		}
		if !ticket.HasTopic() && !conv.state.TopicPending {
			b.requestTopic(conv, ticket)
		}
	}
	conv.state.Track(ticket)

	b.enqueue(b.mirrorAction(ticket, msg))
	return nil
}

// openTicket creates a NEW ticket and requests its topic.
func (b *BridgeService) openTicket(ctx context.Context, conv *conversation, sender domain.Sender, fallbackCategory string) (*domain.Ticket, error) {
	requested := conv.state.PendingCategory
	if requested == "" {
		requested = fallbackCategory
	}
	category, groupID := b.groups.Resolve(requested)
	ticket := &domain.Ticket{
		UserID:   conv.userID,
		UserName: sender.DisplayName(),
		Username: sender.Username,
		Category: category,
		GroupID:  groupID,
		Status:   domain.TicketStatusNew,
	}
	if err := b.tickets.CreateTicket(ctx, ticket); err != nil {
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("create ticket for user %d: %w", conv.userID, err)
		}
		// Another process won the race for this user.
		existing, loadErr := b.tickets.LoadTicketByUser(ctx, conv.userID)
		if loadErr != nil || !existing.Status.Active() {
			return nil, fmt.Errorf("create ticket for user %d: %w", conv.userID, err)
		}
		b.inconsistent("active ticket appeared concurrently", zap.Int64("user_id", conv.userID), zap.String("ticket_id", existing.ID))
		conv.ticket = existing
		conv.state.Track(existing)
		return existing, nil
	}

	b.metrics.Inc(observability.CounterTicketsCreated)
	b.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.Int64("user_id", ticket.UserID),
		zap.String("category", ticket.Category),
		zap.Int64("group_id", ticket.GroupID))
	b.publish(ctx, events.New(events.EventTicketCreated, ticket.ID, events.UserActor(conv.userID), events.TicketCreatedPayload{
		UserID:   ticket.UserID,
		Category: ticket.Category,
		GroupID:  ticket.GroupID,
	}))

	conv.ticket = ticket
	conv.state.PendingCategory = ""
	conv.state.Track(ticket)
	conv.state.TopicPending = false
	b.requestTopic(conv, ticket)
	return ticket, nil
}

func (b *BridgeService) requestTopic(conv *conversation, ticket *domain.Ticket) {
	conv.state.TopicPending = true
	b.enqueue(worker.Action{
		Key:       worker.Key(ticket.ID, worker.DirectionToStaff, worker.ActionCreateTopic, "topic"),
		Kind:      worker.ActionCreateTopic,
		TicketID:  ticket.ID,
		UserID:    ticket.UserID,
		Direction: worker.DirectionToStaff,
		Target:    worker.Target{ChatID: ticket.GroupID},
		Title:     TopicTitle(ticket),
	})
}

// reopenTicket moves a closed ticket to REOPENED and on to OPEN once a topic is available.
func (b *BridgeService) reopenTicket(ctx context.Context, conv *conversation, ticket *domain.Ticket, trigger domain.Trigger, actor events.Actor) error {
	changed, err := b.transition(ctx, ticket, trigger, actor)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	seq := fmt.Sprintf("reopen-%d", conv.updateID)
	if !ticket.HasTopic() {
		b.requestTopic(conv, ticket)
		conv.state.Track(ticket)
		return nil
	}

	b.enqueue(b.topicAction(ticket, worker.ActionReopenTopic, seq))
	if _, err := b.transition(ctx, ticket, domain.TriggerTopicCreated, events.SystemActor()); err != nil {
		return err
	}
	b.enqueue(b.retitleAction(ticket, seq))
	conv.state.Track(ticket)
	return nil
}

func (b *BridgeService) handleStaff(ctx context.Context, update domain.Update) error {
	groupID, topicID := update.Location()
	ref, err := b.resolveTopic(ctx, groupID, topicID)
	if err != nil {
		return err
	}
	if ref == nil {
		b.metrics.Inc(observability.CounterUnknownTopic)
		b.logger.Warn("staff update in unknown topic",
			zap.Int64("update_id", update.ID),
			zap.Int64("group_id", groupID),
			zap.Int64("topic_id", topicID))
		return nil
	}

	unlock, err := b.locker.Lock(ctx, session.UserLockKey(ref.UserID))
	if err != nil {
		return fmt.Errorf("lock user %d: %w", ref.UserID, err)
	}
	defer unlock()

	ticket, err := b.tickets.GetTicket(ctx, ref.TicketID)
	if errors.Is(err, repository.ErrNotFound) {
		b.inconsistent("topic maps to unknown ticket", zap.String("ticket_id", ref.TicketID), zap.Int64("topic_id", topicID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ticket %s: %w", ref.TicketID, err)
	}
	conv := &conversation{updateID: update.ID, userID: ticket.UserID, ticket: ticket}
	conv.state = b.sessionFor(ctx, ticket.UserID)
	if conv.state.TicketID != ticket.ID {
		conv.state.TopicPending = false
	}

	switch ev := update.Event.(type) {
	case domain.Command:
		err = b.handleStaffCommand(ctx, conv, ev)
	case domain.NewMessage:
		err = b.handleStaffMessage(ctx, conv, ev.Message)
	case domain.EditedMessage:
		b.propagateEdit(ticket, update.ID, ev.Message)
	case domain.DeletedMessage:
		b.propagateDelete(ticket, domain.SideStaff, ev.MessageIDs)
	}
	if err != nil {
		return err
	}
	b.syncSession(ctx, conv)
	return nil
}

// resolveTopic reads the topic mapping through the cache. A nil ref means the topic is not a ticket.
func (b *BridgeService) resolveTopic(ctx context.Context, groupID, topicID int64) (*domain.TopicRef, error) {
	ref, err := b.sessions.GetTopic(ctx, groupID, topicID)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		b.logger.Warn("topic cache unavailable", zap.Int64("group_id", groupID), zap.Int64("topic_id", topicID), zap.Error(err))
	}

	ticket, err := b.tickets.LoadTicketByTopic(ctx, groupID, topicID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket for topic %d/%d: %w", groupID, topicID, err)
	}
	ref = &domain.TopicRef{GroupID: groupID, TopicID: topicID, TicketID: ticket.ID, UserID: ticket.UserID}
	if err := b.sessions.PutTopic(ctx, ref, b.cfg.SessionTTL); err != nil {
		b.logger.Warn("topic cache write failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	return ref, nil
}

func (b *BridgeService) handleStaffMessage(ctx context.Context, conv *conversation, msg domain.Message) error {
	ticket := conv.ticket
	if ticket.Status == domain.TicketStatusOpen {
		if _, err := b.assign(ctx, conv, msg.Sender); err != nil {
			return err
		}
	} else if _, err := b.transition(ctx, ticket, domain.TriggerStaffMessage, events.StaffActor(msg.Sender.ID)); err != nil {
		return err
	}
	b.enqueue(b.mirrorAction(ticket, msg))
	return nil
}

// assign moves an OPEN ticket to ASSIGNED with sender as the assignee and retitles the topic.
func (b *BridgeService) assign(ctx context.Context, conv *conversation, sender domain.Sender) (bool, error) {
	ticket := conv.ticket
	if ticket.Status != domain.TicketStatusOpen {
		return false, nil
	}
	prevAssignee, prevName := ticket.Assignee, ticket.AssigneeName
	assignee := sender.ID
	ticket.Assignee = &assignee
	ticket.AssigneeName = sender.DisplayName()

	actor := events.StaffActor(sender.ID)
	changed, err := b.transition(ctx, ticket, domain.TriggerStaffMessage, actor)
	if err != nil || !changed {
		ticket.Assignee, ticket.AssigneeName = prevAssignee, prevName
		return false, err
	}
	b.logger.Info("ticket assigned",
		zap.String("ticket_id", ticket.ID),
		zap.Int64("assignee_id", sender.ID))
	b.publish(ctx, events.New(events.EventTicketAssigned, ticket.ID, actor, events.TicketAssignedPayload{
		AssigneeID:   sender.ID,
		AssigneeName: ticket.AssigneeName,
	}))
	b.enqueue(b.retitleAction(ticket, fmt.Sprintf("assign-%d", conv.updateID)))
	return true, nil
}

func (b *BridgeService) handleStaffCommand(ctx context.Context, conv *conversation, cmd domain.Command) error {
	ticket := conv.ticket
	actor := events.StaffActor(cmd.Message.Sender.ID)

	switch cmd.Name {
	case CommandClose, CommandDone:
		return b.closeTicket(ctx, conv, actor)
	case CommandReopen:
		if ticket.Status != domain.TicketStatusClosed {
			b.logger.Debug("reopen ignored, ticket not closed", zap.String("ticket_id", ticket.ID), zap.String("status", string(ticket.Status)))
			return nil
		}
		err := b.checkNoOtherActive(ctx, ticket)
		if err == nil {
			err = b.reopenTicket(ctx, conv, ticket, domain.TriggerReopenCommand, actor)
		}
		if errors.Is(err, ErrActiveTicketExists) {
			b.logger.Info("reopen rejected", zap.String("ticket_id", ticket.ID), zap.Int64("user_id", ticket.UserID))
			b.enqueue(b.staffNotice(ticket, fmt.Sprintf("reopen-rejected-%d", conv.updateID),
				"This user already has another active ticket, so this one cannot be reopened."))
			return nil
		}
		if err != nil {
			return err
		}
		if b.cfg.ReopenNoticeText != "" {
			b.enqueue(b.userNotice(ticket, fmt.Sprintf("reopen-%d", conv.updateID), b.cfg.ReopenNoticeText))
		}
		return nil
	case CommandWork:
		assigned, err := b.assign(ctx, conv, cmd.Message.Sender)
		if err != nil {
			return err
		}
		if !assigned && ticket.Status.Active() {
			b.enqueue(b.staffNotice(ticket, fmt.Sprintf("work-%d", conv.updateID), "✅ Already in work"))
		}
		return nil
	case CommandNote, CommandI:
		b.logger.Debug("internal note kept in topic", zap.String("ticket_id", ticket.ID), zap.Int64("message_id", cmd.Message.MessageID))
		return nil
	default:
		b.logger.Debug("staff command ignored", zap.String("ticket_id", ticket.ID), zap.String("command", cmd.Name))
		return nil
	}
}

func (b *BridgeService) closeTicket(ctx context.Context, conv *conversation, actor events.Actor) error {
	ticket := conv.ticket
	changed, err := b.transition(ctx, ticket, domain.TriggerCloseCommand, actor)
	if err != nil || !changed {
		return err
	}
	seq := fmt.Sprintf("close-%d", conv.updateID)
	if b.cfg.CloseNoticeText != "" {
		b.enqueue(b.userNotice(ticket, seq, b.cfg.CloseNoticeText))
	}
	if ticket.HasTopic() {
		b.enqueue(b.retitleAction(ticket, seq), b.topicAction(ticket, worker.ActionCloseTopic, seq))
	}
	return nil
}

func (b *BridgeService) checkNoOtherActive(ctx context.Context, ticket *domain.Ticket) error {
	latest, err := b.tickets.LoadTicketByUser(ctx, ticket.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load ticket for user %d: %w", ticket.UserID, err)
	}
	if latest.ID != ticket.ID && latest.Status.Active() {
		return ErrActiveTicketExists
	}
	return nil
}

// transition applies trigger and persists the result. changed is false when the
// pair has no row or leaves the status as it was.
func (b *BridgeService) transition(ctx context.Context, ticket *domain.Ticket, trigger domain.Trigger, actor events.Actor) (bool, error) {
	prev := ticket.Status
	next, ok := NextStatus(prev, trigger)
	if !ok {
		b.metrics.Inc(observability.CounterTransitionMissed)
		b.logger.Debug("no transition",
			zap.String("ticket_id", ticket.ID),
			zap.String("status", string(prev)),
			zap.String("trigger", string(trigger)))
		return false, nil
	}
	if next == prev {
		return false, nil
	}

	prevClosedAt, prevAssignee, prevName := ticket.ClosedAt, ticket.Assignee, ticket.AssigneeName
	ticket.Status = next
	switch {
	case next == domain.TicketStatusClosed:
		closedAt := b.now()
		ticket.ClosedAt = &closedAt
	case prev == domain.TicketStatusClosed:
		// A reopened ticket goes back to the queue unassigned.
		ticket.ClosedAt = nil
		ticket.Assignee = nil
		ticket.AssigneeName = ""
	}
	if err := b.tickets.UpdateStatus(ctx, ticket); err != nil {
		ticket.Status = prev
		ticket.ClosedAt = prevClosedAt
		ticket.Assignee, ticket.AssigneeName = prevAssignee, prevName
		if errors.Is(err, repository.ErrAlreadyExists) {
			return false, fmt.Errorf("ticket %s to %s: %w", ticket.ID, next, ErrActiveTicketExists)
		}
		return false, fmt.Errorf("update ticket %s to %s: %w", ticket.ID, next, err)
	}

	b.logger.Info("ticket status changed",
		zap.String("ticket_id", ticket.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("trigger", string(trigger)))
	b.publish(ctx, events.New(events.EventTicketStatusChanged, ticket.ID, actor, events.TicketStatusChangedPayload{
		OldStatus: prev,
		NewStatus: next,
		Trigger:   trigger,
	}))
	return true, nil
}

func (b *BridgeService) saveSession(ctx context.Context, state *domain.SessionState) {
	state.UpdatedAt = b.now()
	if err := b.sessions.Put(ctx, state.UserID, state, b.cfg.SessionTTL); err != nil {
		b.logger.Warn("session write failed", zap.Int64("user_id", state.UserID), zap.Error(err))
	}
}

// sessionFor returns the user's cached session, or an empty one when it is absent.
func (b *BridgeService) sessionFor(ctx context.Context, userID int64) *domain.SessionState {
	state, err := b.sessions.Get(ctx, userID)
	if err == nil {
		return state
	}
	if !errors.Is(err, session.ErrNotFound) {
		b.logger.Warn("session read failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	return &domain.SessionState{UserID: userID}
}

// syncSession refreshes the user's cached status after a staff-side change. A closed
// ticket does not displace a newer ticket the session already tracks.
func (b *BridgeService) syncSession(ctx context.Context, conv *conversation) {
	state := conv.state
	if state == nil {
		state = b.sessionFor(ctx, conv.userID)
		if state.TicketID != conv.ticket.ID {
			state.TopicPending = false
		}
	}
	if state.TicketID != "" && state.TicketID != conv.ticket.ID && !conv.ticket.Status.Active() {
		latest, err := b.tickets.GetTicket(ctx, state.TicketID)
		if err == nil && latest.CreatedAt.After(conv.ticket.CreatedAt) {
			return
		}
	}
	if conv.ticket.HasTopic() {
		state.TopicPending = false
	}
	state.Track(conv.ticket)
	b.saveSession(ctx, state)
}

func (b *BridgeService) enqueue(actions ...worker.Action) {
	if len(actions) == 0 {
		return
	}
	b.dispatcher.Enqueue(actions...)
}

func (b *BridgeService) publish(ctx context.Context, event events.Event) {
	if err := b.events.Publish(ctx, event); err != nil {
		b.logger.Warn("event handler failed",
			zap.String("event", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func (b *BridgeService) inconsistent(msg string, fields ...zap.Field) {
	b.metrics.Inc(observability.CounterStateInconsistent)
	b.logger.Warn(msg, fields...)
}

var _ worker.ResultHandler = (*BridgeService)(nil)

// OnActionResult records dispatcher outcomes. It runs inside the ticket's lane.
func (b *BridgeService) OnActionResult(ctx context.Context, res worker.Result) {
	a := res.Action
	if !res.OK() {
		b.onActionFailed(ctx, res)
		return
	}
	switch a.Kind {
	case worker.ActionCreateTopic:
		if err := b.onTopicCreated(ctx, a, res.TopicID); err != nil {
			b.logger.Error("recording topic failed",
				zap.String("ticket_id", a.TicketID),
				zap.Int64("topic_id", res.TopicID),
				zap.Error(err))
		}
	case worker.ActionSendMessage:
		if a.Origin == nil || a.TicketID == "" {
			return
		}
		mirror := &domain.MessageMirror{
			TicketID:        a.TicketID,
			OriginSide:      a.Origin.Side,
			OriginChatID:    a.Origin.ChatID,
			OriginMessageID: a.Origin.MessageID,
			MirrorChatID:    a.Target.ChatID,
			MirrorMessageID: res.MessageID,
		}
		if err := b.mirrors.RecordMirror(ctx, mirror); err != nil {
			b.logger.Error("recording mirror failed",
				zap.String("ticket_id", a.TicketID),
				zap.Int64("origin_message_id", a.Origin.MessageID),
				zap.Int64("mirror_message_id", res.MessageID),
				zap.Error(err))
		}
	}
}

func (b *BridgeService) onTopicCreated(ctx context.Context, a worker.Action, topicID int64) error {
	unlock, err := b.locker.Lock(ctx, session.UserLockKey(a.UserID))
	if err != nil {
		return err
	}
	defer unlock()

	ticket, err := b.tickets.GetTicket(ctx, a.TicketID)
	if err != nil {
		return err
	}
	if ticket.HasTopic() && *ticket.TopicID != topicID {
		b.inconsistent("ticket already has a topic",
			zap.String("ticket_id", ticket.ID),
			zap.Int64("topic_id", *ticket.TopicID),
			zap.Int64("new_topic_id", topicID))
		return nil
	}
	if err := b.tickets.SetTopic(ctx, ticket.ID, topicID); err != nil {
		return err
	}
	ticket.TopicID = &topicID

	ref := &domain.TopicRef{GroupID: ticket.GroupID, TopicID: topicID, TicketID: ticket.ID, UserID: ticket.UserID}
	if err := b.sessions.PutTopic(ctx, ref, b.cfg.SessionTTL); err != nil {
		b.logger.Warn("topic cache write failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
	b.metrics.Inc(observability.CounterTopicsCreated)
	b.publish(ctx, events.New(events.EventTopicCreated, ticket.ID, events.SystemActor(), events.TopicCreatedPayload{
		GroupID: ticket.GroupID,
		TopicID: topicID,
		Title:   a.Title,
	}))

	if _, err := b.transition(ctx, ticket, domain.TriggerTopicCreated, events.SystemActor()); err != nil {
		return err
	}
	b.syncSession(ctx, &conversation{userID: ticket.UserID, ticket: ticket})
	return nil
}

func (b *BridgeService) onActionFailed(ctx context.Context, res worker.Result) {
	a := res.Action
	if a.Kind == worker.ActionCreateTopic {
		b.clearTopicPending(ctx, a)
	}
	if a.TicketID == "" {
		return
	}

	if errors.Is(res.Err, worker.ErrMirrorNotFound) {
		payload := events.MirrorMissedPayload{Kind: string(a.Kind)}
		if a.Origin != nil {
			payload.OriginSide = a.Origin.Side
			payload.OriginMessageID = a.Origin.MessageID
		}
		b.publish(ctx, events.New(events.EventMirrorMissed, a.TicketID, events.SystemActor(), payload))
		return
	}
	if errors.Is(res.Err, platform.ErrUnsupported) && a.Kind != worker.ActionSendMessage {
		b.logger.Debug("platform lacks capability", zap.String("kind", string(a.Kind)), zap.String("ticket_id", a.TicketID))
		return
	}

	payload := events.DeliveryFailedPayload{
		Key:       a.Key,
		Kind:      string(a.Kind),
		Direction: string(a.Direction),
		Attempts:  res.Attempts,
		Permanent: platform.IsPermanent(res.Err),
		Error:     res.Err.Error(),
	}
	if ticket, err := b.tickets.GetTicket(ctx, a.TicketID); err == nil && ticket.HasTopic() {
		payload.GroupID = ticket.GroupID
		payload.TopicID = *ticket.TopicID
	}
	b.publish(ctx, events.New(events.EventDeliveryFailed, a.TicketID, events.SystemActor(), payload))
}

// clearTopicPending lets the next user message request the topic again.
func (b *BridgeService) clearTopicPending(ctx context.Context, a worker.Action) {
	unlock, err := b.locker.Lock(ctx, session.UserLockKey(a.UserID))
	if err != nil {
		return
	}
	defer unlock()
	state, err := b.sessions.Get(ctx, a.UserID)
	if err != nil || state.TicketID != a.TicketID || !state.TopicPending {
		return
	}
	state.TopicPending = false
	b.saveSession(ctx, state)
}
