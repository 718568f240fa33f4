package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/domain"
	"github.com/spec-kit/support-bridge/internal/platform"
	"github.com/spec-kit/support-bridge/internal/repository"
	"github.com/spec-kit/support-bridge/internal/worker"
)

// mirrorAction copies msg to the other side of the ticket. The staff topic and the
// reply target are resolved when the action runs, after earlier actions of the lane.
func (b *BridgeService) mirrorAction(ticket *domain.Ticket, msg domain.Message) worker.Action {
	dir := worker.DirectionFrom(msg.Side)
	a := worker.Action{
		Key:       worker.Key(ticket.ID, dir, worker.ActionSendMessage, msg.MessageID),
		Kind:      worker.ActionSendMessage,
		TicketID:  ticket.ID,
		UserID:    ticket.UserID,
		Direction: dir,
		Origin:    &worker.Origin{Side: msg.Side, ChatID: msg.ChatID, MessageID: msg.MessageID},
		CopyFrom:  &platform.MessageRef{ChatID: msg.ChatID, MessageID: msg.MessageID},
	}
	if dir == worker.DirectionToUser {
		a.Target = worker.Target{ChatID: ticket.UserID}
	}

	ticketID, side, replyTo := ticket.ID, msg.Side, msg.ReplyToID
	a.Resolve = func(ctx context.Context, a *worker.Action) error {
		if a.Direction == worker.DirectionToStaff {
			current, err := b.tickets.GetTicket(ctx, ticketID)
			if err != nil {
				return fmt.Errorf("load ticket %s: %w", ticketID, err)
			}
			if !current.HasTopic() {
				return fmt.Errorf("ticket %s: %w", ticketID, worker.ErrTopicUnavailable)
			}
			a.Target = worker.Target{ChatID: current.GroupID, ThreadID: *current.TopicID}
		}
		if replyTo != 0 {
			a.ReplyToID = b.replyTarget(ctx, ticketID, side, replyTo)
		}
		return nil
	}
	return a
}

// replyTarget finds the message on the other side that corresponds to replyTo.
// Replying to an own-side original resolves to its mirror; replying to a mirrored
// copy resolves back to the origin. Zero means no counterpart.
func (b *BridgeService) replyTarget(ctx context.Context, ticketID string, side domain.Side, replyTo int64) int64 {
	mirror, err := b.mirrors.LookupMirror(ctx, ticketID, side, replyTo)
	if err == nil {
		return mirror.MirrorMessageID
	}
	if !errors.Is(err, repository.ErrNotFound) {
		b.logger.Warn("reply lookup failed", zap.String("ticket_id", ticketID), zap.Int64("reply_to", replyTo), zap.Error(err))
		return 0
	}
	mirror, err = b.mirrors.LookupMirrorByTarget(ctx, ticketID, side.Opposite(), replyTo)
	if err == nil {
		return mirror.OriginMessageID
	}
	if !errors.Is(err, repository.ErrNotFound) {
		b.logger.Warn("reply lookup failed", zap.String("ticket_id", ticketID), zap.Int64("reply_to", replyTo), zap.Error(err))
	}
	return 0
}

// resolveMirror points a at the recorded mirror of the origin message.
func (b *BridgeService) resolveMirror(ticketID string, side domain.Side, messageID int64) worker.Resolver {
	return func(ctx context.Context, a *worker.Action) error {
		mirror, err := b.mirrors.LookupMirror(ctx, ticketID, side, messageID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s %s/%s/%d: %w", a.Kind, ticketID, side, messageID, worker.ErrMirrorNotFound)
		}
		if err != nil {
			return err
		}
		a.Target = worker.Target{ChatID: mirror.MirrorChatID, MessageID: mirror.MirrorMessageID}
		return nil
	}
}

func (b *BridgeService) propagateEdit(ticket *domain.Ticket, updateID int64, msg domain.Message) {
	if ticket == nil {
		b.logger.Debug("edit without ticket", zap.Int64("chat_id", msg.ChatID), zap.Int64("message_id", msg.MessageID))
		return
	}
	dir := worker.DirectionFrom(msg.Side)
	b.enqueue(worker.Action{
		Key:       worker.Key(ticket.ID, dir, worker.ActionEditMessage, fmt.Sprintf("%d-%d", msg.MessageID, updateID)),
		Kind:      worker.ActionEditMessage,
		TicketID:  ticket.ID,
		UserID:    ticket.UserID,
		Direction: dir,
		Origin:    &worker.Origin{Side: msg.Side, ChatID: msg.ChatID, MessageID: msg.MessageID},
		Text:      msg.Body(),
		Caption:   msg.HasMedia,
		Resolve:   b.resolveMirror(ticket.ID, msg.Side, msg.MessageID),
	})
}

func (b *BridgeService) propagateDelete(ticket *domain.Ticket, side domain.Side, messageIDs []int64) {
	if ticket == nil {
		return
	}
	dir := worker.DirectionFrom(side)
	actions := make([]worker.Action, 0, len(messageIDs))
	for _, id := range messageIDs {
		actions = append(actions, worker.Action{
			Key:       worker.Key(ticket.ID, dir, worker.ActionDeleteMessage, id),
			Kind:      worker.ActionDeleteMessage,
			TicketID:  ticket.ID,
			UserID:    ticket.UserID,
			Direction: dir,
			Origin:    &worker.Origin{Side: side, MessageID: id},
			Resolve:   b.resolveMirror(ticket.ID, side, id),
		})
	}
	b.enqueue(actions...)
}

// topicAction builds a lifecycle action on the ticket's topic.
func (b *BridgeService) topicAction(ticket *domain.Ticket, kind worker.ActionKind, seq string) worker.Action {
	return worker.Action{
		Key:       worker.Key(ticket.ID, worker.DirectionToStaff, kind, seq),
		Kind:      kind,
		TicketID:  ticket.ID,
		UserID:    ticket.UserID,
		Direction: worker.DirectionToStaff,
		Target:    worker.Target{ChatID: ticket.GroupID, ThreadID: *ticket.TopicID},
	}
}

func (b *BridgeService) retitleAction(ticket *domain.Ticket, seq string) worker.Action {
	a := b.topicAction(ticket, worker.ActionEditTopic, seq)
	a.Title = TopicTitle(ticket)
	return a
}

func (b *BridgeService) userNotice(ticket *domain.Ticket, seq, text string) worker.Action {
	return worker.Action{
		Key:       worker.Key(ticket.ID, worker.DirectionToUser, worker.ActionSendMessage, seq),
		Kind:      worker.ActionSendMessage,
		TicketID:  ticket.ID,
		UserID:    ticket.UserID,
		Direction: worker.DirectionToUser,
		Target:    worker.Target{ChatID: ticket.UserID},
		Text:      text,
	}
}

// staffNotice posts text into the ticket's topic, which must exist.
func (b *BridgeService) staffNotice(ticket *domain.Ticket, seq, text string) worker.Action {
	a := b.topicAction(ticket, worker.ActionSendMessage, seq)
	a.Text = text
	return a
}
