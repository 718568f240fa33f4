package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/support-bridge/internal/config"
	"github.com/spec-kit/support-bridge/internal/domain"
	"github.com/spec-kit/support-bridge/internal/events"
	"github.com/spec-kit/support-bridge/internal/repository"
	"github.com/spec-kit/support-bridge/internal/worker"
)

// NotificationService turns bridge events into audit rows and staff-facing notices.
type NotificationService struct {
	dispatcher events.Dispatcher
	audit      repository.TicketEventRepository
	outbound   worker.Enqueuer
	logger     *zap.Logger
	cfg        config.BridgeConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, audit repository.TicketEventRepository, outbound worker.Enqueuer, logger *zap.Logger, cfg config.BridgeConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		audit:      audit,
		outbound:   outbound,
		logger:     logger,
		cfg:        cfg,
	}
}

var auditActions = map[events.EventType]domain.TicketEventAction{
	events.EventTicketCreated:       domain.ActionTicketCreated,
	events.EventTicketStatusChanged: domain.ActionStatusChanged,
	events.EventTicketAssigned:      domain.ActionAssigned,
	events.EventTopicCreated:        domain.ActionTopicCreated,
	events.EventMirrorMissed:        domain.ActionMirrorMissed,
	events.EventDeliveryFailed:      domain.ActionDeliveryFailed,
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.SubscribeAll(n.handleAudit)
	n.dispatcher.Subscribe(events.EventMirrorMissed, n.handleMirrorMissed)
	n.dispatcher.Subscribe(events.EventDeliveryFailed, n.handleDeliveryFailed)
}

func (n *NotificationService) handleAudit(ctx context.Context, event events.Event) error {
	action, ok := auditActions[event.Type]
	if n.audit == nil || event.TicketID == "" || !ok {
		return nil
	}
	payload, err := payloadFields(event.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	entry := &domain.TicketEvent{
		ID:        event.ID,
		TicketID:  event.TicketID,
		Actor:     event.Actor.Type,
		ActorID:   event.Actor.ID,
		Action:    action,
		Payload:   payload,
		CreatedAt: event.Timestamp,
	}
	if err := n.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (n *NotificationService) handleMirrorMissed(_ context.Context, event events.Event) error {
	n.logger.Warn("MirrorMissed", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleDeliveryFailed(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DeliveryFailedPayload)
	if !ok {
		return nil
	}
	n.logger.Warn("DeliveryFailed",
		zap.String("ticket_id", event.TicketID),
		zap.String("kind", payload.Kind),
		zap.String("direction", payload.Direction),
		zap.Int("attempts", payload.Attempts),
		zap.String("error", payload.Error))

	if !n.cfg.NotifyStaffOnFailure || n.outbound == nil {
		return nil
	}
	if payload.Direction != string(worker.DirectionToUser) || payload.Kind != string(worker.ActionSendMessage) || payload.TopicID == 0 {
		return nil
	}
	n.outbound.Enqueue(worker.Action{
		Key:       worker.Key(event.TicketID, worker.DirectionToStaff, worker.ActionSendMessage, "failed-"+payload.Key),
		Kind:      worker.ActionSendMessage,
		TicketID:  event.TicketID,
		Direction: worker.DirectionToStaff,
		Target:    worker.Target{ChatID: payload.GroupID, ThreadID: payload.TopicID},
		Text:      fmt.Sprintf("⚠️ Message was not delivered to the user: %s", payload.Error),
	})
	return nil
}

// payloadFields flattens a typed payload into the audit row's JSON object.
func payloadFields(payload any) (map[string]any, error) {
	if payload == nil {
		return nil, nil
	}
	if fields, ok := payload.(map[string]any); ok {
		return fields, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
