package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-bridge/internal/domain"
)

// TicketEventRepository appends to and reads the ticket audit trail.
type TicketEventRepository interface {
	Append(ctx context.Context, event *domain.TicketEvent) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error)
}

type ticketEventRepository struct {
	db  Querier
	now func() time.Time
}

// NewTicketEventRepository returns the Postgres audit repository.
func NewTicketEventRepository(db Querier) TicketEventRepository {
	return &ticketEventRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *ticketEventRepository) Append(ctx context.Context, event *domain.TicketEvent) error {
	payload, err := prepareEvent(event, r.now)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO ticket_events (id, ticket_id, actor, actor_id, action, payload, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = r.db.Exec(ctx, query,
		event.ID,
		event.TicketID,
		string(event.Actor),
		event.ActorID,
		string(event.Action),
		payload,
		event.CreatedAt,
	)
	return mapError(err, "ticket event", event.ID)
}

func (r *ticketEventRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	const query = `
        SELECT id::text, ticket_id::text, actor, actor_id, action, payload, created_at
        FROM ticket_events WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, mapError(err, "ticket events", ticketID)
	}
	defer rows.Close()

	var result []domain.TicketEvent
	for rows.Next() {
		var (
			event   domain.TicketEvent
			actor   string
			action  string
			payload []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&actor,
			&event.ActorID,
			&action,
			&payload,
			&event.CreatedAt,
		); err != nil {
			return nil, mapError(err, "ticket events", ticketID)
		}
		event.Actor = domain.EventActor(actor)
		event.Action = domain.TicketEventAction(action)
		if event.Payload, err = decodePayload(payload); err != nil {
			return nil, fmt.Errorf("ticket event %s payload: %w", event.ID, err)
		}
		result = append(result, event)
	}
	return result, mapError(rows.Err(), "ticket events", ticketID)
}

func prepareEvent(event *domain.TicketEvent, now func() time.Time) ([]byte, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now()
	}
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ticket event %s payload: %w", event.ID, err)
	}
	return encoded, nil
}

func decodePayload(raw []byte) (map[string]any, error) {
	payload := map[string]any{}
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
