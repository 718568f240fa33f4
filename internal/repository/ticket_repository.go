package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-bridge/internal/domain"
)

// TicketRepository encapsulates ticket persistence. It is the source of truth for ticket state.
type TicketRepository interface {
	CreateTicket(ctx context.Context, ticket *domain.Ticket) error
	// UpdateStatus persists status, assignee and closed_at of the ticket.
	UpdateStatus(ctx context.Context, ticket *domain.Ticket) error
	SetTopic(ctx context.Context, ticketID string, topicID int64) error
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	// LoadTicketByUser returns the user's most recent ticket of any status.
	LoadTicketByUser(ctx context.Context, userID int64) (*domain.Ticket, error)
	// LoadTicketByTopic returns the most recent ticket bound to the staff topic.
	LoadTicketByTopic(ctx context.Context, groupID, topicID int64) (*domain.Ticket, error)
}

type ticketRepository struct {
	db  Querier
	now func() time.Time
}

// NewTicketRepository instantiates the Postgres repository.
func NewTicketRepository(db Querier) TicketRepository {
	return &ticketRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const ticketColumns = `id::text, user_id, user_name, username, category, group_id, topic_id, status,
               assignee_id, assignee_name, created_at, updated_at, closed_at`

func (r *ticketRepository) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := r.now()
	ticket.CreatedAt, ticket.UpdatedAt = now, now

	const query = `
        INSERT INTO tickets (id, user_id, user_name, username, category, group_id, topic_id, status,
                             assignee_id, assignee_name, created_at, updated_at, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.db.Exec(ctx, query,
		ticket.ID,
		ticket.UserID,
		ticket.UserName,
		ticket.Username,
		ticket.Category,
		ticket.GroupID,
		ticket.TopicID,
		string(ticket.Status),
		ticket.Assignee,
		ticket.AssigneeName,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.ClosedAt,
	)
	return mapError(err, "ticket", ticket.ID)
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, ticket *domain.Ticket) error {
	ticket.UpdatedAt = r.now()
	const query = `
        UPDATE tickets SET status=$1, assignee_id=$2, assignee_name=$3, closed_at=$4, updated_at=$5
        WHERE id=$6`
	cmd, err := r.db.Exec(ctx, query,
		string(ticket.Status),
		ticket.Assignee,
		ticket.AssigneeName,
		ticket.ClosedAt,
		ticket.UpdatedAt,
		ticket.ID,
	)
	if err != nil {
		return mapError(err, "ticket", ticket.ID)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s: %w", ticket.ID, ErrNotFound)
	}
	return nil
}

func (r *ticketRepository) SetTopic(ctx context.Context, ticketID string, topicID int64) error {
	const query = `UPDATE tickets SET topic_id=$1, updated_at=$2 WHERE id=$3`
	cmd, err := r.db.Exec(ctx, query, topicID, r.now(), ticketID)
	if err != nil {
		return mapError(err, "ticket", ticketID)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s: %w", ticketID, ErrNotFound)
	}
	return nil
}

func (r *ticketRepository) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	ticket, err := r.fetchSingle(ctx, query, id)
	return ticket, mapError(err, "ticket", id)
}

func (r *ticketRepository) LoadTicketByUser(ctx context.Context, userID int64) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets WHERE user_id=$1
        ORDER BY (status <> 'CLOSED') DESC, created_at DESC LIMIT 1`
	ticket, err := r.fetchSingle(ctx, query, userID)
	return ticket, mapError(err, "ticket for user", strconv.FormatInt(userID, 10))
}

func (r *ticketRepository) LoadTicketByTopic(ctx context.Context, groupID, topicID int64) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets WHERE group_id=$1 AND topic_id=$2
        ORDER BY created_at DESC LIMIT 1`
	ticket, err := r.fetchSingle(ctx, query, groupID, topicID)
	return ticket, mapError(err, "ticket for topic", fmt.Sprintf("%d/%d", groupID, topicID))
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var (
		ticket domain.Ticket
		status string
	)
	if err := r.db.QueryRow(ctx, query, args...).Scan(
		&ticket.ID,
		&ticket.UserID,
		&ticket.UserName,
		&ticket.Username,
		&ticket.Category,
		&ticket.GroupID,
		&ticket.TopicID,
		&status,
		&ticket.Assignee,
		&ticket.AssigneeName,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ClosedAt,
	); err != nil {
		return nil, err
	}
	ticket.Status = domain.TicketStatus(status)
	return &ticket, nil
}
