package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/support-bridge/internal/domain"
)

// Timestamps are stored as unix nanoseconds so ordering survives sub-second bursts.

type sqliteTicketRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteTicketRepository returns a TicketRepository over an embedded database.
func NewSQLiteTicketRepository(db *sql.DB) TicketRepository {
	return &sqliteTicketRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const sqliteTicketColumns = `id, user_id, user_name, username, category, group_id, topic_id, status,
	assignee_id, assignee_name, created_at, updated_at, closed_at`

func (r *sqliteTicketRepository) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := r.now()
	ticket.CreatedAt, ticket.UpdatedAt = now, now

	const query = `
	INSERT INTO tickets (` + sqliteTicketColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		ticket.ID,
		ticket.UserID,
		ticket.UserName,
		ticket.Username,
		ticket.Category,
		ticket.GroupID,
		nullInt64(ticket.TopicID),
		string(ticket.Status),
		nullInt64(ticket.Assignee),
		ticket.AssigneeName,
		now.UnixNano(),
		now.UnixNano(),
		nullTime(ticket.ClosedAt),
	)
	return mapError(err, "ticket", ticket.ID)
}

func (r *sqliteTicketRepository) UpdateStatus(ctx context.Context, ticket *domain.Ticket) error {
	ticket.UpdatedAt = r.now()
	const query = `
	UPDATE tickets SET status = ?, assignee_id = ?, assignee_name = ?, closed_at = ?, updated_at = ?
	WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(ticket.Status),
		nullInt64(ticket.Assignee),
		ticket.AssigneeName,
		nullTime(ticket.ClosedAt),
		ticket.UpdatedAt.UnixNano(),
		ticket.ID,
	)
	return affectedOne(res, err, "ticket", ticket.ID)
}

func (r *sqliteTicketRepository) SetTopic(ctx context.Context, ticketID string, topicID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET topic_id = ?, updated_at = ? WHERE id = ?`,
		topicID, r.now().UnixNano(), ticketID)
	return affectedOne(res, err, "ticket", ticketID)
}

func (r *sqliteTicketRepository) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteTicketColumns+` FROM tickets WHERE id = ?`, id)
	ticket, err := scanSQLiteTicket(row)
	return ticket, mapError(err, "ticket", id)
}

func (r *sqliteTicketRepository) LoadTicketByUser(ctx context.Context, userID int64) (*domain.Ticket, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteTicketColumns+` FROM tickets WHERE user_id = ?
	ORDER BY (status <> 'CLOSED') DESC, created_at DESC LIMIT 1`, userID)
	ticket, err := scanSQLiteTicket(row)
	return ticket, mapError(err, "ticket for user", strconv.FormatInt(userID, 10))
}

func (r *sqliteTicketRepository) LoadTicketByTopic(ctx context.Context, groupID, topicID int64) (*domain.Ticket, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteTicketColumns+` FROM tickets
	WHERE group_id = ? AND topic_id = ? ORDER BY created_at DESC LIMIT 1`, groupID, topicID)
	ticket, err := scanSQLiteTicket(row)
	return ticket, mapError(err, "ticket for topic", fmt.Sprintf("%d/%d", groupID, topicID))
}

func scanSQLiteTicket(row *sql.Row) (*domain.Ticket, error) {
	var (
		ticket               domain.Ticket
		status               string
		topicID, assignee    sql.NullInt64
		createdAt, updatedAt int64
		closedAt             sql.NullInt64
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.UserID,
		&ticket.UserName,
		&ticket.Username,
		&ticket.Category,
		&ticket.GroupID,
		&topicID,
		&status,
		&assignee,
		&ticket.AssigneeName,
		&createdAt,
		&updatedAt,
		&closedAt,
	); err != nil {
		return nil, err
	}
	ticket.Status = domain.TicketStatus(status)
	ticket.TopicID = int64Ptr(topicID)
	ticket.Assignee = int64Ptr(assignee)
	ticket.CreatedAt = time.Unix(0, createdAt).UTC()
	ticket.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if closedAt.Valid {
		t := time.Unix(0, closedAt.Int64).UTC()
		ticket.ClosedAt = &t
	}
	return &ticket, nil
}

type sqliteMirrorRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteMirrorRepository returns a MirrorRepository over an embedded database.
func NewSQLiteMirrorRepository(db *sql.DB) MirrorRepository {
	return &sqliteMirrorRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *sqliteMirrorRepository) RecordMirror(ctx context.Context, mirror *domain.MessageMirror) error {
	if mirror.CreatedAt.IsZero() {
		mirror.CreatedAt = r.now()
	}
	const query = `
	INSERT INTO message_mirrors (ticket_id, origin_side, origin_chat_id, origin_message_id,
		mirror_chat_id, mirror_message_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(ticket_id, origin_side, origin_message_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		mirror.TicketID,
		string(mirror.OriginSide),
		mirror.OriginChatID,
		mirror.OriginMessageID,
		mirror.MirrorChatID,
		mirror.MirrorMessageID,
		mirror.CreatedAt.UnixNano(),
	)
	return mapError(err, "mirror", mirrorID(mirror.TicketID, mirror.OriginSide, mirror.OriginMessageID))
}

func (r *sqliteMirrorRepository) LookupMirror(ctx context.Context, ticketID string, originSide domain.Side, originMessageID int64) (*domain.MessageMirror, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT ticket_id, origin_side, origin_chat_id, origin_message_id, mirror_chat_id, mirror_message_id, created_at
	FROM message_mirrors WHERE ticket_id = ? AND origin_side = ? AND origin_message_id = ?`,
		ticketID, string(originSide), originMessageID)
	mirror, err := scanSQLiteMirror(row)
	return mirror, mapError(err, "mirror", mirrorID(ticketID, originSide, originMessageID))
}

func (r *sqliteMirrorRepository) LookupMirrorByTarget(ctx context.Context, ticketID string, originSide domain.Side, mirrorMessageID int64) (*domain.MessageMirror, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT ticket_id, origin_side, origin_chat_id, origin_message_id, mirror_chat_id, mirror_message_id, created_at
	FROM message_mirrors WHERE ticket_id = ? AND origin_side = ? AND mirror_message_id = ?`,
		ticketID, string(originSide), mirrorMessageID)
	mirror, err := scanSQLiteMirror(row)
	return mirror, mapError(err, "mirror target", mirrorID(ticketID, originSide, mirrorMessageID))
}

func scanSQLiteMirror(row *sql.Row) (*domain.MessageMirror, error) {
	var (
		mirror    domain.MessageMirror
		side      string
		createdAt int64
	)
	if err := row.Scan(
		&mirror.TicketID,
		&side,
		&mirror.OriginChatID,
		&mirror.OriginMessageID,
		&mirror.MirrorChatID,
		&mirror.MirrorMessageID,
		&createdAt,
	); err != nil {
		return nil, err
	}
	mirror.OriginSide = domain.Side(side)
	mirror.CreatedAt = time.Unix(0, createdAt).UTC()
	return &mirror, nil
}

type sqliteTicketEventRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteTicketEventRepository returns the audit repository over an embedded database.
func NewSQLiteTicketEventRepository(db *sql.DB) TicketEventRepository {
	return &sqliteTicketEventRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *sqliteTicketEventRepository) Append(ctx context.Context, event *domain.TicketEvent) error {
	payload, err := prepareEvent(event, r.now)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO ticket_events (id, ticket_id, actor, actor_id, action, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.TicketID,
		string(event.Actor),
		nullInt64(event.ActorID),
		string(event.Action),
		string(payload),
		event.CreatedAt.UnixNano(),
	)
	return mapError(err, "ticket event", event.ID)
}

func (r *sqliteTicketEventRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, ticket_id, actor, actor_id, action, payload, created_at
	FROM ticket_events WHERE ticket_id = ? ORDER BY created_at ASC, rowid ASC`, ticketID)
	if err != nil {
		return nil, mapError(err, "ticket events", ticketID)
	}
	defer rows.Close()

	var result []domain.TicketEvent
	for rows.Next() {
		var (
			event     domain.TicketEvent
			actor     string
			actorID   sql.NullInt64
			action    string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &event.TicketID, &actor, &actorID, &action, &payload, &createdAt); err != nil {
			return nil, mapError(err, "ticket events", ticketID)
		}
		event.Actor = domain.EventActor(actor)
		event.ActorID = int64Ptr(actorID)
		event.Action = domain.TicketEventAction(action)
		event.CreatedAt = time.Unix(0, createdAt).UTC()
		if event.Payload, err = decodePayload([]byte(payload)); err != nil {
			return nil, fmt.Errorf("ticket event %s payload: %w", event.ID, err)
		}
		result = append(result, event)
	}
	return result, mapError(rows.Err(), "ticket events", ticketID)
}

func affectedOne(res sql.Result, err error, entity, id string) error {
	if err != nil {
		return mapError(err, entity, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, entity, id)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UnixNano()
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}
