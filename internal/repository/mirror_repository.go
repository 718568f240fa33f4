package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/support-bridge/internal/domain"
)

// MirrorRepository links origin messages to their mirrored copies.
type MirrorRepository interface {
	// RecordMirror stores the link; a second record for the same origin is ignored.
	RecordMirror(ctx context.Context, mirror *domain.MessageMirror) error
	// LookupMirror finds the copy of an origin message.
	LookupMirror(ctx context.Context, ticketID string, originSide domain.Side, originMessageID int64) (*domain.MessageMirror, error)
	// LookupMirrorByTarget finds the origin of a mirrored copy.
	LookupMirrorByTarget(ctx context.Context, ticketID string, originSide domain.Side, mirrorMessageID int64) (*domain.MessageMirror, error)
}

type mirrorRepository struct {
	db  Querier
	now func() time.Time
}

// NewMirrorRepository builds the Postgres repository.
func NewMirrorRepository(db Querier) MirrorRepository {
	return &mirrorRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *mirrorRepository) RecordMirror(ctx context.Context, mirror *domain.MessageMirror) error {
	if mirror.CreatedAt.IsZero() {
		mirror.CreatedAt = r.now()
	}
	const query = `
        INSERT INTO message_mirrors (ticket_id, origin_side, origin_chat_id, origin_message_id,
                                     mirror_chat_id, mirror_message_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (ticket_id, origin_side, origin_message_id) DO NOTHING`
	_, err := r.db.Exec(ctx, query,
		mirror.TicketID,
		string(mirror.OriginSide),
		mirror.OriginChatID,
		mirror.OriginMessageID,
		mirror.MirrorChatID,
		mirror.MirrorMessageID,
		mirror.CreatedAt,
	)
	return mapError(err, "mirror", mirrorID(mirror.TicketID, mirror.OriginSide, mirror.OriginMessageID))
}

func (r *mirrorRepository) LookupMirror(ctx context.Context, ticketID string, originSide domain.Side, originMessageID int64) (*domain.MessageMirror, error) {
	const query = `
        SELECT ticket_id::text, origin_side, origin_chat_id, origin_message_id, mirror_chat_id, mirror_message_id, created_at
        FROM message_mirrors WHERE ticket_id=$1 AND origin_side=$2 AND origin_message_id=$3`
	mirror, err := r.fetchSingle(ctx, query, ticketID, string(originSide), originMessageID)
	return mirror, mapError(err, "mirror", mirrorID(ticketID, originSide, originMessageID))
}

func (r *mirrorRepository) LookupMirrorByTarget(ctx context.Context, ticketID string, originSide domain.Side, mirrorMessageID int64) (*domain.MessageMirror, error) {
	const query = `
        SELECT ticket_id::text, origin_side, origin_chat_id, origin_message_id, mirror_chat_id, mirror_message_id, created_at
        FROM message_mirrors WHERE ticket_id=$1 AND origin_side=$2 AND mirror_message_id=$3`
	mirror, err := r.fetchSingle(ctx, query, ticketID, string(originSide), mirrorMessageID)
	return mirror, mapError(err, "mirror target", mirrorID(ticketID, originSide, mirrorMessageID))
}

func (r *mirrorRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.MessageMirror, error) {
	var (
		mirror domain.MessageMirror
		side   string
	)
	if err := r.db.QueryRow(ctx, query, args...).Scan(
		&mirror.TicketID,
		&side,
		&mirror.OriginChatID,
		&mirror.OriginMessageID,
		&mirror.MirrorChatID,
		&mirror.MirrorMessageID,
		&mirror.CreatedAt,
	); err != nil {
		return nil, err
	}
	mirror.OriginSide = domain.Side(side)
	return &mirror, nil
}

func mirrorID(ticketID string, side domain.Side, messageID int64) string {
	return fmt.Sprintf("%s/%s/%d", ticketID, side, messageID)
}
