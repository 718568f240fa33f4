package domain

import "time"

// Side identifies which end of the bridge a message originated from.
type Side string

const (
	SideUser  Side = "USER"
	SideStaff Side = "STAFF"
)

// Opposite returns the other side of the bridge.
func (s Side) Opposite() Side {
	if s == SideUser {
		return SideStaff
	}
	return SideUser
}

// Valid reports whether s is USER or STAFF.
func (s Side) Valid() bool {
	return s == SideUser || s == SideStaff
}

// MessageMirror links an origin message to the copy delivered on the other side.
type MessageMirror struct {
	TicketID        string
	OriginSide      Side
	OriginChatID    int64
	OriginMessageID int64
	MirrorChatID    int64
	MirrorMessageID int64
	CreatedAt       time.Time
}
