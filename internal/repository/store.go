package repository

import "database/sql"

// Store bundles the repositories the bridge depends on.
type Store struct {
	Tickets TicketRepository
	Mirrors MirrorRepository
	Events  TicketEventRepository
}

// NewPostgresStore builds every repository over one pgx querier.
func NewPostgresStore(db Querier) Store {
	return Store{
		Tickets: NewTicketRepository(db),
		Mirrors: NewMirrorRepository(db),
		Events:  NewTicketEventRepository(db),
	}
}

// NewSQLiteStore builds every repository over one embedded database.
func NewSQLiteStore(db *sql.DB) Store {
	return Store{
		Tickets: NewSQLiteTicketRepository(db),
		Mirrors: NewSQLiteMirrorRepository(db),
		Events:  NewSQLiteTicketEventRepository(db),
	}
}
