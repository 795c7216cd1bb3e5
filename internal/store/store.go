package store

import "context"

// Store persists sessions between invocations.
// All implementations must be safe for concurrent use.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, id string, update SessionUpdate) error
	// ListSessions returns matching sessions, least recently updated first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	AppendMessage(ctx context.Context, id string, msg Message) error
	DeleteSession(ctx context.Context, id string) error

	Migrate(ctx context.Context) error
	Close() error
}
