package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/sopflow/pkg/schema"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionRunning     SessionStatus = "running"
	SessionWaitingHITL SessionStatus = "waiting_hitl"
	SessionDone        SessionStatus = "done"
	SessionFailed      SessionStatus = "failed"
	SessionCancelled   SessionStatus = "cancelled"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionDone || s == SessionFailed || s == SessionCancelled
}

// StatusFor maps a run outcome to the session status that records it.
func StatusFor(state schema.ExecutionState) SessionStatus {
	switch state {
	case schema.StatePendingHITL:
		return SessionWaitingHITL
	case schema.StateDone:
		return SessionDone
	case schema.StateCancelled:
		return SessionCancelled
	case schema.StateFailed:
		return SessionFailed
	default:
		return SessionRunning
	}
}

// Session is one user request and the paused run state it carries between
// invocations. State is opaque to the store.
type Session struct {
	ID        string          `json:"id"`
	Intent    string          `json:"intent,omitempty"`
	Status    SessionStatus   `json:"status"`
	Messages  []Message       `json:"messages,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Message is an entry of a session's conversation log.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionUpdate holds the fields to change on a session. Nil fields are left
// untouched. A non-empty FromStatus makes the update conditional: it applies
// only while the session still has that status, otherwise CONFLICT.
type SessionUpdate struct {
	Status     *SessionStatus
	State      json.RawMessage
	FromStatus SessionStatus
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	Status        SessionStatus
	UpdatedBefore *time.Time
	Limit         int
}

func (f SessionFilter) matches(s *Session) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.UpdatedBefore != nil && !s.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	return true
}
