package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Sessions are lost on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) CreateSession(_ context.Context, sess *Session) error {
	if err := prepareSession(sess); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sess.ID]; exists {
		return storeConflict(sess.ID)
	}
	m.sessions[sess.ID] = cloneSession(sess, true)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, storeNotFound("session", id)
	}
	return cloneSession(sess, true), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, id string, update SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return storeNotFound("session", id)
	}
	if update.FromStatus != "" && sess.Status != update.FromStatus {
		return statusConflict(id, sess.Status, update.FromStatus)
	}
	if update.Status != nil {
		sess.Status = *update.Status
	}
	if update.State != nil {
		sess.State = slices.Clone(update.State)
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

// ListSessions does not load messages, matching LibSQLStore.
func (m *MemoryStore) ListSessions(_ context.Context, filter SessionFilter) ([]*Session, error) {
	m.mu.RLock()
	var out []*Session
	for _, sess := range m.sessions {
		if filter.matches(sess) {
			out = append(out, cloneSession(sess, false))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, id string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return storeNotFound("session", id)
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = now
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return storeNotFound("session", id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func cloneSession(s *Session, withMessages bool) *Session {
	c := *s
	c.State = slices.Clone(s.State)
	c.Messages = nil
	if withMessages {
		c.Messages = slices.Clone(s.Messages)
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
