package session

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/support-bridge/internal/domain"
)

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e memoryEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]memoryEntry[domain.SessionState]
	topics   map[string]memoryEntry[domain.TopicRef]
	now      func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]memoryEntry[domain.SessionState]),
		topics:   make(map[string]memoryEntry[domain.TopicRef]),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (*domain.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[userID]
	if !ok || entry.expired(s.now()) {
		delete(s.sessions, userID)
		return nil, ErrNotFound
	}
	state := entry.value
	return &state, nil
}

func (s *MemoryStore) Put(_ context.Context, userID int64, state *domain.SessionState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(userID, state, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userID int64, init *domain.SessionState, ttl time.Duration) (*domain.SessionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[userID]; ok && !entry.expired(s.now()) {
		state := entry.value
		return &state, false, nil
	}
	state := cloneState(init)
	if state == nil {
		state = &domain.SessionState{}
	}
	s.putLocked(userID, state, ttl)
	return state, true, nil
}

func (s *MemoryStore) GetTopic(_ context.Context, groupID, topicID int64) (*domain.TopicRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := topicKey(groupID, topicID)
	entry, ok := s.topics[key]
	if !ok || entry.expired(s.now()) {
		delete(s.topics, key)
		return nil, ErrNotFound
	}
	ref := entry.value
	return &ref, nil
}

func (s *MemoryStore) PutTopic(_ context.Context, ref *domain.TopicRef, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topicKey(ref.GroupID, ref.TopicID)] = memoryEntry[domain.TopicRef]{value: *ref, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) putLocked(userID int64, state *domain.SessionState, ttl time.Duration) {
	state.UserID = userID
	state.UpdatedAt = s.now()
	s.sessions[userID] = memoryEntry[domain.SessionState]{value: *state, expiresAt: s.expiry(ttl)}
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
