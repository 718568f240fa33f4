package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/support-bridge/internal/domain"
)

// RedisStore keeps JSON encoded sessions and topic mappings in Redis.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (*domain.SessionState, error) {
	var state domain.SessionState
	if err := s.getJSON(ctx, sessionKey(userID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *RedisStore) Put(ctx context.Context, userID int64, state *domain.SessionState, ttl time.Duration) error {
	state.UserID = userID
	state.UpdatedAt = s.now()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", userID, err)
	}
	if err := s.client.Set(ctx, sessionKey(userID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("put session %d: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete session %d: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) GetOrCreate(ctx context.Context, userID int64, init *domain.SessionState, ttl time.Duration) (*domain.SessionState, bool, error) {
	state := cloneState(init)
	if state == nil {
		state = &domain.SessionState{}
	}
	state.UserID = userID
	state.UpdatedAt = s.now()
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, false, fmt.Errorf("encode session %d: %w", userID, err)
	}

	// Two rounds cover a key expiring between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, sessionKey(userID), payload, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("create session %d: %w", userID, err)
		}
		if created {
			return state, true, nil
		}
		existing, err := s.Get(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("create session %d: key churned", userID)
}

func (s *RedisStore) GetTopic(ctx context.Context, groupID, topicID int64) (*domain.TopicRef, error) {
	var ref domain.TopicRef
	if err := s.getJSON(ctx, topicKey(groupID, topicID), &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *RedisStore) PutTopic(ctx context.Context, ref *domain.TopicRef, ttl time.Duration) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode topic %d/%d: %w", ref.GroupID, ref.TopicID, err)
	}
	if err := s.client.Set(ctx, topicKey(ref.GroupID, ref.TopicID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("put topic %d/%d: %w", ref.GroupID, ref.TopicID, err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, dst any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
