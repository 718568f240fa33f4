// Package session holds the per-user conversation cache, the topic mapping
// cache, per-user locks and the inbound update dedupe set.
//
// Everything here is a cache in front of the ticket repository: a miss never
// means "no ticket", callers rebuild from the repository.
package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/spec-kit/support-bridge/internal/domain"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("session: not found")

// Store is the key/value contract for session state and topic mappings.
type Store interface {
	Get(ctx context.Context, userID int64) (*domain.SessionState, error)
	Put(ctx context.Context, userID int64, state *domain.SessionState, ttl time.Duration) error
	Delete(ctx context.Context, userID int64) error
	// GetOrCreate atomically stores init when no state exists. created reports which happened.
	GetOrCreate(ctx context.Context, userID int64, init *domain.SessionState, ttl time.Duration) (state *domain.SessionState, created bool, err error)
	GetTopic(ctx context.Context, groupID, topicID int64) (*domain.TopicRef, error)
	PutTopic(ctx context.Context, ref *domain.TopicRef, ttl time.Duration) error
}

const keyPrefix = "bridge:"

func sessionKey(userID int64) string {
	return keyPrefix + "session:" + strconv.FormatInt(userID, 10)
}

func topicKey(groupID, topicID int64) string {
	return keyPrefix + "topic:" + strconv.FormatInt(groupID, 10) + ":" + strconv.FormatInt(topicID, 10)
}

func updateKey(updateID int64) string {
	return keyPrefix + "update:" + strconv.FormatInt(updateID, 10)
}

func lockKey(key string) string {
	return keyPrefix + "lock:" + key
}

// UserLockKey names the per-user critical section shared by intake and dispatcher callbacks.
func UserLockKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func cloneState(s *domain.SessionState) *domain.SessionState {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
