package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session is unknown, expired or revoked
var ErrSessionNotFound = errors.New("session not found")

const sessionKeyPrefix = "session:"

// SessionValidator confirms that a session is still live for a user
type SessionValidator interface {
	Validate(ctx context.Context, sessionID, userID string) error
}

// RedisSessionStore keeps sessions in Redis as session:<sid> -> user id
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore creates a session store. ttl defaults to 8 hours.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// Create starts a new session for userID and returns its id
func (s *RedisSessionStore) Create(ctx context.Context, userID string) (string, error) {
	sessionID := uuid.NewString()
	if err := s.client.Set(ctx, sessionKey(sessionID), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// Validate checks the session exists and belongs to userID
func (s *RedisSessionStore) Validate(ctx context.Context, sessionID, userID string) error {
	owner, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if owner != userID {
		return ErrSessionNotFound
	}
	return nil
}

// Revoke deletes a session. Revoking an unknown session is not an error.
func (s *RedisSessionStore) Revoke(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
