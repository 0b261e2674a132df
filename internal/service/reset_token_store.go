package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrResetTokenNotFound is returned when a token is unknown or expired.
var ErrResetTokenNotFound = errors.New("reset token not found")

const resetTokenPrefix = "password_reset:"

// ResetTokenStore keeps password reset tokens in Redis with a TTL so
// issued tokens expire without any sweeper process.
type ResetTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResetTokenStore constructs the store.
func NewResetTokenStore(client *redis.Client, ttl time.Duration) *ResetTokenStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ResetTokenStore{client: client, ttl: ttl}
}

// Issue creates a fresh token mapped to the user id.
func (s *ResetTokenStore) Issue(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	if err := s.client.Set(ctx, resetTokenPrefix+token, userID, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Consume resolves and deletes a token, returning the user id it was
// issued for. A token can only be consumed once.
func (s *ResetTokenStore) Consume(ctx context.Context, token string) (string, error) {
	key := resetTokenPrefix + token
	userID, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrResetTokenNotFound
		}
		return "", err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return "", err
	}
	return userID, nil
}
