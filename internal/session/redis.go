package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mac-bot/internal/models"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 7 * 24 * time.Hour

// RedisStore keeps one JSON document per user under mac:session:{user_id}.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) key(userID int64) string {
	return fmt.Sprintf("mac:session:%d", userID)
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (*models.Session, error) {
	val, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %d: %w", userID, err)
	}

	var s models.Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %d: %w", userID, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *models.Session) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session %d: %w", s.UserID, err)
	}
	if err := r.client.Set(ctx, r.key(s.UserID), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %d: %w", s.UserID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %d: %w", userID, err)
	}
	return nil
}
