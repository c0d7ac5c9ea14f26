// Package session keeps the in-flight answers of a conversation between
// updates. The memory store loses them on restart; the Redis store keeps
// them until the TTL expires.
package session

import (
	"context"

	"mac-bot/internal/models"
)

type Store interface {
	// Get returns models.ErrNotFound when the user has no active session.
	Get(ctx context.Context, userID int64) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, userID int64) error
}
