package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const PlanFree = "free"

type UserProfile struct {
	ID                    int64      `json:"id"`
	TelegramID            int64      `json:"telegram_id"`
	Username              string     `json:"username"`
	FullName              string     `json:"full_name"`
	LanguageCode          string     `json:"language_code"`
	IsStaff               bool       `json:"is_staff"`
	IsBlocked             bool       `json:"is_blocked"`
	SubscriptionType      string     `json:"subscription_type"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	LastRequestTime       *time.Time `json:"last_request_time,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsSubscribed reports whether a paid subscription is active at now.
func (p *UserProfile) IsSubscribed(now time.Time) bool {
	return p.SubscriptionExpiresAt != nil && p.SubscriptionExpiresAt.After(now)
}

// DisplayName is used in logs and admin output.
func (p *UserProfile) DisplayName() string {
	if p.Username != "" {
		return "@" + p.Username
	}
	return p.FullName
}

type StateType struct {
	ID          int64     `json:"id"`
	StateName   string    `json:"state_name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type UserStateEvent struct {
	ID        int64     `json:"id"`
	ProfileID int64     `json:"profile_id"`
	StateName string    `json:"state_name"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	TotalUsers          int64 `json:"total_users"`
	RecentUsers         int64 `json:"recent_users"`
	CompletedSessions   int64 `json:"completed_sessions"`
	CompletingUsers     int64 `json:"completing_users"`
	ActiveSubscriptions int64 `json:"active_subscriptions"`
}
