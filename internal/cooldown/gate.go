package cooldown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mac-bot/internal/models"
)

const DefaultCooldown = 24 * time.Hour

// Store performs the conditional update that stamps last_request_time. It
// must be a single atomic read-modify-write: the row is updated only when the
// user is staff or the previous start is at or before notBefore.
type Store interface {
	ClaimSession(ctx context.Context, telegramID int64, now, notBefore time.Time) (bool, *time.Time, error)
	// ReleaseSession restores previous only while the row still holds
	// claimedAt.
	ReleaseSession(ctx context.Context, telegramID int64, claimedAt time.Time, previous *time.Time) error
}

type Decision struct {
	Granted   bool
	Remaining time.Duration

	// Set on a granted decision so the claim can be released.
	ClaimedAt time.Time
	Previous  *time.Time
}

type Gate struct {
	store    Store
	cooldown time.Duration
	now      func() time.Time
}

func NewGate(store Store, cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{
		store:    store,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// CanStartSession is the pure form of the gate.
func CanStartSession(p *models.UserProfile, now time.Time, cooldown time.Duration) bool {
	if p.IsStaff || p.LastRequestTime == nil {
		return true
	}
	return now.Sub(*p.LastRequestTime) >= cooldown
}

// Remaining is how long a user must still wait; zero when nothing is left.
func Remaining(last *time.Time, now time.Time, cooldown time.Duration) time.Duration {
	if last == nil {
		return 0
	}
	left := cooldown - now.Sub(*last)
	if left < 0 {
		return 0
	}
	return left
}

// TryStart claims a new session for the profile. On success the profile's
// LastRequestTime is updated in place to mirror the stored row.
func (g *Gate) TryStart(ctx context.Context, p *models.UserProfile) (Decision, error) {
	now := g.now()
	previous := p.LastRequestTime

	granted, last, err := g.store.ClaimSession(ctx, p.TelegramID, now, now.Add(-g.cooldown))
	if err != nil {
		return Decision{}, fmt.Errorf("cooldown check failed: %w", err)
	}
	if granted {
		p.LastRequestTime = &now
		return Decision{Granted: true, ClaimedAt: now, Previous: previous}, nil
	}

	p.LastRequestTime = last
	return Decision{Remaining: Remaining(last, now, g.cooldown)}, nil
}

// Release undoes a granted claim when the session could not be opened, so the
// user keeps their cooldown window.
func (g *Gate) Release(ctx context.Context, p *models.UserProfile, d Decision) error {
	if !d.Granted {
		return nil
	}
	if err := g.store.ReleaseSession(ctx, p.TelegramID, d.ClaimedAt, d.Previous); err != nil {
		return fmt.Errorf("failed to release cooldown claim: %w", err)
	}
	p.LastRequestTime = d.Previous
	return nil
}

// FormatRemaining renders a wait in Russian, rounding up to whole minutes,
// e.g. "5 часов 1 минута".
func FormatRemaining(d time.Duration) string {
	total := int((d + time.Minute - 1) / time.Minute)
	if total <= 0 {
		return "меньше минуты"
	}

	hours, minutes := total/60, total%60
	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", hours, plural(hours, "час", "часа", "часов")))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", minutes, plural(minutes, "минута", "минуты", "минут")))
	}
	return strings.Join(parts, " ")
}

func plural(n int, one, few, many string) string {
	n %= 100
	if n >= 11 && n <= 14 {
		return many
	}
	switch n % 10 {
	case 1:
		return one
	case 2, 3, 4:
		return few
	default:
		return many
	}
}
