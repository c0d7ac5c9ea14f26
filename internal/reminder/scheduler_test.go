package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"mac-bot/internal/models"
	"mac-bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	reminders []models.Reminder
	failed    map[int64]string
}

func (m *memStore) ScheduleReminder(_ context.Context, telegramID int64, sessionID string, fireAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reminders {
		if r.TelegramID == telegramID && r.SessionID == sessionID {
			return nil
		}
	}
	m.reminders = append(m.reminders, models.Reminder{
		ID: int64(len(m.reminders) + 1), TelegramID: telegramID, SessionID: sessionID, FireAt: fireAt,
	})
	return nil
}

func (m *memStore) ClaimDueReminders(_ context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.Reminder
	for i := range m.reminders {
		r := &m.reminders[i]
		if r.FiredAt == nil && !r.FireAt.After(now) && len(due) < limit {
			fired := now
			r.FiredAt = &fired
			due = append(due, *r)
		}
	}
	return due, nil
}

func (m *memStore) MarkReminderFailed(_ context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed == nil {
		m.failed = map[int64]string{}
	}
	m.failed[id] = reason
	return nil
}

type recordingMessenger struct {
	mu     sync.Mutex
	chats  []int64
	failTo int64
}

func (r *recordingMessenger) Send(_ context.Context, chatID int64, _ models.OutgoingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chatID == r.failTo {
		return errors.New("forbidden: bot was blocked by the user")
	}
	r.chats = append(r.chats, chatID)
	return nil
}

func TestScheduleAndTick(t *testing.T) {
	store := &memStore{}
	messenger := &recordingMessenger{failTo: 3}
	now := time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC)

	s := NewScheduler(store, messenger, "Нажми /start", 24*time.Hour, time.Minute, logger.NewNop())
	s.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, s.Schedule(ctx, 1, "a"))
	require.NoError(t, s.Schedule(ctx, 1, "a"))
	require.NoError(t, s.Schedule(ctx, 2, "b"))
	require.NoError(t, s.Schedule(ctx, 3, "c"))
	require.Len(t, store.reminders, 3, "one reminder per user and session")

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is due yet")

	now = now.Add(24 * time.Hour)
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sort.Slice(messenger.chats, func(i, j int) bool { return messenger.chats[i] < messenger.chats[j] })
	assert.Equal(t, []int64{1, 2}, messenger.chats)
	assert.Contains(t, store.failed[3], "blocked")

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "reminders are not retried")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewScheduler(&memStore{}, &recordingMessenger{}, "x", time.Hour, 10*time.Millisecond, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
