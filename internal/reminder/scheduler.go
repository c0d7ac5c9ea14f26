// Package reminder delivers the "come back tomorrow" message after a
// finished session. Reminders live in the database, so a restart does not
// lose them; each one is attempted once.
package reminder

import (
	"context"
	"time"

	"mac-bot/internal/models"
	"mac-bot/pkg/logger"
)

const batchSize = 100

type Store interface {
	ScheduleReminder(ctx context.Context, telegramID int64, sessionID string, fireAt time.Time) error
	ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	MarkReminderFailed(ctx context.Context, id int64, reason string) error
}

type Messenger interface {
	Send(ctx context.Context, chatID int64, msg models.OutgoingMessage) error
}

type Scheduler struct {
	store     Store
	messenger Messenger
	text      string
	delay     time.Duration
	interval  time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewScheduler(store Store, messenger Messenger, text string, delay, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:     store,
		messenger: messenger,
		text:      text,
		delay:     delay,
		interval:  interval,
		logger:    log,
		now:       time.Now,
	}
}

// Schedule stores a reminder due delay from now.
func (s *Scheduler) Schedule(ctx context.Context, telegramID int64, sessionID string) error {
	fireAt := s.now().Add(s.delay)
	if err := s.store.ScheduleReminder(ctx, telegramID, sessionID, fireAt); err != nil {
		return err
	}
	s.logger.Infow("Reminder scheduled", "user_id", telegramID, "session_id", sessionID, "fire_at", fireAt)
	return nil
}

// Tick delivers every due reminder and returns how many were sent.
// Reminders are claimed before sending; a failed send is recorded and
// dropped.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	sent := 0
	for {
		due, err := s.store.ClaimDueReminders(ctx, s.now(), batchSize)
		if err != nil {
			return sent, err
		}

		for _, r := range due {
			msg := models.OutgoingMessage{Text: s.text, RemoveKeyboard: true}
			if err := s.messenger.Send(ctx, r.TelegramID, msg); err != nil {
				s.logger.Errorw("Failed to send reminder", "user_id", r.TelegramID, "reminder_id", r.ID, "error", err)
				if markErr := s.store.MarkReminderFailed(ctx, r.ID, err.Error()); markErr != nil {
					s.logger.Errorw("Failed to record reminder error", "reminder_id", r.ID, "error", markErr)
				}
				continue
			}
			sent++
			s.logger.Infow("Reminder sent", "user_id", r.TelegramID, "session_id", r.SessionID)
		}

		if len(due) < batchSize {
			return sent, nil
		}
	}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Errorw("Reminder poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
