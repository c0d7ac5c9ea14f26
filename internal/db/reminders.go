package db

import (
	"context"
	"fmt"
	"time"

	"mac-bot/internal/models"
)

// ScheduleReminder stores a reminder once per user and session.
func (db *PostgresDB) ScheduleReminder(ctx context.Context, telegramID int64, sessionID string, fireAt time.Time) error {
	_, err := db.pool.Exec(ctx, `
        INSERT INTO reminders (telegram_id, session_id, fire_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (telegram_id, session_id) DO NOTHING
    `, telegramID, sessionID, fireAt)
	if err != nil {
		return fmt.Errorf("failed to schedule reminder for %d: %w", telegramID, err)
	}
	return nil
}

// ClaimDueReminders marks up to limit due reminders as fired and returns
// them. SKIP LOCKED lets several pollers run without double delivery.
func (db *PostgresDB) ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	rows, err := db.pool.Query(ctx, `
        UPDATE reminders
        SET fired_at = $1
        WHERE id IN (
            SELECT id FROM reminders
            WHERE fired_at IS NULL AND fire_at <= $1
            ORDER BY fire_at
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, telegram_id, session_id, fire_at, fired_at
    `, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim reminders: %w", err)
	}
	defer rows.Close()

	var due []models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.ID, &r.TelegramID, &r.SessionID, &r.FireAt, &r.FiredAt); err != nil {
			return nil, err
		}
		due = append(due, r)
	}
	return due, rows.Err()
}

// MarkReminderFailed records the delivery error. The reminder is not retried.
func (db *PostgresDB) MarkReminderFailed(ctx context.Context, id int64, reason string) error {
	_, err := db.pool.Exec(ctx, `UPDATE reminders SET error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark reminder %d: %w", id, err)
	}
	return nil
}
