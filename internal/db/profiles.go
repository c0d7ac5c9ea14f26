package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mac-bot/internal/models"

	"github.com/jackc/pgx/v4"
)

const profileColumns = `id, telegram_id, username, full_name, language_code, is_staff, is_blocked,
        subscription_type, subscription_expires_at, last_request_time, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.UserProfile, error) {
	var p models.UserProfile
	err := row.Scan(
		&p.ID, &p.TelegramID, &p.Username, &p.FullName, &p.LanguageCode,
		&p.IsStaff, &p.IsBlocked, &p.SubscriptionType, &p.SubscriptionExpiresAt,
		&p.LastRequestTime, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile creates the profile on first contact and refreshes the
// display fields afterwards. Staff status is sticky: once set it is never
// cleared by an upsert.
func (db *PostgresDB) EnsureProfile(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error) {
	query := `
        INSERT INTO telegram_profiles (telegram_id, username, full_name, language_code, is_staff)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (telegram_id) DO UPDATE
        SET username = EXCLUDED.username,
            full_name = EXCLUDED.full_name,
            language_code = EXCLUDED.language_code,
            is_staff = telegram_profiles.is_staff OR EXCLUDED.is_staff,
            is_blocked = FALSE,
            updated_at = NOW()
        RETURNING ` + profileColumns

	profile, err := scanProfile(db.pool.QueryRow(ctx, query,
		p.TelegramID, p.Username, p.FullName, p.LanguageCode, p.IsStaff,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile %d: %w", p.TelegramID, err)
	}
	return profile, nil
}

func (db *PostgresDB) GetProfile(ctx context.Context, telegramID int64) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM telegram_profiles WHERE telegram_id = $1`

	profile, err := scanProfile(db.pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %d: %w", telegramID, notFound(err))
	}
	return profile, nil
}

// ClaimSession is the atomic check-then-set of the cooldown: the row is
// stamped with now only when the user is staff or their previous start is
// at or before notBefore. When the claim is refused the stored
// last_request_time is returned so the caller can report the wait.
func (db *PostgresDB) ClaimSession(ctx context.Context, telegramID int64, now, notBefore time.Time) (bool, *time.Time, error) {
	claim := `
        UPDATE telegram_profiles
        SET last_request_time = $2, updated_at = NOW()
        WHERE telegram_id = $1
          AND (is_staff OR last_request_time IS NULL OR last_request_time <= $3)
        RETURNING id
    `

	var id int64
	err := db.pool.QueryRow(ctx, claim, telegramID, now, notBefore).Scan(&id)
	if err == nil {
		return true, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, fmt.Errorf("failed to claim session for %d: %w", telegramID, err)
	}

	var last *time.Time
	err = db.pool.QueryRow(ctx,
		`SELECT last_request_time FROM telegram_profiles WHERE telegram_id = $1`,
		telegramID,
	).Scan(&last)
	if err != nil {
		return false, nil, fmt.Errorf("failed to read last request time for %d: %w", telegramID, notFound(err))
	}
	return false, last, nil
}

// ReleaseSession puts back the previous last_request_time after a claim
// whose session failed to open. A newer claim is left alone.
func (db *PostgresDB) ReleaseSession(ctx context.Context, telegramID int64, claimedAt time.Time, previous *time.Time) error {
	_, err := db.pool.Exec(ctx, `
        UPDATE telegram_profiles
        SET last_request_time = $3, updated_at = NOW()
        WHERE telegram_id = $1 AND last_request_time = $2
    `, telegramID, claimedAt, previous)
	if err != nil {
		return fmt.Errorf("failed to release session claim for %d: %w", telegramID, err)
	}
	return nil
}

// MarkBlocked flags a profile whose chat rejected delivery. The flag is
// cleared on the next contact from the user.
func (db *PostgresDB) MarkBlocked(ctx context.Context, telegramID int64) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE telegram_profiles SET is_blocked = TRUE, updated_at = NOW() WHERE telegram_id = $1`,
		telegramID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %d blocked: %w", telegramID, err)
	}
	return nil
}

// ListRecipients returns the chats a broadcast should reach.
func (db *PostgresDB) ListRecipients(ctx context.Context) ([]int64, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT telegram_id FROM telegram_profiles WHERE NOT is_blocked ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
