package db

import (
	"context"
	"fmt"
	"time"

	"mac-bot/internal/models"
)

// Stats counts users and completed sessions. A session is completed when
// the audit trail holds finishedState for it.
func (db *PostgresDB) Stats(ctx context.Context, now time.Time, recent time.Duration, finishedState string) (*models.Stats, error) {
	query := `
        WITH finished AS (
            SELECT us.profile_id
            FROM user_states us
            JOIN state_types st ON st.id = us.state_type_id
            WHERE st.state_name = $3
        )
        SELECT
            (SELECT COUNT(*) FROM telegram_profiles),
            (SELECT COUNT(*) FROM telegram_profiles WHERE created_at >= $2),
            (SELECT COUNT(*) FROM finished),
            (SELECT COUNT(DISTINCT profile_id) FROM finished),
            (SELECT COUNT(*) FROM telegram_profiles WHERE subscription_expires_at > $1)
    `

	var s models.Stats
	err := db.pool.QueryRow(ctx, query, now, now.Add(-recent), finishedState).Scan(
		&s.TotalUsers, &s.RecentUsers, &s.CompletedSessions, &s.CompletingUsers, &s.ActiveSubscriptions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to collect statistics: %w", err)
	}
	return &s, nil
}
