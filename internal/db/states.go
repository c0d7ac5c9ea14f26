package db

import (
	"context"
	"fmt"

	"mac-bot/internal/models"

	"github.com/jackc/pgx/v4"
)

// RecordState appends one audit event. The state type is created on first
// use and never updated afterwards. Both statements share one transaction,
// so a failed append leaves nothing behind.
func (db *PostgresDB) RecordState(ctx context.Context, profileID int64, stateName, description, sessionID string) error {
	var stateTypeID int64
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		stateTypeID, err = db.stateTypeID(ctx, tx, stateName, description)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
            INSERT INTO user_states (profile_id, state_type_id, session_id)
            VALUES ($1, $2, $3)
        `, profileID, stateTypeID, sessionID)
		if err != nil {
			return fmt.Errorf("failed to append state %s for profile %d: %w", stateName, profileID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Cache only committed ids; a rolled back insert must not leak.
	db.stateIDs.Store(stateName, stateTypeID)
	return nil
}

func (db *PostgresDB) stateTypeID(ctx context.Context, tx pgx.Tx, name, description string) (int64, error) {
	if id, ok := db.stateIDs.Load(name); ok {
		return id.(int64), nil
	}

	_, err := tx.Exec(ctx, `
        INSERT INTO state_types (state_name, description)
        VALUES ($1, $2)
        ON CONFLICT (state_name) DO NOTHING
    `, name, description)
	if err != nil {
		return 0, fmt.Errorf("failed to create state type %s: %w", name, err)
	}

	var id int64
	if err := tx.QueryRow(ctx, `SELECT id FROM state_types WHERE state_name = $1`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to load state type %s: %w", name, err)
	}
	return id, nil
}

// ListStates returns a profile's audit trail in insertion order. An empty
// sessionID returns every session.
func (db *PostgresDB) ListStates(ctx context.Context, telegramID int64, sessionID string) ([]models.UserStateEvent, error) {
	query := `
        SELECT us.id, us.profile_id, st.state_name, us.session_id, us.created_at
        FROM user_states us
        JOIN state_types st ON st.id = us.state_type_id
        JOIN telegram_profiles tp ON tp.id = us.profile_id
        WHERE tp.telegram_id = $1 AND ($2::text = '' OR us.session_id = $2)
        ORDER BY us.id
    `

	rows, err := db.pool.Query(ctx, query, telegramID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list states for %d: %w", telegramID, err)
	}
	defer rows.Close()

	var events []models.UserStateEvent
	for rows.Next() {
		var e models.UserStateEvent
		if err := rows.Scan(&e.ID, &e.ProfileID, &e.StateName, &e.SessionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
