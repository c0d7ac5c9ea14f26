package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mac-bot/internal/models"

	"github.com/jackc/pgx/v4"
	_ "modernc.org/sqlite"
)

// LegacySessionID tags audit events imported from the old SQLite bot.
const LegacySessionID = "legacy"

type LegacyUser struct {
	TelegramID int64
	Username   string
	FullName   string
	CreatedAt  time.Time
	LastStart  *time.Time
}

type LegacyEvent struct {
	TelegramID int64
	StateName  string
	CreatedAt  time.Time
}

type LegacyData struct {
	StateTypes []models.StateType
	Users      []LegacyUser
	Events     []LegacyEvent
}

type LegacyReport struct {
	StateTypes int
	Users      int
	Events     int
	Skipped    int
}

// ReadLegacy loads users, state types and user states from the SQLite file
// of the previous bot version.
func ReadLegacy(ctx context.Context, path string) (*LegacyData, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	defer conn.Close()

	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var data LegacyData

	rows, err := conn.QueryContext(ctx, `SELECT state_name, COALESCE(description, ''), created_at FROM state_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read state_types: %w", err)
	}
	for rows.Next() {
		var st models.StateType
		var created sql.NullString
		if err := rows.Scan(&st.StateName, &st.Description, &created); err != nil {
			rows.Close()
			return nil, err
		}
		st.CreatedAt = parseLegacyTime(created).UTC()
		data.StateTypes = append(data.StateTypes, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = conn.QueryContext(ctx, `SELECT user_id, COALESCE(username, ''), COALESCE(full_name, ''), created_at, last_start FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	for rows.Next() {
		var u LegacyUser
		var created, lastStart sql.NullString
		if err := rows.Scan(&u.TelegramID, &u.Username, &u.FullName, &created, &lastStart); err != nil {
			rows.Close()
			return nil, err
		}
		u.CreatedAt = parseLegacyTime(created)
		if lastStart.Valid && lastStart.String != "" {
			t := parseLegacyTime(lastStart)
			u.LastStart = &t
		}
		data.Users = append(data.Users, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = conn.QueryContext(ctx, `
        SELECT us.user_id, st.state_name, us.created_at
        FROM user_states us
        JOIN state_types st ON us.state_type_id = st.id
        ORDER BY us.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read user_states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e LegacyEvent
		var created sql.NullString
		if err := rows.Scan(&e.TelegramID, &e.StateName, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseLegacyTime(created)
		data.Events = append(data.Events, e)
	}
	return &data, rows.Err()
}

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// parseLegacyTime reads the timestamp formats SQLite and Python emit. The
// old bot stored naive UTC values; unparseable input maps to the zero time.
func parseLegacyTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	v := strings.TrimSpace(s.String)
	for _, layout := range legacyLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ImportLegacy copies legacy data in one transaction. Existing profiles and
// state types are kept as they are. An event is identified by user, state
// and timestamp, so running the import again adds nothing; events that are
// already present, or whose user, state or timestamp is unknown, are counted
// as skipped.
func (db *PostgresDB) ImportLegacy(ctx context.Context, data *LegacyData) (*LegacyReport, error) {
	var report LegacyReport
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		for _, st := range data.StateTypes {
			tag, err := tx.Exec(ctx, `
                INSERT INTO state_types (state_name, description, created_at)
                VALUES ($1, $2, COALESCE($3, NOW()))
                ON CONFLICT (state_name) DO NOTHING
            `, st.StateName, st.Description, nullTime(st.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to import state type %s: %w", st.StateName, err)
			}
			report.StateTypes += int(tag.RowsAffected())
		}

		for _, u := range data.Users {
			username := u.Username
			if username == "" {
				username = fmt.Sprintf("user_%d", u.TelegramID)
			}
			tag, err := tx.Exec(ctx, `
                INSERT INTO telegram_profiles (telegram_id, username, full_name, created_at, last_request_time)
                VALUES ($1, $2, $3, COALESCE($4, NOW()), $5)
                ON CONFLICT (telegram_id) DO NOTHING
            `, u.TelegramID, username, u.FullName, nullTime(u.CreatedAt), u.LastStart)
			if err != nil {
				return fmt.Errorf("failed to import user %d: %w", u.TelegramID, err)
			}
			report.Users += int(tag.RowsAffected())
		}

		joined := make(map[int64]time.Time, len(data.Users))
		for _, u := range data.Users {
			joined[u.TelegramID] = u.CreatedAt
		}

		for _, e := range data.Events {
			at := legacyEventTime(e, joined)
			if at.IsZero() {
				report.Skipped++
				continue
			}

			tag, err := tx.Exec(ctx, `
                INSERT INTO user_states (profile_id, state_type_id, session_id, created_at)
                SELECT tp.id, st.id, $3, $4
                FROM telegram_profiles tp, state_types st
                WHERE tp.telegram_id = $1 AND st.state_name = $2
                  AND NOT EXISTS (
                      SELECT 1 FROM user_states us
                      WHERE us.profile_id = tp.id
                        AND us.state_type_id = st.id
                        AND us.session_id = $3
                        AND us.created_at = $4
                  )
            `, e.TelegramID, e.StateName, LegacySessionID, at)
			if err != nil {
				return fmt.Errorf("failed to import state for %d: %w", e.TelegramID, err)
			}
			if tag.RowsAffected() == 0 {
				report.Skipped++
				continue
			}
			report.Events++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// legacyEventTime falls back to the user's registration time when the event
// has no timestamp of its own. Zero means the event cannot be placed.
func legacyEventTime(e LegacyEvent, joined map[int64]time.Time) time.Time {
	if !e.CreatedAt.IsZero() {
		return e.CreatedAt
	}
	return joined[e.TelegramID]
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
