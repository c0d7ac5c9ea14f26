package db

import (
	"context"
	"fmt"

	"mac-bot/internal/models"

	"github.com/jackc/pgx/v4"
)

// DefaultPlans are the tariffs seeded on startup and by the seed-plans
// command.
var DefaultPlans = []models.SubscriptionPlan{
	{
		Code:         models.PlanFree,
		Name:         "Бесплатный",
		Price:        0,
		DurationDays: 999999,
		IsActive:     true,
		Description:  "Одна сессия в сутки",
	},
	{
		Code:         "monthly",
		Name:         "Месячная премиум",
		Price:        300,
		DurationDays: 30,
		IsActive:     true,
		Description:  "Премиум подписка на месяц",
	},
	{
		Code:         "yearly",
		Name:         "Годовая премиум",
		Price:        3000,
		DurationDays: 365,
		IsActive:     true,
		Description:  "Премиум подписка на год",
	},
}

const planColumns = `id, code, name, price, duration_days, is_active, description, subscription_id`

func scanPlan(row pgx.Row) (*models.SubscriptionPlan, error) {
	var p models.SubscriptionPlan
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.DurationDays,
		&p.IsActive, &p.Description, &p.SubscriptionID); err != nil {
		return nil, err
	}
	return &p, nil
}

// SeedPlans inserts the plans that do not exist yet and reports how many
// were created. Existing plans are left untouched.
func (db *PostgresDB) SeedPlans(ctx context.Context, plans []models.SubscriptionPlan) (int, error) {
	created := 0
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		for _, p := range plans {
			tag, err := tx.Exec(ctx, `
                INSERT INTO subscription_plans (code, name, price, duration_days, is_active, description, subscription_id)
                VALUES ($1, $2, $3, $4, $5, $6, $7)
                ON CONFLICT (code) DO NOTHING
            `, p.Code, p.Name, p.Price, p.DurationDays, p.IsActive, p.Description, p.SubscriptionID)
			if err != nil {
				return fmt.Errorf("failed to seed plan %s: %w", p.Code, err)
			}
			created += int(tag.RowsAffected())
		}
		return nil
	})
	return created, err
}

func (db *PostgresDB) GetPlan(ctx context.Context, code string) (*models.SubscriptionPlan, error) {
	plan, err := scanPlan(db.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM subscription_plans WHERE code = $1`, code))
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", code, notFound(err))
	}
	return plan, nil
}

// ListPlans returns the active plans ordered by price.
func (db *PostgresDB) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+planColumns+` FROM subscription_plans WHERE is_active ORDER BY price, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}
