package db

import (
	"context"
	"fmt"
	"time"

	"mac-bot/internal/models"

	"github.com/jackc/pgx/v4"
)

const paymentColumns = `p.id, p.order_id, p.profile_id, p.plan_id, p.amount, p.currency, p.provider,
        p.signature, p.gateway_payment_id, p.status, p.created_at, p.paid_at, p.finalized_at`

func scanPayment(row pgx.Row, extra ...any) (*models.Payment, error) {
	var p models.Payment
	dest := []any{
		&p.ID, &p.OrderID, &p.ProfileID, &p.PlanID, &p.Amount, &p.Currency, &p.Provider,
		&p.Signature, &p.GatewayPaymentID, &p.Status, &p.CreatedAt, &p.PaidAt, &p.FinalizedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment stores a pending payment and fills in its id and created_at.
func (db *PostgresDB) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
        INSERT INTO payments (order_id, profile_id, plan_id, amount, currency, provider, signature, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at
    `

	err := db.pool.QueryRow(ctx, query,
		p.OrderID, p.ProfileID, p.PlanID, p.Amount, p.Currency, p.Provider, p.Signature, string(models.PaymentPending),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment %s: %w", p.OrderID, err)
	}
	p.Status = models.PaymentPending
	return nil
}

func (db *PostgresDB) GetPayment(ctx context.Context, orderID string) (*models.Payment, error) {
	payment, err := scanPayment(db.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.order_id = $1`, orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to get payment %s: %w", orderID, notFound(err))
	}
	return payment, nil
}

// FinalizePayment applies a terminal status exactly once. The payment row is
// locked for the whole transaction and the update is conditional on the
// pending status, so concurrent deliveries of the same webhook serialize and
// all but the first observe AlreadyFinal. A paid status extends the
// subscription from max(now, current expiry).
func (db *PostgresDB) FinalizePayment(ctx context.Context, orderID string, status models.PaymentStatus, gatewayPaymentID string, webhookData []byte, now time.Time) (*models.Finalization, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("status %q is not terminal", status)
	}

	var result models.Finalization
	err := db.withTx(ctx, func(tx pgx.Tx) error {
		var durationDays int
		payment, err := scanPayment(tx.QueryRow(ctx, `
            SELECT `+paymentColumns+`, tp.telegram_id, sp.code, sp.duration_days
            FROM payments p
            JOIN telegram_profiles tp ON tp.id = p.profile_id
            JOIN subscription_plans sp ON sp.id = p.plan_id
            WHERE p.order_id = $1
            FOR UPDATE OF p
        `, orderID), &result.TelegramID, &result.PlanCode, &durationDays)
		if err != nil {
			return fmt.Errorf("failed to lock payment %s: %w", orderID, notFound(err))
		}

		if payment.Status.IsTerminal() {
			result.Payment = *payment
			result.AlreadyFinal = true
			return nil
		}

		var data any
		if len(webhookData) > 0 {
			data = string(webhookData)
		}

		tag, err := tx.Exec(ctx, `
            UPDATE payments
            SET status = $2::text,
                gateway_payment_id = $3,
                webhook_data = $4,
                finalized_at = $5,
                paid_at = CASE WHEN $2::text = 'paid' THEN $5 ELSE NULL END
            WHERE id = $1 AND status = 'pending'
        `, payment.ID, string(status), gatewayPaymentID, data, now)
		if err != nil {
			return fmt.Errorf("failed to finalize payment %s: %w", orderID, err)
		}
		if tag.RowsAffected() == 0 {
			result.Payment = *payment
			result.AlreadyFinal = true
			return nil
		}

		payment.Status = status
		payment.GatewayPaymentID = gatewayPaymentID
		payment.FinalizedAt = &now
		if status == models.PaymentPaid {
			payment.PaidAt = &now
		}
		result.Payment = *payment

		if status != models.PaymentPaid {
			return nil
		}

		var current *time.Time
		if err := tx.QueryRow(ctx, `
            SELECT subscription_expires_at FROM telegram_profiles WHERE id = $1 FOR UPDATE
        `, payment.ProfileID).Scan(&current); err != nil {
			return fmt.Errorf("failed to lock profile %d: %w", payment.ProfileID, err)
		}

		plan := models.SubscriptionPlan{DurationDays: durationDays}
		expires := models.ExtendExpiry(current, now, plan.Duration())

		if _, err := tx.Exec(ctx, `
            UPDATE telegram_profiles
            SET subscription_type = $2, subscription_expires_at = $3, updated_at = NOW()
            WHERE id = $1
        `, payment.ProfileID, result.PlanCode, expires); err != nil {
			return fmt.Errorf("failed to extend subscription for profile %d: %w", payment.ProfileID, err)
		}
		result.ExpiresAt = &expires
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
