package models

import "time"

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

type SubscriptionPlan struct {
	ID             int64  `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	DurationDays   int    `json:"duration_days"`
	IsActive       bool   `json:"is_active"`
	Description    string `json:"description"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

func (p *SubscriptionPlan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

type Payment struct {
	ID               int64         `json:"id"`
	OrderID          string        `json:"order_id"`
	ProfileID        int64         `json:"profile_id"`
	PlanID           int64         `json:"plan_id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Provider         string        `json:"provider"`
	Signature        string        `json:"signature"`
	GatewayPaymentID string        `json:"gateway_payment_id"`
	Status           PaymentStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	FinalizedAt      *time.Time    `json:"finalized_at,omitempty"`
}

// Finalization is the outcome of applying a verified webhook to a payment.
type Finalization struct {
	Payment      Payment    `json:"payment"`
	TelegramID   int64      `json:"telegram_id"`
	PlanCode     string     `json:"plan_code"`
	AlreadyFinal bool       `json:"already_final"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// ExtendExpiry stacks a renewal on top of an unexpired subscription.
func ExtendExpiry(current *time.Time, now time.Time, d time.Duration) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.Add(d)
}
