package payment

import (
	"context"
	"errors"

	"mac-bot/internal/models"
)

var (
	// ErrSignature means the webhook signature did not verify. Treat it as a
	// possible forgery.
	ErrSignature = errors.New("payment: webhook signature mismatch")
	// ErrMalformedPayload means the webhook could not be parsed or lacks a
	// required field.
	ErrMalformedPayload = errors.New("payment: malformed webhook payload")
	// ErrPlanNotPurchasable is returned for free or inactive plans.
	ErrPlanNotPurchasable = errors.New("payment: plan cannot be purchased")
	ErrUnknownProvider    = errors.New("payment: unknown provider")
)

type Order struct {
	ID         string
	TelegramID int64
	Username   string
	Plan       models.SubscriptionPlan
	Currency   string
}

type Link struct {
	URL       string
	Signature string
	// GatewayRef is the gateway's own id for the checkout, when it has one.
	GatewayRef string
}

// VerifiedEvent is a webhook whose signature checked out. Ignored events
// carry a status the bot does not act on and are acknowledged as is.
type VerifiedEvent struct {
	Provider         string
	OrderID          string
	Status           models.PaymentStatus
	GatewayStatus    string
	GatewayPaymentID string
	Ignored          bool
	Raw              []byte
}

// Gateway is one payment provider.
type Gateway interface {
	Name() string
	CheckoutLink(ctx context.Context, order Order) (*Link, error)
	VerifyWebhook(payload []byte, signature string) (*VerifiedEvent, error)
}
