package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mac-bot/internal/models"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"
)

const ProviderStripe = "stripe"

type StripeConfig struct {
	SecretKey  string
	WebhookKey string
	Currency   string
	SuccessURL string
	CancelURL  string
}

// StripeGateway sells plans through Stripe Checkout. The order id travels
// as client_reference_id and comes back in the checkout.session events.
type StripeGateway struct {
	cfg StripeConfig
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	// Set the secret key for backend operations
	stripe.Key = cfg.SecretKey
	if cfg.Currency == "" {
		cfg.Currency = "rub"
	}
	return &StripeGateway{cfg: cfg}
}

func (s *StripeGateway) Name() string { return ProviderStripe }

func (s *StripeGateway) CheckoutLink(ctx context.Context, order Order) (*Link, error) {
	currency := order.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(order.Plan.Name),
					},
					// Stripe amounts are in minor units.
					UnitAmount: stripe.Int64(order.Plan.Price * 100),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(order.ID),
	}
	params.Context = ctx
	params.AddMetadata("order_id", order.ID)

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &Link{URL: sess.URL, GatewayRef: sess.ID}, nil
}

func (s *StripeGateway) VerifyWebhook(payload []byte, signature string) (*VerifiedEvent, error) {
	if s.cfg.WebhookKey == "" {
		return nil, fmt.Errorf("webhook secret is not configured")
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrMalformedPayload)
	}

	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookKey)
	if err != nil {
		var syntaxErr *json.SyntaxError
		if errors.Is(err, webhook.ErrInvalidHeader) || errors.Is(err, webhook.ErrNotSigned) || errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	verified := &VerifiedEvent{
		Provider:      ProviderStripe,
		GatewayStatus: event.Type,
		Raw:           payload,
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		verified.Status = models.PaymentPaid
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		verified.Status = models.PaymentFailed
	default:
		verified.Ignored = true
		return verified, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if cs.ClientReferenceID == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no client_reference_id", ErrMalformedPayload, cs.ID)
	}

	verified.OrderID = cs.ClientReferenceID
	verified.GatewayPaymentID = cs.ID

	// Delayed methods complete the session unpaid; the outcome arrives as
	// async_payment_succeeded or async_payment_failed.
	if event.Type == "checkout.session.completed" && cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		verified.Status = ""
		verified.Ignored = true
	}
	return verified, nil
}
