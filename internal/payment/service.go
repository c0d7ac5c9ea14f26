package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mac-bot/internal/models"
	"mac-bot/pkg/logger"

	"github.com/google/uuid"
)

type Store interface {
	GetPlan(ctx context.Context, code string) (*models.SubscriptionPlan, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	FinalizePayment(ctx context.Context, orderID string, status models.PaymentStatus, gatewayPaymentID string, webhookData []byte, now time.Time) (*models.Finalization, error)
}

// Notifier is told about every payment that reached a terminal status for
// the first time.
type Notifier interface {
	PaymentFinalized(ctx context.Context, f *models.Finalization)
}

type Checkout struct {
	OrderID string
	URL     string
	Plan    models.SubscriptionPlan
}

type WebhookResult struct {
	Event        *VerifiedEvent
	Finalization *models.Finalization
}

// Service issues checkout links and applies webhook outcomes.
type Service struct {
	store    Store
	primary  Gateway
	gateways map[string]Gateway
	currency string
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time
}

// NewService uses primary for new checkouts and accepts webhooks from
// primary and every extra gateway.
func NewService(store Store, currency string, log *logger.Logger, primary Gateway, extra ...Gateway) *Service {
	gateways := map[string]Gateway{primary.Name(): primary}
	for _, g := range extra {
		gateways[g.Name()] = g
	}
	return &Service{
		store:    store,
		primary:  primary,
		gateways: gateways,
		currency: currency,
		logger:   log,
		now:      time.Now,
	}
}

func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Provider is the name of the gateway used for new checkouts.
func (s *Service) Provider() string {
	return s.primary.Name()
}

// NewOrderID returns ORDER_<telegram id>_<plan>_<8 hex chars>.
func NewOrderID(telegramID int64, planCode string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ORDER_%d_%s_%s", telegramID, planCode, suffix)
}

// Checkout creates a pending payment for the plan and returns where to pay.
func (s *Service) Checkout(ctx context.Context, p *models.UserProfile, planCode string) (*Checkout, error) {
	plan, err := s.store.GetPlan(ctx, planCode)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive || plan.Price <= 0 || plan.Code == models.PlanFree {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotPurchasable, plan.Code)
	}

	order := Order{
		ID:         NewOrderID(p.TelegramID, plan.Code),
		TelegramID: p.TelegramID,
		Username:   p.Username,
		Plan:       *plan,
		Currency:   s.currency,
	}

	link, err := s.primary.CheckoutLink(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout link: %w", err)
	}

	payment := &models.Payment{
		OrderID:          order.ID,
		ProfileID:        p.ID,
		PlanID:           plan.ID,
		Amount:           plan.Price,
		Currency:         s.currency,
		Provider:         s.primary.Name(),
		Signature:        link.Signature,
		GatewayPaymentID: link.GatewayRef,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	s.logger.Infow("Checkout created",
		"user_id", p.TelegramID,
		"order_id", order.ID,
		"plan", plan.Code,
		"amount", plan.Price,
		"provider", s.primary.Name())

	return &Checkout{OrderID: order.ID, URL: link.URL, Plan: *plan}, nil
}

// HandleWebhook verifies a notification and finalizes its payment once.
// Repeated deliveries return success with Finalization.AlreadyFinal set.
func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookResult, error) {
	gateway, ok := s.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	event, err := gateway.VerifyWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, ErrSignature) {
			s.logger.Warnw("Webhook signature mismatch",
				"provider", provider,
				"alert", true,
				"payload_size", len(payload))
		} else {
			s.logger.Warnw("Rejected malformed webhook", "provider", provider, "error", err)
		}
		return nil, err
	}

	result := &WebhookResult{Event: event}
	if event.Ignored {
		s.logger.Infow("Ignoring webhook status",
			"provider", provider,
			"order_id", event.OrderID,
			"gateway_status", event.GatewayStatus)
		return result, nil
	}

	fin, err := s.store.FinalizePayment(ctx, event.OrderID, event.Status, event.GatewayPaymentID, event.Raw, s.now())
	if err != nil {
		return nil, err
	}
	result.Finalization = fin

	if fin.AlreadyFinal {
		s.logger.Infow("Payment already finalized",
			"order_id", event.OrderID,
			"status", fin.Payment.Status)
		return result, nil
	}

	s.logger.Infow("Payment finalized",
		"order_id", event.OrderID,
		"user_id", fin.TelegramID,
		"status", fin.Payment.Status,
		"plan", fin.PlanCode,
		"expires_at", fin.ExpiresAt)

	if s.notifier != nil {
		s.notifier.PaymentFinalized(ctx, fin)
	}
	return result, nil
}
