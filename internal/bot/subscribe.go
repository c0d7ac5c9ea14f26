package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mac-bot/internal/messages"
	"mac-bot/internal/models"
	"mac-bot/internal/payment"
)

const (
	planCallbackPrefix = "plan:"
	dateLayout         = "02.01.2006"
)

// handleSubscribe shows the current subscription and the plans on sale.
func (t *TelegramBot) handleSubscribe(ctx context.Context, p *models.UserProfile, chatID int64) {
	plans, err := t.store.ListPlans(ctx)
	if err != nil {
		t.logger.Errorw("Failed to list plans", "user_id", p.TelegramID, "error", err)
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Error})
		return
	}

	if p.IsSubscribed(t.now()) {
		t.send(ctx, chatID, models.OutgoingMessage{Text: messages.Format(t.catalog.Texts.SubscriptionActive,
			"plan", planName(plans, p.SubscriptionType),
			"expires", p.SubscriptionExpiresAt.Format(dateLayout),
		)})
	} else {
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.SubscriptionNone})
	}

	var rows [][]models.Button
	for _, plan := range plans {
		if plan.Price <= 0 || plan.Code == models.PlanFree {
			continue
		}
		rows = append(rows, []models.Button{{
			Kind: models.ButtonCallback,
			Text: fmt.Sprintf("%s — %d ₽", plan.Name, plan.Price),
			Data: planCallbackPrefix + plan.Code,
		}})
	}
	if len(rows) == 0 {
		return
	}
	t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.SubscriptionChoose, Rows: rows})
}

// handlePlan creates a checkout for the plan picked from the inline keyboard.
func (t *TelegramBot) handlePlan(ctx context.Context, p *models.UserProfile, chatID int64, code string) {
	checkout, err := t.payments.Checkout(ctx, p, code)
	if err != nil {
		if errors.Is(err, payment.ErrPlanNotPurchasable) || errors.Is(err, models.ErrNotFound) {
			t.logger.Warnw("Checkout rejected", "user_id", p.TelegramID, "plan", code, "error", err)
		} else {
			t.logger.Errorw("Failed to create checkout", "user_id", p.TelegramID, "plan", code, "error", err)
		}
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Error})
		return
	}

	t.send(ctx, chatID, models.OutgoingMessage{
		Text: messages.Format(t.catalog.Texts.SubscriptionPay,
			"plan", checkout.Plan.Name,
			"price", fmt.Sprint(checkout.Plan.Price),
		),
		Rows: [][]models.Button{{{
			Kind: models.ButtonURL,
			Text: t.catalog.Texts.SubscriptionPayButton,
			URL:  checkout.URL,
		}}},
	})
}

// PaymentFinalized tells the buyer how their payment ended.
func (t *TelegramBot) PaymentFinalized(ctx context.Context, f *models.Finalization) {
	var text string
	switch f.Payment.Status {
	case models.PaymentPaid:
		name := f.PlanCode
		if plan, err := t.store.GetPlan(ctx, f.PlanCode); err == nil {
			name = plan.Name
		}
		expires := ""
		if f.ExpiresAt != nil {
			expires = f.ExpiresAt.Format(dateLayout)
		}
		text = messages.Format(t.catalog.Texts.SubscriptionPaid, "plan", name, "expires", expires)
	case models.PaymentFailed:
		text = messages.Format(t.catalog.Texts.SubscriptionFailed, "order", f.Payment.OrderID)
	default:
		return
	}

	if err := t.messenger.Send(ctx, f.TelegramID, models.OutgoingMessage{Text: text}); err != nil {
		t.logger.Errorw("Failed to notify about payment",
			"user_id", f.TelegramID,
			"order_id", f.Payment.OrderID,
			"error", err)
	}
}

func (t *TelegramBot) handleLegal(ctx context.Context, chatID int64, text, button, url string) {
	msg := models.OutgoingMessage{Text: text}
	if url != "" {
		msg.Rows = [][]models.Button{{{Kind: models.ButtonURL, Text: button, URL: url}}}
	}
	t.send(ctx, chatID, msg)
}

func planName(plans []models.SubscriptionPlan, code string) string {
	for _, p := range plans {
		if p.Code == code {
			return p.Name
		}
	}
	return code
}

func parsePlanCallback(data string) (string, bool) {
	code, ok := strings.CutPrefix(data, planCallbackPrefix)
	return code, ok && code != ""
}
