package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mac-bot/internal/conversation"
	"mac-bot/internal/messages"
	"mac-bot/internal/models"
	"mac-bot/pkg/logger"

	"golang.org/x/time/rate"
)

const (
	statsWindow = 7 * 24 * time.Hour
	// auditMaxRows caps /audit output; legacy imports can hold long trails.
	auditMaxRows = 50
)

type BroadcastReport struct {
	Total  int
	Sent   int
	Failed int
}

// Broadcaster sends one message to many chats under a global rate limit.
// A failed recipient is logged and skipped.
type Broadcaster struct {
	messenger conversation.Messenger
	limiter   *rate.Limiter
	logger    *logger.Logger
}

func NewBroadcaster(m conversation.Messenger, perSecond float64, log *logger.Logger) *Broadcaster {
	if perSecond <= 0 {
		perSecond = 25
	}
	return &Broadcaster{
		messenger: m,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:    log,
	}
}

func (b *Broadcaster) Run(ctx context.Context, recipients []int64, msg models.OutgoingMessage) BroadcastReport {
	report := BroadcastReport{Total: len(recipients)}

	for _, chatID := range recipients {
		if err := b.limiter.Wait(ctx); err != nil {
			b.logger.Warnw("Broadcast interrupted",
				"sent", report.Sent,
				"failed", report.Failed,
				"remaining", report.Total-report.Sent-report.Failed,
				"error", err)
			break
		}

		if err := b.messenger.Send(ctx, chatID, msg); err != nil {
			report.Failed++
			b.logger.Errorw("Failed to send broadcast message", "chat_id", chatID, "error", err)
			continue
		}
		report.Sent++
	}

	b.logger.Infow("Broadcast finished", "total", report.Total, "sent", report.Sent, "failed", report.Failed)
	return report
}

func (t *TelegramBot) handleStats(ctx context.Context, p *models.UserProfile, chatID int64) {
	if !p.IsStaff {
		t.logger.Warnw("Rejected admin command", "command", "stats", "user_id", p.TelegramID, "user", p.DisplayName())
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.NotAllowed})
		return
	}

	t.logger.Infow("Statistics requested", "admin", p.DisplayName())

	stats, err := t.store.Stats(ctx, t.now(), statsWindow, conversation.StateFinished)
	if err != nil {
		t.logger.Errorw("Failed to load statistics", "error", err)
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Error})
		return
	}

	t.send(ctx, chatID, models.OutgoingMessage{Text: messages.Format(t.catalog.Texts.Stats,
		"total", fmt.Sprint(stats.TotalUsers),
		"recent", fmt.Sprint(stats.RecentUsers),
		"completed", fmt.Sprint(stats.CompletedSessions),
		"completing", fmt.Sprint(stats.CompletingUsers),
		"subscriptions", fmt.Sprint(stats.ActiveSubscriptions),
	)})
}

// handleBroadcast starts /send_all in the background. Without arguments the
// reminder text is sent.
func (t *TelegramBot) handleBroadcast(ctx context.Context, p *models.UserProfile, chatID int64, text string) {
	if !p.IsStaff {
		t.logger.Warnw("Rejected admin command", "command", "send_all", "user_id", p.TelegramID, "user", p.DisplayName())
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.NotAllowed})
		return
	}
	if text == "" {
		text = t.catalog.Texts.Reminder
	}

	recipients, err := t.store.ListRecipients(ctx)
	if err != nil {
		t.logger.Errorw("Failed to list broadcast recipients", "error", err)
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Error})
		return
	}

	t.logger.Infow("Broadcast started", "admin_id", p.TelegramID, "admin", p.DisplayName(), "recipients", len(recipients))
	t.send(ctx, chatID, models.OutgoingMessage{
		Text: messages.Format(t.catalog.Texts.BroadcastStarted, "total", fmt.Sprint(len(recipients))),
	})

	t.background.Add(1)
	go func() {
		defer t.background.Done()

		report := t.broadcaster.Run(t.baseCtx, recipients, models.OutgoingMessage{Text: text})

		// Report even when shutdown cut the broadcast short.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(t.baseCtx), 10*time.Second)
		defer cancel()
		t.send(rctx, chatID, models.OutgoingMessage{Text: messages.Format(t.catalog.Texts.BroadcastDone,
			"sent", fmt.Sprint(report.Sent),
			"failed", fmt.Sprint(report.Failed),
		)})
	}()
}

// handleAudit shows the audit trail of one user: "/audit <telegram id>
// [session id]". Without a session id the latest session is shown.
func (t *TelegramBot) handleAudit(ctx context.Context, p *models.UserProfile, chatID int64, args string) {
	if !p.IsStaff {
		t.logger.Warnw("Rejected admin command", "command", "audit", "user_id", p.TelegramID, "user", p.DisplayName())
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.NotAllowed})
		return
	}

	fields := strings.Fields(args)
	if len(fields) == 0 {
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.AuditUsage})
		return
	}
	telegramID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.AuditUsage})
		return
	}
	var sessionID string
	if len(fields) > 1 {
		sessionID = fields[1]
	}

	target, err := t.store.GetProfile(ctx, telegramID)
	if errors.Is(err, models.ErrNotFound) {
		t.send(ctx, chatID, models.OutgoingMessage{
			Text: messages.Format(t.catalog.Texts.AuditUnknown, "id", fields[0]),
		})
		return
	}
	if err != nil {
		t.logger.Errorw("Failed to load profile for audit", "target_id", telegramID, "error", err)
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Error})
		return
	}

	events, err := t.store.ListStates(ctx, telegramID, sessionID)
	if err != nil {
		t.logger.Errorw("Failed to load audit trail", "target_id", telegramID, "error", err)
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Error})
		return
	}

	events = lastSession(events)
	if len(events) == 0 {
		t.send(ctx, chatID, models.OutgoingMessage{
			Text: messages.Format(t.catalog.Texts.AuditEmpty, "user", target.DisplayName()),
		})
		return
	}
	if len(events) > auditMaxRows {
		events = events[len(events)-auditMaxRows:]
	}

	t.logger.Infow("Audit trail requested", "admin", p.DisplayName(), "target", target.DisplayName(), "events", len(events))

	lines := []string{messages.Format(t.catalog.Texts.AuditHeader,
		"user", target.DisplayName(),
		"session", events[0].SessionID,
	)}
	for _, e := range events {
		lines = append(lines, e.CreatedAt.Format("02.01 15:04:05")+"  "+e.StateName)
	}
	t.send(ctx, chatID, models.OutgoingMessage{Text: strings.Join(lines, "\n")})
}

// lastSession keeps the events of the session that was written last.
func lastSession(events []models.UserStateEvent) []models.UserStateEvent {
	if len(events) == 0 {
		return nil
	}
	last := events[len(events)-1].SessionID

	var out []models.UserStateEvent
	for _, e := range events {
		if e.SessionID == last {
			out = append(out, e)
		}
	}
	return out
}
