// Package conversation drives one user's card reading session through a
// fixed sequence of states, recording an audit event for every state the
// user enters.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"mac-bot/internal/cooldown"
	"mac-bot/internal/messages"
	"mac-bot/internal/models"
	"mac-bot/internal/session"
	"mac-bot/pkg/logger"

	"github.com/google/uuid"
)

// Messenger delivers one prompt to a chat.
type Messenger interface {
	Send(ctx context.Context, chatID int64, msg models.OutgoingMessage) error
}

// AuditStore appends audit events. A failed append must leave no row.
type AuditStore interface {
	RecordState(ctx context.Context, profileID int64, stateName, description, sessionID string) error
}

type Gate interface {
	TryStart(ctx context.Context, p *models.UserProfile) (cooldown.Decision, error)
	Release(ctx context.Context, p *models.UserProfile, d cooldown.Decision) error
}

type CardDrawer interface {
	Draw(cardType string) (models.Card, error)
}

// ReminderScheduler stores a delayed "come back" message for a finished
// session.
type ReminderScheduler interface {
	Schedule(ctx context.Context, telegramID int64, sessionID string) error
}

// Summarizer produces an optional short reflection over the answers.
type Summarizer interface {
	Summarize(ctx context.Context, s *models.Session) (string, error)
}

type Deps struct {
	Sessions   session.Store
	Audit      AuditStore
	Gate       Gate
	Deck       CardDrawer
	Messenger  Messenger
	Catalog    *messages.Catalog
	Reminders  ReminderScheduler
	Summarizer Summarizer
	BookingURL string
	Logger     *logger.Logger
}

type Controller struct {
	sessions   session.Store
	audit      AuditStore
	gate       Gate
	deck       CardDrawer
	messenger  Messenger
	catalog    *messages.Catalog
	reminders  ReminderScheduler
	summarizer Summarizer
	bookingURL string
	logger     *logger.Logger

	now   func() time.Time
	newID func() string
	pick  func(n int) int
}

func New(d Deps) (*Controller, error) {
	if d.Sessions == nil || d.Audit == nil || d.Gate == nil || d.Deck == nil || d.Messenger == nil || d.Catalog == nil {
		return nil, errors.New("conversation: missing dependency")
	}
	if err := d.Catalog.Require(promptStates(), choiceStates()); err != nil {
		return nil, fmt.Errorf("conversation: incomplete message catalog: %w", err)
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}

	return &Controller{
		sessions:   d.Sessions,
		audit:      d.Audit,
		gate:       d.Gate,
		deck:       d.Deck,
		messenger:  d.Messenger,
		catalog:    d.Catalog,
		reminders:  d.Reminders,
		summarizer: d.Summarizer,
		bookingURL: d.BookingURL,
		logger:     d.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
		pick:       rand.IntN,
	}, nil
}

// Start opens a new session when the cooldown gate grants it. A denied start
// is not an error: the user is told how long to wait.
func (c *Controller) Start(ctx context.Context, p *models.UserProfile, chatID int64) (cooldown.Decision, error) {
	decision, err := c.gate.TryStart(ctx, p)
	if err != nil {
		c.send(ctx, chatID, models.OutgoingMessage{Text: c.catalog.Texts.Error})
		return decision, err
	}

	if !decision.Granted {
		c.logger.Infow("Session start denied by cooldown",
			"user_id", p.TelegramID,
			"remaining", decision.Remaining.Round(time.Minute))

		text := messages.Format(c.catalog.Texts.Cooldown, "remaining", cooldown.FormatRemaining(decision.Remaining))
		if !p.IsSubscribed(c.now()) && c.catalog.Texts.CooldownSubscribe != "" {
			text += "\n\n" + c.catalog.Texts.CooldownSubscribe
		}
		c.send(ctx, chatID, models.OutgoingMessage{Text: text, RemoveKeyboard: true})
		return decision, nil
	}

	s := &models.Session{
		ID:        c.newID(),
		UserID:    p.TelegramID,
		ChatID:    chatID,
		State:     StateGetRequest,
		StartedAt: c.now(),
	}

	if err := c.audit.RecordState(ctx, p.ID, StateGetRequest, description(StateGetRequest), s.ID); err != nil {
		c.abortStart(ctx, p, chatID, decision)
		return cooldown.Decision{}, fmt.Errorf("failed to record session start: %w", err)
	}
	if err := c.sessions.Save(ctx, s); err != nil {
		c.abortStart(ctx, p, chatID, decision)
		return cooldown.Decision{}, err
	}

	c.logger.Infow("Session started", "user_id", p.TelegramID, "session_id", s.ID)
	c.enter(ctx, p, s)
	return decision, nil
}

// abortStart gives the cooldown window back after a session failed to open.
func (c *Controller) abortStart(ctx context.Context, p *models.UserProfile, chatID int64, d cooldown.Decision) {
	if err := c.gate.Release(ctx, p, d); err != nil {
		c.logger.Errorw("Failed to release session claim", "user_id", p.TelegramID, "error", err)
	}
	c.send(ctx, chatID, models.OutgoingMessage{Text: c.catalog.Texts.Error})
}

// Handle feeds one input to the user's active session. Invalid input
// re-prompts the current state without recording anything.
func (c *Controller) Handle(ctx context.Context, p *models.UserProfile, chatID int64, in Input) error {
	s, err := c.sessions.Get(ctx, p.TelegramID)
	if errors.Is(err, models.ErrNotFound) {
		c.send(ctx, chatID, models.OutgoingMessage{Text: c.catalog.Texts.NoSession})
		return nil
	}
	if err != nil {
		c.send(ctx, chatID, models.OutgoingMessage{Text: c.catalog.Texts.Error})
		return err
	}

	st, ok := steps[s.State]
	if !ok {
		// Unknown or terminal state left behind by an older build.
		_ = c.sessions.Delete(ctx, p.TelegramID)
		c.send(ctx, s.ChatID, models.OutgoingMessage{Text: c.catalog.Texts.NoSession})
		return nil
	}

	value, valid := c.accept(s.State, st, in)
	if !valid {
		c.reprompt(ctx, s, st)
		return nil
	}

	next := *s
	if st.store != nil {
		st.store(&next, value)
	}
	if s.State == StateChooseCardType {
		cardType, _ := c.catalog.CardValue(value)
		card, err := c.deck.Draw(cardType)
		if err != nil {
			c.send(ctx, s.ChatID, models.OutgoingMessage{Text: c.catalog.Texts.Error})
			return fmt.Errorf("failed to draw card: %w", err)
		}
		next.CardType = cardType
		next.Card = &card
	}
	next.State = st.next

	if err := c.audit.RecordState(ctx, p.ID, next.State, description(next.State), s.ID); err != nil {
		c.send(ctx, s.ChatID, models.OutgoingMessage{Text: c.catalog.Texts.Error})
		return fmt.Errorf("failed to record state %s: %w", next.State, err)
	}

	if next.State == StateFinished {
		err = c.sessions.Delete(ctx, p.TelegramID)
	} else {
		err = c.sessions.Save(ctx, &next)
	}
	if err != nil {
		c.send(ctx, s.ChatID, models.OutgoingMessage{Text: c.catalog.Texts.Error})
		return err
	}

	c.logger.Debugw("State changed",
		"user_id", p.TelegramID,
		"session_id", s.ID,
		"from", s.State,
		"to", next.State)

	c.enter(ctx, p, &next)
	return nil
}

// accept validates input for a state and returns the value to store.
func (c *Controller) accept(state string, st step, in Input) (string, bool) {
	value := strings.TrimSpace(in.Value)

	if st.expect == expectText {
		return value, in.Kind == InputText && value != ""
	}

	if in.Kind != InputText && in.Kind != InputChoice {
		return "", false
	}
	return value, slices.Contains(c.options(state), value)
}

func (c *Controller) options(state string) []string {
	if state == StateChooseCardType {
		return c.catalog.CardLabels()
	}
	return c.catalog.Options[state]
}

func (c *Controller) reprompt(ctx context.Context, s *models.Session, st step) {
	if st.expect == expectText {
		c.send(ctx, s.ChatID, models.OutgoingMessage{Text: c.catalog.Texts.NeedText})
		return
	}
	c.send(ctx, s.ChatID, models.OutgoingMessage{
		Text: c.catalog.Texts.ChooseOption,
		Rows: replyRow(c.options(s.State)),
	})
}

// enter sends everything the user sees on arriving in s.State.
func (c *Controller) enter(ctx context.Context, p *models.UserProfile, s *models.Session) {
	switch s.State {
	case StateCardShown:
		if s.Card != nil {
			c.send(ctx, s.ChatID, models.OutgoingMessage{
				PhotoPath: s.Card.Path,
				Text:      c.catalog.Texts.CardCaption,
			})
		}
	case StateWorkResult2:
		c.sendAnswers(ctx, s)
	case StateFinished:
		c.finish(ctx, p, s)
		return
	}

	c.sendPrompts(ctx, s)
}

func (c *Controller) sendPrompts(ctx context.Context, s *models.Session) {
	prompts := c.catalog.Prompts[s.State]
	for i, text := range prompts {
		msg := models.OutgoingMessage{Text: text}
		if i == len(prompts)-1 {
			if steps[s.State].expect == expectChoice {
				msg.Rows = replyRow(c.options(s.State))
			} else {
				msg.RemoveKeyboard = true
			}
		}
		c.send(ctx, s.ChatID, msg)
	}
}

func (c *Controller) sendAnswers(ctx context.Context, s *models.Session) {
	c.send(ctx, s.ChatID, models.OutgoingMessage{Text: c.catalog.Texts.AnswersHeader, RemoveKeyboard: true})
	for _, answer := range s.Answers() {
		c.send(ctx, s.ChatID, models.OutgoingMessage{Text: answer})
	}

	if c.summarizer == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	summary, err := c.summarizer.Summarize(sctx, s)
	if err != nil {
		c.logger.Warnw("Reflection summary failed", "session_id", s.ID, "error", err)
		return
	}
	if summary != "" {
		c.send(ctx, s.ChatID, models.OutgoingMessage{Text: c.catalog.Texts.ReflectionHeader + "\n\n" + summary})
	}
}

func (c *Controller) finish(ctx context.Context, p *models.UserProfile, s *models.Session) {
	outcome := c.catalog.Texts.OutcomeNo
	if yes := c.catalog.Options[StateWorkResult5]; len(yes) > 0 && s.GotHint == yes[0] {
		outcome = c.catalog.Texts.OutcomeYes
	}
	c.send(ctx, s.ChatID, models.OutgoingMessage{Text: outcome, RemoveKeyboard: true})

	words := c.catalog.Encouragements
	c.send(ctx, s.ChatID, models.OutgoingMessage{Text: words[c.pick(len(words))]})

	booking := models.OutgoingMessage{Text: c.catalog.Texts.Booking}
	if c.bookingURL != "" {
		booking.Rows = [][]models.Button{{{
			Kind: models.ButtonURL,
			Text: c.catalog.Texts.BookingButton,
			URL:  c.bookingURL,
		}}}
	}
	c.send(ctx, s.ChatID, booking)

	if c.reminders != nil {
		if err := c.reminders.Schedule(ctx, p.TelegramID, s.ID); err != nil {
			c.logger.Errorw("Failed to schedule reminder", "user_id", p.TelegramID, "session_id", s.ID, "error", err)
		}
	}

	c.logger.Infow("Session finished",
		"user_id", p.TelegramID,
		"session_id", s.ID,
		"duration", c.now().Sub(s.StartedAt).Round(time.Second))
}

// send logs delivery failures; the session continues regardless.
func (c *Controller) send(ctx context.Context, chatID int64, msg models.OutgoingMessage) {
	if err := c.messenger.Send(ctx, chatID, msg); err != nil {
		c.logger.Errorw("Failed to send message", "chat_id", chatID, "error", err)
	}
}

func replyRow(options []string) [][]models.Button {
	row := make([]models.Button, 0, len(options))
	for _, o := range options {
		row = append(row, models.Button{Kind: models.ButtonReply, Text: o})
	}
	return [][]models.Button{row}
}
