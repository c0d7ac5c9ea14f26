package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mac-bot/internal/conversation"
	"mac-bot/internal/cooldown"
	"mac-bot/internal/messages"
	"mac-bot/internal/models"
	"mac-bot/internal/payment"
	"mac-bot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const updateTimeout = 60 * time.Second

// API is the subset of *tgbotapi.BotAPI the bot talks to.
type API interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Store interface {
	EnsureProfile(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error)
	ListRecipients(ctx context.Context) ([]int64, error)
	Stats(ctx context.Context, now time.Time, recent time.Duration, finishedState string) (*models.Stats, error)
	ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error)
	GetPlan(ctx context.Context, code string) (*models.SubscriptionPlan, error)
	GetProfile(ctx context.Context, telegramID int64) (*models.UserProfile, error)
	ListStates(ctx context.Context, telegramID int64, sessionID string) ([]models.UserStateEvent, error)
}

type Conversation interface {
	Start(ctx context.Context, p *models.UserProfile, chatID int64) (cooldown.Decision, error)
	Handle(ctx context.Context, p *models.UserProfile, chatID int64, in conversation.Input) error
}

type Payments interface {
	Checkout(ctx context.Context, p *models.UserProfile, planCode string) (*payment.Checkout, error)
}

type Deps struct {
	API          API
	Store        Store
	Conversation Conversation
	Payments     Payments
	Messenger    conversation.Messenger
	Catalog      *messages.Catalog
	// IsAdmin grants staff rights on first contact.
	IsAdmin    func(telegramID int64) bool
	OfertaURL  string
	PrivacyURL string
	// BroadcastRate is the /send_all limit in messages per second.
	BroadcastRate float64
	Workers       int
	Logger        *logger.Logger
}

type TelegramBot struct {
	api          API
	store        Store
	conversation Conversation
	payments     Payments
	messenger    conversation.Messenger
	catalog      *messages.Catalog
	isAdmin      func(telegramID int64) bool
	ofertaURL    string
	privacyURL   string
	dispatcher   *Dispatcher
	broadcaster  *Broadcaster
	logger       *logger.Logger

	baseCtx    context.Context
	polling    chan struct{}
	background sync.WaitGroup
	now        func() time.Time
}

func NewTelegramBot(d Deps) (*TelegramBot, error) {
	if d.API == nil || d.Store == nil || d.Conversation == nil || d.Payments == nil || d.Messenger == nil || d.Catalog == nil {
		return nil, errors.New("bot: missing dependency")
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}

	if d.IsAdmin == nil {
		d.IsAdmin = func(int64) bool { return false }
	}

	return &TelegramBot{
		api:          d.API,
		store:        d.Store,
		conversation: d.Conversation,
		payments:     d.Payments,
		messenger:    d.Messenger,
		catalog:      d.Catalog,
		isAdmin:      d.IsAdmin,
		ofertaURL:    d.OfertaURL,
		privacyURL:   d.PrivacyURL,
		dispatcher:   NewDispatcher(d.Workers, d.Logger),
		broadcaster:  NewBroadcaster(d.Messenger, d.BroadcastRate, d.Logger),
		logger:       d.Logger,
		baseCtx:      context.Background(),
		now:          time.Now,
	}, nil
}

// Start begins receiving updates from Telegram via polling
func (t *TelegramBot) Start(ctx context.Context) error {
	// First, remove any existing webhook to ensure we can use polling
	t.logger.Info("Removing any existing webhook")
	if _, err := t.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = int(updateTimeout.Seconds())
	updateConfig.AllowedUpdates = []string{"message", "callback_query"}

	t.baseCtx = ctx
	updates := t.api.GetUpdatesChan(updateConfig)

	t.logger.Info("Started receiving Telegram updates")

	t.polling = make(chan struct{})
	go func() {
		defer close(t.polling)
		t.handleUpdates(ctx, updates)
	}()

	return nil
}

// handleUpdates hands every update to the dispatcher, keyed by sender.
func (t *TelegramBot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			from := sender(update)
			if from == nil {
				continue
			}
			t.dispatcher.Submit(from.ID, func() {
				// In-flight updates finish even when shutdown has begun.
				uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
				defer cancel()
				t.HandleUpdate(uctx, update)
			})
		}
	}
}

// HandleUpdate processes one update synchronously.
func (t *TelegramBot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.From != nil:
		t.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		t.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func sender(update tgbotapi.Update) *tgbotapi.User {
	switch {
	case update.Message != nil:
		return update.Message.From
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From
	}
	return nil
}

func (t *TelegramBot) profile(ctx context.Context, u *tgbotapi.User) (*models.UserProfile, error) {
	fullName := strings.TrimSpace(u.FirstName + " " + u.LastName)
	return t.store.EnsureProfile(ctx, &models.UserProfile{
		TelegramID:   u.ID,
		Username:     u.UserName,
		FullName:     fullName,
		LanguageCode: u.LanguageCode,
		IsStaff:      t.isAdmin(u.ID),
	})
}

func (t *TelegramBot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	p, err := t.profile(ctx, message.From)
	if err != nil {
		t.logger.Errorw("Failed to load profile", "user_id", message.From.ID, "error", err)
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Error})
		return
	}

	if message.IsCommand() {
		t.handleCommand(ctx, p, message)
		return
	}

	in := conversation.Input{Kind: conversation.InputOther}
	if message.Text != "" {
		in = conversation.Text(message.Text)
	}
	if err := t.conversation.Handle(ctx, p, chatID, in); err != nil {
		t.logger.Errorw("Failed to handle message", "user_id", p.TelegramID, "error", err)
	}
}

func (t *TelegramBot) handleCommand(ctx context.Context, p *models.UserProfile, message *tgbotapi.Message) {
	command := message.Command()
	chatID := message.Chat.ID

	t.logger.Infow("Handling command", "command", command, "user_id", p.TelegramID)

	switch command {
	case "start":
		if _, err := t.conversation.Start(ctx, p, chatID); err != nil {
			t.logger.Errorw("Failed to start session", "user_id", p.TelegramID, "error", err)
		}
	case "help":
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Help})
	case "subscribe":
		t.handleSubscribe(ctx, p, chatID)
	case "oferta":
		t.handleLegal(ctx, chatID, t.catalog.Texts.Oferta, t.catalog.Texts.OfertaButton, t.ofertaURL)
	case "privacy":
		t.handleLegal(ctx, chatID, t.catalog.Texts.Privacy, t.catalog.Texts.PrivacyButton, t.privacyURL)
	case "stats":
		t.handleStats(ctx, p, chatID)
	case "send_all":
		t.handleBroadcast(ctx, p, chatID, strings.TrimSpace(message.CommandArguments()))
	case "audit":
		t.handleAudit(ctx, p, chatID, message.CommandArguments())
	default:
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.UnknownCommand})
	}
}

// handleCallbackQuery answers the query first so the client stops its
// spinner, then routes plan purchases and choice buttons.
func (t *TelegramBot) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := t.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		t.logger.Warnw("Failed to answer callback query", "user_id", cq.From.ID, "error", err)
	}

	chatID := cq.From.ID
	if cq.Message != nil {
		chatID = cq.Message.Chat.ID
	}

	p, err := t.profile(ctx, cq.From)
	if err != nil {
		t.logger.Errorw("Failed to load profile", "user_id", cq.From.ID, "error", err)
		t.send(ctx, chatID, models.OutgoingMessage{Text: t.catalog.Texts.Error})
		return
	}

	if code, ok := parsePlanCallback(cq.Data); ok {
		t.handlePlan(ctx, p, chatID, code)
		return
	}

	if err := t.conversation.Handle(ctx, p, chatID, conversation.Choice(cq.Data)); err != nil {
		t.logger.Errorw("Failed to handle callback", "user_id", p.TelegramID, "error", err)
	}
}

// Stop stops polling and waits for queued updates and broadcasts.
func (t *TelegramBot) Stop(ctx context.Context) error {
	t.api.StopReceivingUpdates()

	if t.polling != nil {
		select {
		case <-t.polling:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := t.dispatcher.Wait(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		t.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *TelegramBot) send(ctx context.Context, chatID int64, msg models.OutgoingMessage) {
	if err := t.messenger.Send(ctx, chatID, msg); err != nil {
		t.logger.Errorw("Failed to send message", "chat_id", chatID, "error", err)
	}
}
