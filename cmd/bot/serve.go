package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"mac-bot/config"
	"mac-bot/internal/bot"
	"mac-bot/internal/cards"
	"mac-bot/internal/conversation"
	"mac-bot/internal/cooldown"
	"mac-bot/internal/db"
	"mac-bot/internal/gpt"
	"mac-bot/internal/messages"
	"mac-bot/internal/payment"
	"mac-bot/internal/reminder"
	"mac-bot/internal/server"
	"mac-bot/internal/session"
	"mac-bot/pkg/logger"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the payment webhook server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, l, err := setup(true)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	l.Info("Starting MAC bot...")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.MigrateURL(), l.Named("migrate")); err != nil {
		return err
	}

	database, err := connect(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer database.Close()

	created, err := database.SeedPlans(ctx, db.DefaultPlans)
	if err != nil {
		return fmt.Errorf("failed to seed plans: %w", err)
	}
	if created > 0 {
		l.Infow("Default plans created", "count", created)
	}

	catalog, err := messages.Load(cfg.Bot.MessagesFile)
	if err != nil {
		return err
	}

	deck := cards.NewDeck(cfg.Bot.CardsDir)
	if missing := deck.Missing(); len(missing) > 0 {
		l.Warnw("Card images are missing", "dir", cfg.Bot.CardsDir, "count", len(missing), "first", missing[0])
	}

	sessions, closeSessions := newSessionStore(ctx, cfg, l)
	defer closeSessions()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	l.Infow("Authorized on Telegram", "username", api.Self.UserName)
	botURL := "https://t.me/" + api.Self.UserName

	messenger := bot.NewMessenger(api, database, bot.BreakerSettings{}, l.Named("messenger"))

	payments, err := newPaymentService(cfg, database, botURL, l.Named("payment"))
	if err != nil {
		return err
	}

	reminders := reminder.NewScheduler(database, messenger, catalog.Texts.Reminder,
		cfg.Bot.ReminderDelay, cfg.Bot.ReminderInterval, l.Named("reminder"))

	var summarizer conversation.Summarizer
	if cfg.GPT.APIKey != "" {
		summarizer = gpt.NewClient(cfg.GPT.APIKey).WithModel(cfg.GPT.Model)
	}

	controller, err := conversation.New(conversation.Deps{
		Sessions:   sessions,
		Audit:      database,
		Gate:       cooldown.NewGate(database, cfg.Bot.Cooldown),
		Deck:       deck,
		Messenger:  messenger,
		Catalog:    catalog,
		Reminders:  reminders,
		Summarizer: summarizer,
		BookingURL: cfg.BookingURL(),
		Logger:     l.Named("conversation"),
	})
	if err != nil {
		return err
	}

	telegramBot, err := bot.NewTelegramBot(bot.Deps{
		API:           api,
		Store:         database,
		Conversation:  controller,
		Payments:      payments,
		Messenger:     messenger,
		Catalog:       catalog,
		IsAdmin:       cfg.IsAdmin,
		OfertaURL:     cfg.Telegram.OfertaURL,
		PrivacyURL:    cfg.Telegram.PrivacyURL,
		BroadcastRate: cfg.Bot.BroadcastRate,
		Workers:       cfg.Bot.Workers,
		Logger:        l.Named("bot"),
	})
	if err != nil {
		return err
	}
	payments.SetNotifier(telegramBot)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := server.NewServer(cfg.Server.Port, payments, database, l.Named("http"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	go reminders.Run(ctx)

	if err := telegramBot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start Telegram bot: %w", err)
	}
	l.Info("Telegram bot started successfully")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		if runErr != nil {
			l.Errorw("HTTP server failed", "error", runErr)
		}
	}
	stop()

	l.Info("Shutting down bot...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop HTTP server first
	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}

	// Then stop bot
	if err := telegramBot.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during bot shutdown", "error", err)
	}

	l.Info("Bot stopped successfully")
	return runErr
}

// newSessionStore falls back to memory when Redis is configured but
// unreachable.
func newSessionStore(ctx context.Context, cfg *config.Config, l *logger.Logger) (session.Store, func()) {
	if cfg.Session.Backend != config.SessionBackendRedis {
		return session.NewMemoryStore(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		l.Errorw("Failed to connect to Redis, falling back to in-memory sessions", "addr", cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return session.NewMemoryStore(), func() {}
	}

	l.Infow("Using Redis session store", "addr", cfg.Redis.Addr)
	return session.NewRedisStore(client, cfg.Session.TTL), func() { _ = client.Close() }
}

// newPaymentService sells through the configured provider and accepts
// webhooks from every provider that has credentials.
func newPaymentService(cfg *config.Config, store payment.Store, botURL string, l *logger.Logger) (*payment.Service, error) {
	var prodamus, stripe payment.Gateway
	if cfg.Prodamus.MerchantURL != "" && cfg.Prodamus.SecretKey != "" {
		prodamus = payment.NewProdamusGateway(payment.ProdamusConfig{
			MerchantURL:     cfg.Prodamus.MerchantURL,
			SecretKey:       cfg.Prodamus.SecretKey,
			TestMode:        cfg.Prodamus.TestMode,
			Sys:             cfg.Prodamus.Sys,
			NotificationURL: cfg.Server.BaseURL + "/webhook/prodamus",
			SuccessURL:      cfg.Server.BaseURL + "/payment/success",
			ReturnURL:       botURL,
		})
	}
	if cfg.Stripe.SecretKey != "" && cfg.Stripe.WebhookKey != "" {
		stripe = payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:  cfg.Stripe.SecretKey,
			WebhookKey: cfg.Stripe.WebhookKey,
			Currency:   cfg.Payment.Currency,
			SuccessURL: botURL,
			CancelURL:  botURL,
		})
	}

	primary, extra := prodamus, stripe
	if cfg.Payment.Provider == config.ProviderStripe {
		primary, extra = stripe, prodamus
	}
	if primary == nil {
		return nil, errors.New("payment provider " + cfg.Payment.Provider + " is not configured")
	}

	var others []payment.Gateway
	if extra != nil {
		others = append(others, extra)
	}
	return payment.NewService(store, cfg.Payment.Currency, l, primary, others...), nil
}
