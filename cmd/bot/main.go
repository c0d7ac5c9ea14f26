// cmd/bot/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"mac-bot/config"
	"mac-bot/internal/db"
	"mac-bot/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mac-bot",
	Short: "Telegram bot for metaphorical card sessions",
	Long: `mac-bot walks users through a reflective session with a metaphorical
card, keeps an audit trail of every step and sells subscriptions.

Without a subcommand the bot is started, same as "mac-bot serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedPlansCmd, importLegacyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads and validates the configuration and builds the logger.
func setup(validate bool) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var l *logger.Logger
	if cfg.Log.Development {
		l = logger.NewDevelopment()
	} else {
		l = logger.New(cfg.Log.Level)
	}

	if validate {
		if err := cfg.Validate(); err != nil {
			l.Errorw("Invalid configuration", "error", err)
			return nil, nil, err
		}
	}
	return cfg, l, nil
}

// connect opens the database, retrying while it comes up.
func connect(ctx context.Context, cfg *config.Config, l *logger.Logger) (*db.PostgresDB, error) {
	pool := db.PoolConfig{
		DSN:          cfg.DSN(),
		MaxOpenConns: cfg.DB.MaxOpenConns,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		ConnLifetime: cfg.DB.ConnLifetime,
	}

	database, err := db.ConnectWithRetry(ctx, pool, 5, func(attempt int, err error) {
		l.Warnw("Failed to connect to database, retrying...", "attempt", attempt, "error", err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after multiple attempts: %w", err)
	}
	return database, nil
}

func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
