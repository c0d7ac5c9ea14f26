// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"

	ProviderProdamus = "prodamus"
	ProviderStripe   = "stripe"
)

type Config struct {
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
	Telegram struct {
		Token      string  `mapstructure:"token"`
		AdminIDs   []int64 `mapstructure:"admin_ids"`
		MasterName string  `mapstructure:"master_name"`
		OfertaURL  string  `mapstructure:"oferta_url"`
		PrivacyURL string  `mapstructure:"privacy_url"`
		Debug      bool    `mapstructure:"debug"`
	} `mapstructure:"telegram"`
	DB struct {
		Host         string        `mapstructure:"host"`
		Port         string        `mapstructure:"port"`
		User         string        `mapstructure:"user"`
		Password     string        `mapstructure:"password"`
		DBName       string        `mapstructure:"name"`
		SSLMode      string        `mapstructure:"ssl_mode"`
		MaxOpenConns int           `mapstructure:"max_open_conns"`
		MaxIdleConns int           `mapstructure:"max_idle_conns"`
		ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
	} `mapstructure:"db"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Session struct {
		Backend string        `mapstructure:"backend"`
		TTL     time.Duration `mapstructure:"ttl"`
	} `mapstructure:"session"`
	Payment struct {
		Provider string `mapstructure:"provider"`
		Currency string `mapstructure:"currency"`
	} `mapstructure:"payment"`
	Prodamus struct {
		MerchantURL string `mapstructure:"merchant_url"`
		SecretKey   string `mapstructure:"secret_key"`
		TestMode    bool   `mapstructure:"test_mode"`
		Sys         string `mapstructure:"sys"`
	} `mapstructure:"prodamus"`
	Stripe struct {
		SecretKey  string `mapstructure:"secret_key"`
		WebhookKey string `mapstructure:"webhook_key"`
	} `mapstructure:"stripe"`
	GPT struct {
		APIKey string `mapstructure:"api_key"`
		Model  string `mapstructure:"model"`
	} `mapstructure:"gpt"`
	Server struct {
		Port    string `mapstructure:"port"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"server"`
	Bot struct {
		Cooldown         time.Duration `mapstructure:"cooldown"`
		ReminderDelay    time.Duration `mapstructure:"reminder_delay"`
		ReminderInterval time.Duration `mapstructure:"reminder_interval"`
		CardsDir         string        `mapstructure:"cards_dir"`
		MessagesFile     string        `mapstructure:"messages_file"`
		BroadcastRate    float64       `mapstructure:"broadcast_rate"`
		Workers          int           `mapstructure:"workers"`
	} `mapstructure:"bot"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads .env, an optional config file and the environment. Environment
// variables use the nested key with dots replaced by underscores, e.g.
// TELEGRAM_TOKEN or PRODAMUS_SECRET_KEY.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.mac-bot")

	setDefaults(v)

	// Every key has a default, so AutomaticEnv can resolve all of them.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Process any ${ENV_VAR} syntax in the config values
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
			if envValue := os.Getenv(envVar); envValue != "" {
				v.Set(key, envValue)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_ids", []int64{})
	v.SetDefault("telegram.master_name", "")
	v.SetDefault("telegram.oferta_url", "")
	v.SetDefault("telegram.privacy_url", "")
	v.SetDefault("telegram.debug", false)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "mac_bot")
	v.SetDefault("db.ssl_mode", "disable")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("db.conn_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.backend", SessionBackendMemory)
	v.SetDefault("session.ttl", 7*24*time.Hour)

	v.SetDefault("payment.provider", ProviderProdamus)
	v.SetDefault("payment.currency", "rub")

	v.SetDefault("prodamus.merchant_url", "")
	v.SetDefault("prodamus.secret_key", "")
	v.SetDefault("prodamus.test_mode", false)
	v.SetDefault("prodamus.sys", "")

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_key", "")

	v.SetDefault("gpt.api_key", "")
	v.SetDefault("gpt.model", "gpt-4o-mini")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.base_url", "")

	v.SetDefault("bot.cooldown", 24*time.Hour)
	v.SetDefault("bot.reminder_delay", 24*time.Hour)
	v.SetDefault("bot.reminder_interval", time.Minute)
	v.SetDefault("bot.cards_dir", "static/cards")
	v.SetDefault("bot.messages_file", "")
	v.SetDefault("bot.broadcast_rate", 25.0)
	v.SetDefault("bot.workers", 0)

	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// DSN is the libpq style connection string used by pgx.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.DBName, c.DB.SSLMode,
	)
}

// MigrateURL is the URL form required by the migration driver.
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.DBName, c.DB.SSLMode,
	)
}

// BookingURL is the chat link offered at the end of a session.
func (c *Config) BookingURL() string {
	if c.Telegram.MasterName == "" {
		return ""
	}
	return "https://t.me/" + strings.TrimPrefix(c.Telegram.MasterName, "@")
}

// IsAdmin reports whether telegramID is listed in telegram.admin_ids.
func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// Validate checks the settings the bot cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is not configured"))
	}
	switch c.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown session.backend %q", c.Session.Backend))
	}
	switch c.Payment.Provider {
	case ProviderProdamus:
		if c.Prodamus.MerchantURL == "" || c.Prodamus.SecretKey == "" {
			errs = append(errs, errors.New("prodamus configuration is incomplete"))
		}
	case ProviderStripe:
		if c.Stripe.SecretKey == "" || c.Stripe.WebhookKey == "" {
			errs = append(errs, errors.New("stripe configuration is incomplete"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown payment.provider %q", c.Payment.Provider))
	}
	if c.Server.BaseURL == "" {
		errs = append(errs, errors.New("server.base_url is not configured"))
	}
	if c.Bot.Cooldown < 0 {
		errs = append(errs, errors.New("bot.cooldown must not be negative"))
	}
	return errors.Join(errs...)
}
