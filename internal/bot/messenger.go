package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mac-bot/internal/models"
	"mac-bot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sony/gobreaker/v2"
)

// ErrBlocked is returned when Telegram refuses delivery because the user
// blocked the bot or deleted the chat.
var ErrBlocked = errors.New("bot: chat is blocked")

// Sender is the part of *tgbotapi.BotAPI used to deliver messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type BlockMarker interface {
	MarkBlocked(ctx context.Context, telegramID int64) error
}

// Messenger renders outgoing messages for Telegram and sends them through a
// circuit breaker. Only transport failures count against the breaker; API
// errors such as 403 or 429 mean Telegram is up.
type Messenger struct {
	api     Sender
	blocked BlockMarker
	breaker *gobreaker.CircuitBreaker[tgbotapi.Message]
	logger  *logger.Logger
}

type BreakerSettings struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

func NewMessenger(api Sender, blocked BlockMarker, bs BreakerSettings, log *logger.Logger) *Messenger {
	if bs.FailureThreshold == 0 {
		bs.FailureThreshold = 5
	}
	if bs.Timeout == 0 {
		bs.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isAPIError(err)
		},
	}

	return &Messenger{
		api:     api,
		blocked: blocked,
		breaker: gobreaker.NewCircuitBreaker[tgbotapi.Message](settings),
		logger:  log,
	}
}

func (m *Messenger) Send(ctx context.Context, chatID int64, msg models.OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := m.breaker.Execute(func() (tgbotapi.Message, error) {
		return m.api.Send(render(chatID, msg))
	})
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		// Private chat ids equal user ids.
		if m.blocked != nil {
			if markErr := m.blocked.MarkBlocked(ctx, chatID); markErr != nil {
				m.logger.Errorw("Failed to mark profile blocked", "chat_id", chatID, "error", markErr)
			}
		}
		return fmt.Errorf("%w: %s", ErrBlocked, apiErr.Message)
	}
	return err
}

func isAPIError(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr)
}

// render maps a transport-neutral message onto a Telegram request.
func render(chatID int64, msg models.OutgoingMessage) tgbotapi.Chattable {
	markup := replyMarkup(msg)

	if msg.PhotoPath != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(msg.PhotoPath))
		photo.Caption = msg.Text
		if msg.HTML {
			photo.ParseMode = tgbotapi.ModeHTML
		}
		if markup != nil {
			photo.ReplyMarkup = markup
		}
		return photo
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	if msg.HTML {
		out.ParseMode = tgbotapi.ModeHTML
	}
	if markup != nil {
		out.ReplyMarkup = markup
	}
	return out
}

func replyMarkup(msg models.OutgoingMessage) any {
	if len(msg.Rows) == 0 {
		if msg.RemoveKeyboard {
			return tgbotapi.NewRemoveKeyboard(true)
		}
		return nil
	}

	if isReplyKeyboard(msg.Rows) {
		rows := make([][]tgbotapi.KeyboardButton, 0, len(msg.Rows))
		for _, r := range msg.Rows {
			row := make([]tgbotapi.KeyboardButton, 0, len(r))
			for _, b := range r {
				row = append(row, tgbotapi.NewKeyboardButton(b.Text))
			}
			rows = append(rows, tgbotapi.NewKeyboardButtonRow(row...))
		}
		return tgbotapi.NewReplyKeyboard(rows...)
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(msg.Rows))
	for _, r := range msg.Rows {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			if b.Kind == models.ButtonURL {
				row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Telegram cannot mix reply and inline buttons in one keyboard, so the
// first button decides.
func isReplyKeyboard(rows [][]models.Button) bool {
	return len(rows[0]) > 0 && rows[0][0].Kind == models.ButtonReply
}
