// Package notify delivers rendered reminder text to a patient's linked
// messenger account. Delivery never propagates an error to the caller — a
// failed send degrades to a logged, silent no-op per the reminder
// scheduling contract.
package notify

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/clinicflow/appointment-service/pkg/logging"
)

func parseChatID(channelID string) (int64, error) {
	return strconv.ParseInt(channelID, 10, 64)
}

// Notifier delivers text to a patient's linked channel. It returns whether
// delivery was attempted and likely succeeded — never an error.
type Notifier interface {
	Send(ctx context.Context, channelID, text string) bool
}

// Noop is used when no bot token is configured; every call is a silent
// no-op, matching §7's NotifyUnlinked handling for an unconfigured bot.
type Noop struct{}

// Send always reports no delivery attempted.
func (Noop) Send(ctx context.Context, channelID, text string) bool {
	return false
}

// sender is the subset of tgbotapi.BotAPI this package calls, so tests can
// substitute a fake without a live token.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers reminder text via the Telegram Bot API.
type Telegram struct {
	bot    sender
	logger *logging.Logger
}

// NewTelegram wraps an already-authenticated tgbotapi.BotAPI.
func NewTelegram(bot *tgbotapi.BotAPI, logger *logging.Logger) *Telegram {
	if logger == nil {
		logger = logging.Default()
	}
	return &Telegram{bot: bot, logger: logger}
}

// New constructs a Telegram notifier from a bot token, or a Noop if token
// is empty (BOT_TOKEN unset).
func New(token string, logger *logging.Logger) (Notifier, error) {
	if token == "" {
		return Noop{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return NewTelegram(bot, logger), nil
}

// Send delivers text to the Telegram chat identified by channelID. If
// channelID is empty the call is a silent no-op (NotifyUnlinked).
func (t *Telegram) Send(ctx context.Context, channelID, text string) bool {
	if channelID == "" {
		return false
	}
	chatID, err := parseChatID(channelID)
	if err != nil {
		t.logger.Warn("notify: invalid telegram chat id", "channel_id", channelID, "error", err)
		return false
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("notify: telegram send failed", "channel_id", channelID, "error", err)
		return false
	}
	return true
}
