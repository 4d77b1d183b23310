package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"

	"github.com/clinicflow/appointment-service/pkg/logging"
)

type fakeSender struct {
	sent    []tgbotapi.Chattable
	sendErr error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestNoopNeverAttemptsDelivery(t *testing.T) {
	assert.False(t, Noop{}.Send(context.Background(), "chan-1", "hi"))
}

func TestTelegramSendEmptyChannelIsSilentNoop(t *testing.T) {
	fs := &fakeSender{}
	tg := &Telegram{bot: fs, logger: logging.Default()}
	ok := tg.Send(context.Background(), "", "hello")
	assert.False(t, ok)
	assert.Empty(t, fs.sent)
}

func TestTelegramSendDelivers(t *testing.T) {
	fs := &fakeSender{}
	tg := &Telegram{bot: fs, logger: logging.Default()}
	ok := tg.Send(context.Background(), "123456", "hello there")
	assert.True(t, ok)
	assert.Len(t, fs.sent, 1)
}

func TestTelegramSendInvalidChannelIDIsFalse(t *testing.T) {
	tg := &Telegram{bot: &fakeSender{}, logger: logging.Default()}
	ok := tg.Send(context.Background(), "not-a-number", "hello")
	assert.False(t, ok)
}

func TestTelegramSendFailureReturnsFalseNotError(t *testing.T) {
	fs := &fakeSender{sendErr: errors.New("network down")}
	tg := &Telegram{bot: fs, logger: logging.Default()}
	ok := tg.Send(context.Background(), "123456", "hello")
	assert.False(t, ok, "notifier must never propagate delivery errors to the caller")
}

func TestNewWithoutTokenReturnsNoop(t *testing.T) {
	n, err := New("", nil)
	assert.NoError(t, err)
	_, isNoop := n.(Noop)
	assert.True(t, isNoop)
}
