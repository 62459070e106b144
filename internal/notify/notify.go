package notify

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	tb "gopkg.in/tucnak/telebot.v2"
)

// Notifier delivers best-effort user messages. Failures are logged and
// swallowed; notification state never influences order state.
type Notifier interface {
	Notify(userID int64, text string)
}

type Nop struct{}

func (Nop) Notify(int64, string) {}

// Bot sends notifications through a messaging bot. Sends are fire-and-forget
// and run on the caller's goroutine with the library's own timeout.
type Bot struct {
	bot *tb.Bot
	log *zap.Logger
}

// New returns a bot-backed notifier, or Nop when no token is configured.
func New(token string, log *zap.Logger) Notifier {
	if token == "" {
		log.Info("notifications disabled: no bot token")
		return Nop{}
	}
	b, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		log.Warn("notifier init failed, notifications disabled", zap.Error(err))
		return Nop{}
	}
	return &Bot{bot: b, log: log}
}

func (b *Bot) Notify(userID int64, text string) {
	if _, err := b.bot.Send(recipient(userID), text, tb.ModeHTML); err != nil {
		b.log.Warn("notify failed",
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

func recipient(userID int64) *tb.User {
	return &tb.User{ID: userID}
}

// PaidText renders the delivery confirmation message.
func PaidText(orderID int64, product string, qty int64, tx string) string {
	return fmt.Sprintf("Order #%d delivered: %s x%s\nTransaction: %s",
		orderID, product, strconv.FormatInt(qty, 10), tx)
}

// FailedText renders the delivery failure message shown for terminal errors.
func FailedText(orderID int64, reason string) string {
	return fmt.Sprintf("Order #%d could not be delivered automatically (%s). Support has been notified.", orderID, reason)
}
