// Package notify delivers new-listing notifications to an operator channel.
package notify

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"wgwatch/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends one message per account cycle that detected new listings.
// Delivery failures are logged and never affect the cycle result.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// NewListings implements runner.Notifier.
func (t *Telegram) NewListings(account *model.Account, listings []model.NewListing) {
	if len(listings) == 0 {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatNewListings(account.Email, listings))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send notification", "email", account.Email, "error", err)
	}
}

// FormatNewListings formats one cycle's new listings as a notification.
func FormatNewListings(email string, listings []model.NewListing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %d new listing(s)\n", email, len(listings))
	for _, l := range listings {
		fmt.Fprintf(&b, "\n%s\n%s\n%s\n", l.Title, l.DateOfEntry, l.URL)
	}
	return b.String()
}
