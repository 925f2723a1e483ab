package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/go-telegram/bot"
)

// Telegram delivers alerts to a chat.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
}

func NewTelegram(b *bot.Bot, chatID int64) *Telegram {
	return &Telegram{bot: b, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, title, message string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   fmt.Sprintf("🔔 %s\n%s", title, message),
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Log is the fallback dispatcher when no Telegram token is configured.
type Log struct{}

func (Log) Notify(_ context.Context, title, message string) error {
	log.Printf("ALERT: %s: %s", title, message)
	return nil
}
