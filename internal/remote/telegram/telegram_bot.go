package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roostbot/roost/internal/bot"
	"github.com/roostbot/roost/internal/config"
	"github.com/roostbot/roost/internal/event"
)

type Bot struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	logger     *slog.Logger
	dispatcher *bot.Dispatcher
}

func (b *Bot) Start(ctx context.Context) error {
	offset, err := b.getLatestOffset()
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(offset)
	u.Timeout = 5
	updates := b.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			for range updates {
			}
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Chat == nil || update.Message.Chat.ID != b.chatID {
				continue
			}
			// Command lines only; plain chat is discarded, same policy as the
			// Discord bridge.
			if !strings.HasPrefix(update.Message.Text, config.Roost.CommandPrefix) {
				continue
			}
			b.dispatcher.Handle("telegram:"+update.Message.From.UserName, update.Message.Text, func(reply string) {
				b.send(reply)
			})
		}
	}
}

// Handle posts session event notifications to the configured chat.
func (b *Bot) Handle(ctx context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.JoinedEvent:
		b.send(fmt.Sprintf("[%s] joined %s:%d as %s", evt.Profile(), evt.Host, evt.Port, evt.Username))
	case event.DisconnectedEvent:
		b.send(fmt.Sprintf("[%s] disconnected: %s", evt.Profile(), evt.Reason))
	case event.BannedEvent:
		b.send(fmt.Sprintf("[%s] BANNED: %s", evt.Profile(), evt.Reason))
	case event.ChallengeSolvedEvent:
		b.send(fmt.Sprintf("[%s] solved a %s challenge", evt.Profile(), evt.Kind))
	}
	return nil
}

func (b *Bot) send(text string) {
	if _, err := b.bot.Send(tgbotapi.NewMessage(b.chatID, text)); err != nil {
		b.logger.Warn("Telegram send failed", slog.Any("error", err))
	}
}

func (b *Bot) getLatestOffset() (int, error) {
	upds, err := b.bot.GetUpdates(tgbotapi.NewUpdate(-1))
	if err != nil {
		return 0, err
	}
	offset := 0
	if len(upds) > 0 {
		offset = upds[0].UpdateID + 1
	}
	return offset, nil
}
