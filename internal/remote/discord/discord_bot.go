package discord

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/roostbot/roost/internal/bot"
	"github.com/roostbot/roost/internal/config"
)

// flushInterval batches queued notifications into one Discord message, so
// bursts of session events do not trip the channel rate limit.
const flushInterval = 2 * time.Second

// maxChunkLen stays under Discord's 2000-character message limit.
const maxChunkLen = 1900

type Bot struct {
	discordSession *discordgo.Session
	channelID      string
	dispatcher     *bot.Dispatcher

	queueMux sync.Mutex
	queue    []string
}

func NewBot(token, channelID string, dispatcher *bot.Dispatcher) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	return &Bot{
		discordSession: dg,
		channelID:      channelID,
		dispatcher:     dispatcher,
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.discordSession.AddHandler(b.onMessageCreated)
	// MESSAGE_CONTENT intent is required to read message content.
	b.discordSession.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	if err := b.discordSession.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flushQueue()
			return b.discordSession.Close()
		case <-ticker.C:
			b.flushQueue()
		}
	}
}

// onMessageCreated routes admin command lines to the dispatcher. Plain chat
// lines are discarded, never relayed into the game.
func (b *Bot) onMessageCreated(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if m.ChannelID != b.channelID {
		return
	}
	if !slices.Contains(config.Roost.Discord.BotAdmins, m.Author.ID) {
		return
	}
	if !strings.HasPrefix(m.Content, config.Roost.CommandPrefix) {
		return
	}

	b.dispatcher.Handle("discord:"+m.Author.Username, m.Content, func(reply string) {
		_, _ = s.ChannelMessageSend(m.ChannelID, reply)
	})
}

// enqueue buffers a notification for the next flush.
func (b *Bot) enqueue(message string) {
	if message == "" {
		return
	}
	b.queueMux.Lock()
	b.queue = append(b.queue, message)
	b.queueMux.Unlock()
}

func (b *Bot) flushQueue() {
	b.queueMux.Lock()
	pending := b.queue
	b.queue = nil
	b.queueMux.Unlock()

	if len(pending) == 0 {
		return
	}

	var chunk strings.Builder
	for _, msg := range pending {
		if chunk.Len()+len(msg)+1 > maxChunkLen {
			_, _ = b.discordSession.ChannelMessageSend(b.channelID, chunk.String())
			chunk.Reset()
		}
		chunk.WriteString(msg)
		chunk.WriteByte('\n')
	}
	if chunk.Len() > 0 {
		_, _ = b.discordSession.ChannelMessageSend(b.channelID, chunk.String())
	}
}
