// Package console reads operator input from stdin. Lines starting with the
// command prefix go to the dispatcher; anything else is sent as in-game chat.
package console

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/roostbot/roost/internal/bot"
	"github.com/roostbot/roost/internal/config"
)

type Console struct {
	logger     *slog.Logger
	sup        *bot.Supervisor
	dispatcher *bot.Dispatcher
}

func New(logger *slog.Logger, sup *bot.Supervisor, dispatcher *bot.Dispatcher) *Console {
	return &Console{
		logger:     logger,
		sup:        sup,
		dispatcher: dispatcher,
	}
}

// Run blocks reading stdin until EOF or the context ends. Scanner errors
// other than EOF are returned so the supervisor group can decide what to do.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				c.logger.Debug("Stdin closed, console stopped")
				return nil
			}
			c.handle(strings.TrimSpace(line))
		}
	}
}

func (c *Console) handle(line string) {
	if line == "" {
		return
	}

	if strings.HasPrefix(line, config.Roost.CommandPrefix) {
		c.dispatcher.Handle("console", line, func(reply string) {
			fmt.Println(reply)
		})
		return
	}

	client := c.sup.Client()
	if client == nil {
		fmt.Println("Not connected, chat not sent")
		return
	}
	if err := client.Chat(line); err != nil {
		c.logger.Error("Failed to send chat", slog.Any("error", err))
	}
}
