package discord

import (
	"context"
	"fmt"

	"github.com/roostbot/roost/internal/event"
)

// Handle turns session events into channel notifications. Notifications are
// queued and batch-flushed by the Start loop.
func (b *Bot) Handle(ctx context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.JoinedEvent:
		b.enqueue(fmt.Sprintf("**[%s]** joined `%s:%d` as **%s**", evt.Profile(), evt.Host, evt.Port, evt.Username))
	case event.DisconnectedEvent:
		if evt.WillReconnect {
			b.enqueue(fmt.Sprintf("**[%s]** disconnected: %s, reconnecting", evt.Profile(), evt.Reason))
		} else {
			b.enqueue(fmt.Sprintf("**[%s]** disconnected: %s, automatic reconnection disabled", evt.Profile(), evt.Reason))
		}
	case event.BannedEvent:
		b.enqueue(fmt.Sprintf("**[%s]** BANNED: %s", evt.Profile(), evt.Reason))
	case event.ChallengeSolvedEvent:
		b.enqueue(fmt.Sprintf("**[%s]** solved a **%s** challenge", evt.Profile(), evt.Kind))
	case event.AddressChangedEvent:
		b.enqueue(fmt.Sprintf("**[%s]** now targeting `%s:%d`", evt.Profile(), evt.Host, evt.Port))
	case event.TunnelEvent:
		b.enqueue(evt.Message())
	}
	return nil
}
