// Package wsbridge implements the game transport contract against an external
// protocol gateway process. The gateway owns the wire protocol, world model
// and movement physics; this side exchanges small JSON envelopes with it over
// a local websocket.
package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/roostbot/roost/internal/game"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Bridge struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMux sync.Mutex
	events   chan game.Event

	closeOnce sync.Once
}

// Dialer returns a game.Dialer that connects to the gateway at the given
// websocket URL. Dial attempts are retried with exponential backoff until the
// context expires; the gateway restarting underneath us is routine.
func Dialer(url string, logger *slog.Logger) game.Dialer {
	return func(ctx context.Context, opts game.Options) (game.Client, error) {
		return dial(ctx, url, opts, logger)
	}
}

func dial(ctx context.Context, url string, opts game.Options, logger *slog.Logger) (*Bridge, error) {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var conn *websocket.Conn
	for {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			break
		}

		d := b.Duration()
		logger.Debug("Gateway dial failed, retrying",
			slog.String("url", url),
			slog.Duration("retryIn", d),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dialing gateway %s: %w", url, ctx.Err())
		case <-time.After(d):
		}
	}

	bridge := &Bridge{
		conn:   conn,
		logger: logger,
		events: make(chan game.Event, 64),
	}

	// The connect envelope tells the gateway which world to join and as whom.
	if err := bridge.send("connect", map[string]any{
		"host":     opts.Host,
		"port":     opts.Port,
		"username": opts.Username,
		"auth":     opts.Auth,
		"version":  opts.Version,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sending connect envelope: %w", err)
	}

	go bridge.readPump()

	return bridge, nil
}

func (b *Bridge) Events() <-chan game.Event {
	return b.events
}

// readPump decodes gateway envelopes into the event stream until the socket
// drops, then delivers the final Ended and closes the channel.
func (b *Bridge) readPump() {
	defer func() {
		b.events <- game.Ended{}
		close(b.events)
	}()

	for {
		var env envelope
		if err := b.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("Gateway socket closed", slog.Any("error", err))
			}
			return
		}

		ev, err := decodeEvent(env)
		if err != nil {
			b.logger.Warn("Dropping malformed gateway envelope",
				slog.String("type", env.Type),
				slog.Any("error", err),
			)
			continue
		}
		if ev == nil {
			continue
		}
		if _, isEnd := ev.(game.Ended); isEnd {
			// The deferred close emits Ended exactly once.
			return
		}
		b.events <- ev
	}
}

func decodeEvent(env envelope) (game.Event, error) {
	switch env.Type {
	case "ready":
		var d struct {
			Username string `json:"username"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return game.Ready{Username: d.Username}, nil
	case "spawn":
		return game.Spawned{}, nil
	case "chat":
		var d struct {
			Sender string `json:"sender"`
			Text   string `json:"text"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return game.Chat{Sender: d.Sender, Text: d.Text}, nil
	case "message":
		var d struct {
			Text     string `json:"text"`
			Position string `json:"position"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return game.RawMessage{Text: d.Text, Position: d.Position}, nil
	case "windowOpen":
		var d game.Window
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return game.WindowOpened{Window: d}, nil
	case "goalReached":
		return game.GoalReached{}, nil
	case "kicked":
		var d struct {
			Reason json.RawMessage `json:"reason"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return game.Kicked{Reason: d.Reason}, nil
	case "death":
		return game.Died{}, nil
	case "error":
		var d struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, err
		}
		return game.Errored{Code: d.Code, Message: d.Message}, nil
	case "end":
		return game.Ended{}, nil
	default:
		// Gateways may emit more event types than we consume.
		return nil, nil
	}
}

func (b *Bridge) send(msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling %s envelope: %w", msgType, err)
	}

	b.writeMux.Lock()
	defer b.writeMux.Unlock()
	return b.conn.WriteJSON(envelope{Type: msgType, Data: payload})
}

func (b *Bridge) Chat(text string) error {
	return b.send("chat", map[string]string{"text": text})
}

func (b *Bridge) Command(cmd string) error {
	return b.send("command", map[string]string{"text": cmd})
}

func (b *Bridge) Look(yaw, pitch float64) error {
	return b.send("look", map[string]float64{"yaw": yaw, "pitch": pitch})
}

func (b *Bridge) SwingArm() error {
	return b.send("swing", struct{}{})
}

func (b *Bridge) SetControlState(control game.Control, active bool) error {
	return b.send("control", map[string]any{"control": string(control), "state": active})
}

func (b *Bridge) ClickWindow(slot, button int, shift bool) error {
	return b.send("clickWindow", map[string]any{"slot": slot, "button": button, "shift": shift})
}

func (b *Bridge) ActivateBlock(pos game.Position) error {
	return b.send("activateBlock", pos)
}

func (b *Bridge) SetGoal(goal *game.Goal) error {
	return b.send("goal", goal)
}

func (b *Bridge) Respawn() error {
	return b.send("respawn", struct{}{})
}

func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.writeMux.Lock()
		_ = b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.writeMux.Unlock()
		err = b.conn.Close()
	})
	return err
}
