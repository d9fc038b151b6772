package wsbridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roostbot/roost/internal/game"
)

var testUpgrader = websocket.Upgrader{}

// fakeGateway accepts one websocket session, records the connect envelope and
// plays back a scripted event sequence.
func fakeGateway(t *testing.T, script []envelope, connectEnv chan<- envelope) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var env envelope
		require.NoError(t, conn.ReadJSON(&env))
		connectEnv <- env

		for _, ev := range script {
			require.NoError(t, conn.WriteJSON(ev))
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		// Drain until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDialSendsConnectEnvelope(t *testing.T) {
	connectEnv := make(chan envelope, 1)
	srv := fakeGateway(t, nil, connectEnv)
	defer srv.Close()

	dial := Dialer(wsURL(srv), testLogger())
	client, err := dial(context.Background(), game.Options{
		Host:     "play.example.net",
		Port:     25570,
		Username: "roost",
		Auth:     "offline",
	})
	require.NoError(t, err)
	defer client.Close()

	env := <-connectEnv
	assert.Equal(t, "connect", env.Type)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "play.example.net", data["host"])
	assert.Equal(t, float64(25570), data["port"])
	assert.Equal(t, "roost", data["username"])
}

func TestEventStreamEndsWithEnded(t *testing.T) {
	connectEnv := make(chan envelope, 1)
	srv := fakeGateway(t, []envelope{
		{Type: "ready", Data: json.RawMessage(`{"username":"roost"}`)},
		{Type: "chat", Data: json.RawMessage(`{"sender":"villager","text":"hello there"}`)},
		{Type: "scoreboard", Data: json.RawMessage(`{}`)},
		{Type: "kicked", Data: json.RawMessage(`{"reason":"Server closed"}`)},
	}, connectEnv)
	defer srv.Close()

	dial := Dialer(wsURL(srv), testLogger())
	client, err := dial(context.Background(), game.Options{Host: "h", Port: 1, Username: "roost"})
	require.NoError(t, err)
	<-connectEnv

	var received []game.Event
	for ev := range client.Events() {
		received = append(received, ev)
	}

	require.Len(t, received, 4)
	assert.Equal(t, game.Ready{Username: "roost"}, received[0])
	assert.Equal(t, game.Chat{Sender: "villager", Text: "hello there"}, received[1])
	assert.Equal(t, game.Kicked{Reason: json.RawMessage(`"Server closed"`)}, received[2])
	assert.Equal(t, game.Ended{}, received[3])
}

func TestDialRespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	dial := Dialer("ws://localhost:1/session", testLogger())
	_, err := dial(ctx, game.Options{Host: "h", Port: 1, Username: "roost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent(envelope{Type: "message", Data: json.RawMessage(`{"text":"hi","position":"game_info"}`)})
	require.NoError(t, err)
	assert.Equal(t, game.RawMessage{Text: "hi", Position: "game_info"}, ev)

	ev, err = decodeEvent(envelope{Type: "windowOpen", Data: json.RawMessage(`{"title":"Captcha","slots":[{"index":4,"name":"emerald","displayName":"Click to verify","count":1}]}`)})
	require.NoError(t, err)
	win, ok := ev.(game.WindowOpened)
	require.True(t, ok)
	assert.Equal(t, "Captcha", win.Window.Title)
	require.Len(t, win.Window.Slots, 1)
	assert.Equal(t, 4, win.Window.Slots[0].Index)

	ev, err = decodeEvent(envelope{Type: "error", Data: json.RawMessage(`{"code":"ECONNRESET","message":"read ECONNRESET"}`)})
	require.NoError(t, err)
	assert.Equal(t, game.Errored{Code: "ECONNRESET", Message: "read ECONNRESET"}, ev)

	ev, err = decodeEvent(envelope{Type: "goalReached", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, game.GoalReached{}, ev)

	ev, err = decodeEvent(envelope{Type: "unknown", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Nil(t, ev)

	_, err = decodeEvent(envelope{Type: "chat", Data: json.RawMessage(`not json`)})
	assert.Error(t, err)
}
