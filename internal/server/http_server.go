// Package server is the local web console: a small JSON status API plus a
// websocket stream that pushes session events out and accepts operator
// command lines in.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roostbot/roost/internal/bot"
	"github.com/roostbot/roost/internal/config"
	"github.com/roostbot/roost/internal/event"
	"github.com/roostbot/roost/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type HttpServer struct {
	logger     *slog.Logger
	sup        *bot.Supervisor
	dispatcher *bot.Dispatcher
	store      *storage.Store
	srv        *http.Server

	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

func New(logger *slog.Logger, sup *bot.Supervisor, dispatcher *bot.Dispatcher, store *storage.Store) *HttpServer {
	return &HttpServer{
		logger:     logger,
		sup:        sup,
		dispatcher: dispatcher,
		store:      store,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

func (s *HttpServer) Listen(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf("localhost:%d", port),
		Handler: mux,
	}

	go s.run(ctx)

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HttpServer) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// run owns the client set: registrations, departures and broadcasts all pass
// through here.
func (s *HttpServer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.register:
			s.clients[c] = true
		case c := <-s.unregister:
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
			}
		case message := <-s.broadcast:
			for c := range s.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(s.clients, c)
				}
			}
		}
	}
}

func (s *HttpServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.sup.Report()); err != nil {
		s.logger.Error("Failed to encode status", slog.Any("error", err))
	}
}

func (s *HttpServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	sessions, err := s.store.RecentSessions(r.Context(), s.sup.Report().Profile, 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		s.logger.Error("Failed to encode history", slog.Any("error", err))
	}
}

func (s *HttpServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256)}
	s.register <- c

	go s.writePump(c)
	go s.readPump(c)
}

func (s *HttpServer) writePump(c *client) {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump reads operator command lines from the socket and routes prefixed
// ones to the dispatcher. Replies go back over the same socket.
func (s *HttpServer) readPump(c *client) {
	defer func() {
		s.unregister <- c
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", slog.Any("error", err))
			}
			return
		}

		line := strings.TrimSpace(string(message))
		if line == "" || !strings.HasPrefix(line, config.Roost.CommandPrefix) {
			continue
		}
		s.dispatcher.Handle("web", line, func(reply string) {
			select {
			case c.send <- []byte(reply):
			default:
			}
		})
	}
}

// HandleEvent pushes session events to every connected console.
func (s *HttpServer) HandleEvent(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(map[string]string{
		"profile":    e.Profile(),
		"message":    e.Message(),
		"occurredAt": e.OccurredAt().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	select {
	case s.broadcast <- payload:
	default:
	}
	return nil
}
