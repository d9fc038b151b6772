// Package bot contains the session controller: the state machine that owns
// the transport handle, connection and reconnection policy, ban latching, and
// the wiring of the challenge solver, trigger engine and idle scheduler into
// the transport's event stream.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roostbot/roost/internal/config"
	"github.com/roostbot/roost/internal/event"
	"github.com/roostbot/roost/internal/game"
	"github.com/roostbot/roost/internal/kick"
	"github.com/roostbot/roost/internal/storage"
	"github.com/roostbot/roost/internal/trigger"
	"github.com/roostbot/roost/internal/utils"
	"github.com/roostbot/roost/internal/verify"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusReconnecting Status = "reconnecting"
	StatusBanned       Status = "banned"
)

var (
	ErrAlreadyConnected = errors.New("a connection attempt is already live")
	ErrBanned           = errors.New("session is ban-latched, use reconnect to clear it")
	ErrNoAddress        = errors.New("no server address configured, use setip")
	ErrNotConnected     = errors.New("not connected")
)

// ConnectionAttempt is the ephemeral record of one transition into
// Connecting. Discarded on resolution.
type ConnectionAttempt struct {
	ID       uuid.UUID
	Host     string
	Port     int
	Username string
	Delay    time.Duration
	At       time.Time
}

// CommandSink receives command lines arriving through the game chat itself.
type CommandSink interface {
	Handle(source, line string, reply func(string))
}

// StatusReport is a point-in-time snapshot for the status command and the web
// console.
type StatusReport struct {
	Profile        string        `json:"profile"`
	State          Status        `json:"state"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	Username       string        `json:"username"`
	SessionUptime  time.Duration `json:"sessionUptime"`
	ProcessUptime  time.Duration `json:"processUptime"`
	AntiAFKEnabled bool          `json:"antiAfkEnabled"`
}

// Supervisor is the single session aggregate: it exclusively owns the
// transport handle and the reconnect timer.
type Supervisor struct {
	logger *slog.Logger
	cfg    *config.ProfileCfg
	dial   game.Dialer
	store  *storage.Store
	idler  *Idler

	ctx      context.Context
	shutdown context.CancelFunc

	mu             sync.Mutex
	status         Status
	client         game.Client
	attempt        *ConnectionAttempt
	banned         bool
	navActive      bool
	afkEnabled     bool
	sessionStart   time.Time
	processStart   time.Time
	reconnectTimer *time.Timer
	lastKickReason string
	lastKickClass  kick.Classification

	commands CommandSink
}

func NewSupervisor(logger *slog.Logger, cfg *config.ProfileCfg, dial game.Dialer, store *storage.Store) *Supervisor {
	// Run replaces the context; connects issued before Run must not select
	// on a nil one.
	return &Supervisor{
		logger:       logger,
		cfg:          cfg,
		dial:         dial,
		store:        store,
		idler:        NewIdler(logger, cfg.AntiAFK.BaseIntervalMs, cfg.AntiAFK.JitterMs),
		ctx:          context.Background(),
		status:       StatusDisconnected,
		afkEnabled:   cfg.AntiAFK.Enabled,
		processStart: time.Now(),
	}
}

// SetCommandSink wires the dispatcher for commands arriving via game chat.
func (s *Supervisor) SetCommandSink(sink CommandSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = sink
}

// Run drives the session until the context is cancelled. It issues the
// initial connect and then blocks; all further transitions are event-driven.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx = ctx
	s.shutdown = cancel
	s.mu.Unlock()

	if err := s.Connect("startup"); err != nil && !errors.Is(err, ErrAlreadyConnected) {
		s.logger.Error("Initial connect failed", slog.Any("error", err))
	}

	<-ctx.Done()
	s.teardown()
	return nil
}

// Connect requests a transition into Connecting. Idempotent: while a
// connection attempt or live session exists the request is a no-op. A pending
// reconnect timer is always cleared first.
func (s *Supervisor) Connect(reason string) error {
	s.mu.Lock()

	if s.status == StatusConnecting || (s.status == StatusActive && s.client != nil) {
		s.mu.Unlock()
		s.logger.Debug("Connect request ignored, already connecting or active", slog.String("reason", reason))
		return ErrAlreadyConnected
	}
	if s.banned {
		s.mu.Unlock()
		return ErrBanned
	}
	host, port := s.cfg.Target()
	if host == "" {
		s.mu.Unlock()
		return ErrNoAddress
	}

	s.clearReconnectTimerLocked()
	s.status = StatusConnecting

	username, _ := s.cfg.Identity()
	minDelay, maxDelay := s.cfg.StealthWindow()
	attempt := &ConnectionAttempt{
		ID:       uuid.New(),
		Host:     host,
		Port:     port,
		Username: username,
		Delay:    utils.RandDurationBetween(minDelay, maxDelay),
		At:       time.Now(),
	}
	s.attempt = attempt
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Info("Connection scheduled",
		slog.String("reason", reason),
		slog.String("address", fmt.Sprintf("%s:%d", attempt.Host, attempt.Port)),
		slog.Duration("stealthDelay", attempt.Delay),
	)

	go s.establish(ctx, attempt)
	return nil
}

// establish performs the stealth delay and the dial for one attempt.
func (s *Supervisor) establish(ctx context.Context, attempt *ConnectionAttempt) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(attempt.Delay):
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, auth := s.cfg.Identity()
	client, err := s.dial(dialCtx, game.Options{
		Host:     attempt.Host,
		Port:     attempt.Port,
		Username: attempt.Username,
		Auth:     auth,
		Version:  s.cfg.ProtocolVersion(),
	})
	if err != nil {
		s.logger.Error("Connection attempt failed",
			slog.String("hint", connectivityHint(err.Error())),
			slog.Any("error", err),
		)
		s.mu.Lock()
		s.status = StatusReconnecting
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	go s.eventLoop(client)
}

// eventLoop is the single consumer of one session's transport events. The
// solver and trigger engine run synchronously inside each event's handling, so
// messages are processed strictly in arrival order.
func (s *Supervisor) eventLoop(client game.Client) {
	for ev := range client.Events() {
		switch e := ev.(type) {
		case game.Ready:
			s.onReady(e)
		case game.Spawned:
			s.logger.Info("Agent spawned in world")
		case game.Chat:
			s.handleLine(e.Sender, e.Text)
		case game.RawMessage:
			if e.Position == "game_info" {
				continue
			}
			s.handleLine("", e.Text)
		case game.WindowOpened:
			s.onWindowOpened(e.Window)
		case game.GoalReached:
			s.logger.Debug("Navigation goal reached")
			s.NavigationDone()
		case game.Kicked:
			s.onKicked(e)
		case game.Died:
			s.logger.Info("Agent died, respawning")
			if err := client.Respawn(); err != nil {
				s.logger.Warn("Respawn failed", slog.Any("error", err))
			}
		case game.Errored:
			s.onTransportError(e)
		case game.Ended:
			s.onSessionEnd(client)
			return
		}
	}
	// Channel closed without a final Ended; treat it the same way.
	s.onSessionEnd(client)
}

func (s *Supervisor) onReady(e game.Ready) {
	s.mu.Lock()
	s.status = StatusActive
	s.banned = false
	s.sessionStart = time.Now()
	s.lastKickReason = ""
	s.lastKickClass = ""
	attempt := s.attempt
	client := s.client
	afk := s.afkEnabled
	s.mu.Unlock()

	if attempt == nil {
		host, port := s.cfg.Target()
		attempt = &ConnectionAttempt{ID: uuid.New(), Host: host, Port: port}
	}

	s.logger.Info("Session active", slog.String("username", e.Username))
	event.Send(event.Joined(event.Text(s.cfg.ProfileName, "Joined "+attempt.Host), attempt.Host, attempt.Port, e.Username))

	if s.store != nil {
		if err := s.store.RecordStart(context.Background(), storage.SessionRecord{
			ID:       attempt.ID.String(),
			Profile:  s.cfg.ProfileName,
			Host:     attempt.Host,
			Port:     attempt.Port,
			Username: e.Username,
		}); err != nil {
			s.logger.Warn("Could not journal session start", slog.Any("error", err))
		}
	}

	if afk {
		s.idler.Start(client)
	}
}

/// handleLine processes one inbound text line: verification solver first, then
// trigger rules, then in-game command routing.
func (s *Supervisor) handleLine(sender, text string) {
	username, _ := s.cfg.Identity()
	if sender != "" && sender == username {
		return
	}
	if sender != "" {
		event.Send(event.Chat(event.Text(s.cfg.ProfileName, sender+": "+text), sender, text))
	}

	for _, resp := range verify.SolveText(text) {
		s.executeChallengeResponse(resp)
	}

	rules := s.cfg.TriggerRules()
	delimiter, delay := s.cfg.ReplyPlan()

	s.mu.Lock()
	client := s.client
	sink := s.commands
	s.mu.Unlock()

	if client != nil {
		for _, reply := range trigger.Match(text, rules, delimiter) {
			s.logger.Info("Trigger matched", slog.String("trigger", reply.Rule.Trigger))
			event.Send(event.TriggerFired(event.Text(s.cfg.ProfileName, "Trigger fired: "+reply.Rule.Trigger), reply.Rule.Trigger))
			go s.dispatchSegments(client, reply.Segments, delay)
		}
	}

	// Operators can drive the agent from inside the game too.
	prefix := commandPrefix()
	if sink != nil && sender != "" && strings.HasPrefix(text, prefix) {
		sink.Handle("game:"+sender, text, func(out string) {
			if client != nil {
				_ = client.Chat(out)
			}
		})
	}
}

// dispatchSegments sends the ordered reply segments with a stagger so a
// multi-part response does not arrive as a single scripted-looking burst.
func (s *Supervisor) dispatchSegments(client game.Client, segments []string, delay time.Duration) {
	for _, segment := range segments {
		time.Sleep(delay)
		if err := client.Chat(segment); err != nil {
			s.logger.Warn("Could not send trigger reply", slog.Any("error", err))
			return
		}
	}
}

func (s *Supervisor) onWindowOpened(w game.Window) {
	resp, ok := verify.SolveWindow(w)
	if !ok {
		s.logger.Debug("Window opened, no challenge detected", slog.String("title", w.Title))
		return
	}
	s.executeChallengeResponse(resp)
}

func (s *Supervisor) executeChallengeResponse(resp verify.Response) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}

	switch resp.Kind {
	case verify.KindCommand:
		s.logger.Info("Answering command challenge", slog.String("command", resp.Command))
		if err := client.Command(resp.Command); err != nil {
			s.logger.Warn("Challenge command failed", slog.Any("error", err))
			return
		}
	case verify.KindArithmetic:
		s.logger.Info("Answering arithmetic challenge", slog.String("answer", resp.Chat))
		if err := client.Chat(resp.Chat); err != nil {
			s.logger.Warn("Challenge answer failed", slog.Any("error", err))
			return
		}
	case verify.KindInstruction:
		s.logger.Info("Answering instructional challenge",
			slog.String("control", string(resp.Control)),
			slog.Duration("hold", resp.Hold),
		)
		s.idler.Suspend()
		if err := client.SetControlState(resp.Control, true); err != nil {
			s.idler.Resume()
			s.logger.Warn("Challenge control failed", slog.Any("error", err))
			return
		}
		time.AfterFunc(resp.Hold, func() {
			_ = client.SetControlState(resp.Control, false)
			s.idler.Resume()
		})
	case verify.KindItemClick:
		s.logger.Info("Answering item challenge", slog.Int("slot", resp.Slot))
		if err := client.ClickWindow(resp.Slot, 0, false); err != nil {
			s.logger.Warn("Challenge click failed", slog.Any("error", err))
			return
		}
	case verify.KindForceRestart:
		// A kick announcement arrived as chat content; do not wait for the
		// transport's own end signal.
		s.logger.Warn("Disconnect phrase detected in chat, forcing session restart")
		s.forceRestart()
		return
	}

	event.Send(event.ChallengeSolved(event.Text(s.cfg.ProfileName, "Solved "+string(resp.Kind)+" challenge"), string(resp.Kind)))
}

func (s *Supervisor) onKicked(e game.Kicked) {
	reason, classification := kick.Normalize(e.Reason)

	s.mu.Lock()
	s.lastKickReason = reason
	s.lastKickClass = classification
	if classification == kick.Ban {
		s.banned = true
	}
	s.mu.Unlock()

	s.logger.Error("Kicked from server",
		slog.String("reason", reason),
		slog.String("classification", string(classification)),
	)

	if classification == kick.Ban {
		event.Send(event.Banned(event.Text(s.cfg.ProfileName, "Banned: "+reason), reason))
	}
}

// onTransportError classifies transport errors into operator hints. Errors
// never drive a transition by themselves; the end-of-session signal decides.
func (s *Supervisor) onTransportError(e game.Errored) {
	if isKnownSlotAssertion(e.Message) {
		// Compatibility shim: the upstream protocol client has a defective
		// inventory assertion that fires on some servers' window updates.
		return
	}

	s.logger.Error("Transport error",
		slog.String("code", e.Code),
		slog.String("hint", connectivityHint(e.Message)),
		slog.String("message", e.Message),
	)
}

// onSessionEnd handles the terminal event of one session: journal, notify,
// and either latch Banned or schedule exactly one reconnect.
func (s *Supervisor) onSessionEnd(client game.Client) {
	s.mu.Lock()
	if s.client != client {
		// Already handled (force-restart path) or superseded by a newer
		// session.
		s.mu.Unlock()
		return
	}
	s.client = nil
	attempt := s.attempt
	s.attempt = nil
	reason := s.lastKickReason
	classification := s.lastKickClass
	banned := s.banned
	s.sessionStart = time.Time{}

	s.idler.Stop()

	if banned {
		s.status = StatusBanned
	} else {
		s.status = StatusReconnecting
		s.scheduleReconnectLocked()
	}
	backoff := s.cfg.ReconnectDelay()
	s.mu.Unlock()

	if classification == "" {
		classification = kick.Generic
	}
	if reason == "" {
		reason = "connection closed"
	}

	if banned {
		s.logger.Error("Session ended with ban, automatic reconnection disabled", slog.String("reason", reason))
	} else {
		s.logger.Warn("Session ended, reconnecting", slog.String("reason", reason), slog.Duration("in", backoff))
	}

	event.Send(event.Disconnected(event.Text(s.cfg.ProfileName, "Disconnected: "+reason), reason, string(classification), !banned))

	if s.store != nil && attempt != nil {
		if err := s.store.RecordEnd(context.Background(), attempt.ID.String(), reason, string(classification)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Could not journal session end", slog.Any("error", err))
		}
	}
}

// forceRestart tears the live session down immediately and runs the
// end-of-session handling without waiting for the transport's end signal.
func (s *Supervisor) forceRestart() {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return
	}
	_ = client.Close()
	s.onSessionEnd(client)
}

// scheduleReconnectLocked arms the reconnect timer, cancelling any pending
// one first: at most one reconnect may be pending at any instant.
func (s *Supervisor) scheduleReconnectLocked() {
	s.clearReconnectTimerLocked()
	backoff := s.cfg.ReconnectDelay()
	s.reconnectTimer = time.AfterFunc(backoff, func() {
		if err := s.Connect("scheduled retry"); err != nil && !errors.Is(err, ErrAlreadyConnected) {
			s.logger.Error("Scheduled reconnect failed", slog.Any("error", err))
		}
	})
}

func (s *Supervisor) clearReconnectTimerLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// Reconnect is the operator-issued restart: it clears the ban latch and
// cycles the session.
func (s *Supervisor) Reconnect() error {
	s.mu.Lock()
	s.banned = false
	client := s.client
	if client != nil {
		// Closing the client delivers Ended, which schedules the reconnect.
		s.mu.Unlock()
		return client.Close()
	}
	s.status = StatusDisconnected
	s.clearReconnectTimerLocked()
	s.mu.Unlock()

	return s.Connect("operator reconnect")
}

// Restart applies address/version changes: drop the session if one is live,
// otherwise connect fresh.
func (s *Supervisor) Restart() error {
	return s.Reconnect()
}

// Navigate issues a navigation goal, suspending idle behavior first.
func (s *Supervisor) Navigate(goal game.Goal) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	s.idler.Suspend()
	s.mu.Lock()
	s.navActive = true
	s.mu.Unlock()

	if err := client.SetGoal(&goal); err != nil {
		s.mu.Lock()
		s.navActive = false
		s.mu.Unlock()
		s.idler.Resume()
		return err
	}
	return nil
}

// StopMovement cancels any outstanding navigation goal and the idle
// scheduler. The reconnect timer is deliberately untouched.
func (s *Supervisor) StopMovement() error {
	s.mu.Lock()
	client := s.client
	nav := s.navActive
	s.navActive = false
	s.mu.Unlock()

	s.idler.Stop()

	if client == nil {
		return ErrNotConnected
	}
	if nav {
		if err := client.SetGoal(nil); err != nil {
			return err
		}
	}
	return nil
}

// NavigationDone is called when an issued goal completes; it resumes idling.
func (s *Supervisor) NavigationDone() {
	s.mu.Lock()
	wasActive := s.navActive
	s.navActive = false
	s.mu.Unlock()
	if wasActive {
		s.idler.Resume()
	}
}

// SetAFK toggles the idle behavior scheduler.
func (s *Supervisor) SetAFK(enabled bool) {
	s.mu.Lock()
	s.afkEnabled = enabled
	client := s.client
	active := s.status == StatusActive
	s.mu.Unlock()

	if !enabled {
		s.idler.Stop()
		return
	}
	if active && client != nil {
		s.idler.Start(client)
	}
}

// Client returns the live transport handle, or nil.
func (s *Supervisor) Client() game.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) Report() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessionUptime time.Duration
	if !s.sessionStart.IsZero() {
		sessionUptime = time.Since(s.sessionStart)
	}
	host, port := s.cfg.Target()
	username, _ := s.cfg.Identity()
	return StatusReport{
		Profile:        s.cfg.ProfileName,
		State:          s.status,
		Host:           host,
		Port:           port,
		Username:       username,
		SessionUptime:  sessionUptime,
		ProcessUptime:  time.Since(s.processStart),
		AntiAFKEnabled: s.afkEnabled,
	}
}

// Quit performs graceful teardown and terminates the run loop.
func (s *Supervisor) Quit() {
	s.mu.Lock()
	shutdown := s.shutdown
	s.mu.Unlock()
	if shutdown != nil {
		shutdown()
	}
}

func (s *Supervisor) teardown() {
	s.mu.Lock()
	s.clearReconnectTimerLocked()
	client := s.client
	s.client = nil
	s.status = StatusDisconnected
	s.mu.Unlock()

	s.idler.Stop()
	if client != nil {
		if err := client.Close(); err != nil {
			s.logger.Warn("Error closing transport", slog.Any("error", err))
		}
	}
}

// isKnownSlotAssertion matches the one defective inventory assertion in the
// external protocol client that fires on some servers' window updates. It is
// suppressed entirely; everything else is reported.
func isKnownSlotAssertion(message string) bool {
	return strings.Contains(message, "assert.ok(slot >= 0)")
}

// connectivityHint maps transport error text to a short actionable hint.
func connectivityHint(message string) string {
	folded := strings.ToLower(message)
	switch {
	case strings.Contains(folded, "no such host"), strings.Contains(folded, "enotfound"):
		return "address could not be resolved, check the server address"
	case strings.Contains(folded, "connection refused"), strings.Contains(folded, "econnrefused"):
		return "connection refused, check the server is started and the port is right"
	case strings.Contains(folded, "connection reset"), strings.Contains(folded, "econnreset"):
		return "connection reset by the server"
	case strings.Contains(folded, "timeout"), strings.Contains(folded, "timed out"):
		return "server did not respond, check the address and your network"
	case strings.Contains(folded, "version"), strings.Contains(folded, "protocol"):
		return "protocol mismatch, set an explicit version with setversion"
	default:
		return "transport error"
	}
}

// commandPrefix reads the configured front-end command prefix.
func commandPrefix() string {
	if config.Roost != nil && config.Roost.CommandPrefix != "" {
		return config.Roost.CommandPrefix
	}
	return "!"
}
