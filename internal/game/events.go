package game

import "encoding/json"

// Event is an inbound transport event. The concrete types below are the full
// set a Client may emit.
type Event interface {
	isEvent()
}

// Ready fires once the login handshake completed and the session is live.
type Ready struct {
	Username string
}

// Spawned fires when the agent's entity appears in the world, including
// respawns.
type Spawned struct{}

// Chat is a player chat line.
type Chat struct {
	Sender string
	Text   string
}

// RawMessage is any other server text (system messages, action bar, titles).
// Position carries the transport's placement tag, e.g. "system" or "game_info".
type RawMessage struct {
	Text     string
	Position string
}

// WindowOpened fires when the server opens an inventory window.
type WindowOpened struct {
	Window Window
}

// GoalReached fires when an issued navigation goal completes.
type GoalReached struct{}

// Kicked carries the server's structured disconnect reason. The payload shape
// is server-controlled and possibly deeply nested; it is normalized by the
// kick package, never interpreted here.
type Kicked struct {
	Reason json.RawMessage
}

// Died fires when the agent's entity dies.
type Died struct{}

// Errored is a transport-level error report. It does not imply the session
// ended; Ended always follows separately if it did.
type Errored struct {
	Code    string
	Message string
}

// Ended is the final event of every session. The event channel is closed
// right after it is delivered.
type Ended struct{}

func (Ready) isEvent()        {}
func (Spawned) isEvent()      {}
func (Chat) isEvent()         {}
func (RawMessage) isEvent()   {}
func (WindowOpened) isEvent() {}
func (GoalReached) isEvent()  {}
func (Kicked) isEvent()       {}
func (Died) isEvent()         {}
func (Errored) isEvent()      {}
func (Ended) isEvent()        {}
