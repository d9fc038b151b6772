package game

import (
	"context"
)

// Control is a movement control the agent can assert or release.
type Control string

const (
	ControlJump    Control = "jump"
	ControlSneak   Control = "sneak"
	ControlForward Control = "forward"
	ControlSprint  Control = "sprint"
)

// Position is a block position in the world.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Goal is a navigation target: either a fixed position or a player to follow.
// Exactly one of the two is set.
type Goal struct {
	Position *Position `json:"position,omitempty"`
	Player   string    `json:"player,omitempty"`
}

// Options carries everything needed to establish one connection attempt.
type Options struct {
	Host     string
	Port     int
	Username string
	Auth     string
	// Version is the protocol version to present, empty for auto-detect.
	Version string
}

// Client is the contract with the external game-protocol client. The protocol
// decoding, world model and movement physics live on the other side of this
// interface; the agent only consumes its event stream and issues single,
// self-contained calls.
//
// Events returns the inbound event stream. The stream always terminates with
// Ended, after which the channel is closed and the client is dead.
type Client interface {
	Events() <-chan Event

	Chat(text string) error
	Command(cmd string) error
	Look(yaw, pitch float64) error
	SwingArm() error
	SetControlState(control Control, active bool) error
	ClickWindow(slot, button int, shift bool) error
	ActivateBlock(pos Position) error
	// SetGoal starts navigation towards the goal; nil cancels any outstanding
	// navigation.
	SetGoal(goal *Goal) error
	Respawn() error
	Close() error
}

// Dialer establishes one session against the game world.
type Dialer func(ctx context.Context, opts Options) (Client, error)
