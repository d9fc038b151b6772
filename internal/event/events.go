package event

import (
	"time"
)

type Event interface {
	Message() string
	Profile() string
	OccurredAt() time.Time
}

type BaseEvent struct {
	message    string
	profile    string
	occurredAt time.Time
}

func (b BaseEvent) Message() string {
	return b.message
}

func (b BaseEvent) Profile() string {
	return b.profile
}

func (b BaseEvent) OccurredAt() time.Time {
	return b.occurredAt
}

func Text(profile string, message string) BaseEvent {
	return BaseEvent{
		message:    message,
		profile:    profile,
		occurredAt: time.Now(),
	}
}

// JoinedEvent is emitted when the session reaches the Active state.
type JoinedEvent struct {
	BaseEvent
	Host     string
	Port     int
	Username string
}

func Joined(be BaseEvent, host string, port int, username string) JoinedEvent {
	return JoinedEvent{BaseEvent: be, Host: host, Port: port, Username: username}
}

// DisconnectedEvent is emitted on every end-of-session, with the normalized
// kick reason when one was received.
type DisconnectedEvent struct {
	BaseEvent
	Reason         string
	Classification string
	WillReconnect  bool
}

func Disconnected(be BaseEvent, reason, classification string, willReconnect bool) DisconnectedEvent {
	return DisconnectedEvent{BaseEvent: be, Reason: reason, Classification: classification, WillReconnect: willReconnect}
}

// BannedEvent is emitted when a disconnect reason classifies as a ban and the
// session latches into the terminal Banned state.
type BannedEvent struct {
	BaseEvent
	Reason string
}

func Banned(be BaseEvent, reason string) BannedEvent {
	return BannedEvent{BaseEvent: be, Reason: reason}
}

// ChallengeSolvedEvent is emitted when the verification solver responded to a
// server challenge.
type ChallengeSolvedEvent struct {
	BaseEvent
	Kind string
}

func ChallengeSolved(be BaseEvent, kind string) ChallengeSolvedEvent {
	return ChallengeSolvedEvent{BaseEvent: be, Kind: kind}
}

// TriggerFiredEvent is emitted when an operator trigger rule matched an
// incoming chat line.
type TriggerFiredEvent struct {
	BaseEvent
	Trigger string
}

func TriggerFired(be BaseEvent, trigger string) TriggerFiredEvent {
	return TriggerFiredEvent{BaseEvent: be, Trigger: trigger}
}

// ChatEvent mirrors an inbound game chat line so front ends can observe it.
type ChatEvent struct {
	BaseEvent
	Sender string
	Text   string
}

func Chat(be BaseEvent, sender, text string) ChatEvent {
	return ChatEvent{BaseEvent: be, Sender: sender, Text: text}
}

// AddressChangedEvent is emitted when the operator points the agent at a new
// server address.
type AddressChangedEvent struct {
	BaseEvent
	Host string
	Port int
}

func AddressChanged(be BaseEvent, host string, port int) AddressChangedEvent {
	return AddressChangedEvent{BaseEvent: be, Host: host, Port: port}
}

// TunnelEvent carries the public URL of the web console tunnel.
type TunnelEvent struct {
	BaseEvent
	URL string
}

func Tunnel(url string) TunnelEvent {
	return TunnelEvent{BaseEvent: Text("", "Web console tunnel: "+url), URL: url}
}
