package session

import "time"

// Role is the part the session currently plays for its transport.
type Role string

const (
	RoleIdle             Role = "uninitialized"
	RoleServerListening  Role = "server-listening"
	RoleServerConnected  Role = "server-connected"
	RoleClientConnecting Role = "client-connecting"
	RoleClientConnected  Role = "client-connected"
	RoleClosed           Role = "closed"
)

// Topic names one observable state slot.
type Topic string

const (
	TopicStatus   Topic = "status"
	TopicReceived Topic = "received"
	TopicHistory  Topic = "history"
)

// AllTopics lists every topic a Peer publishes.
var AllTopics = []Topic{TopicStatus, TopicReceived, TopicHistory}

// Update is published on the bus whenever a state slot changes.
type Update struct {
	Topic Topic `json:"topic"`
	// Value is the new status, the received text, or the newest history
	// entry, depending on Topic.
	Value string `json:"value"`
	// History is a full snapshot, set for TopicHistory only.
	History []string  `json:"history,omitempty"`
	At      time.Time `json:"at"`
}
