package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all control WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → observer message types.
const (
	TypePeerStatus   = "peer.status"
	TypePeerReceived = "peer.received"
	TypePeerHistory  = "peer.history"
	TypeError        = "error"
)

// Observer → server message types.
const (
	TypePeerSend    = "peer.send"
	TypePeerListen  = "peer.listen"
	TypePeerConnect = "peer.connect"
	TypePeerStop    = "peer.stop"
)

// ErrInvalidMessage is the error code sent for an unparseable or unknown
// observer message.
const ErrInvalidMessage = "INVALID_MESSAGE"

// Server → observer payloads.

type StatusPayload struct {
	Status string `json:"status"`
	Role   string `json:"role,omitempty"`
}

type ReceivedPayload struct {
	Text string `json:"text"`
}

type HistoryPayload struct {
	Entries []string `json:"entries"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Observer → server payloads.

type SendPayload struct {
	Text string `json:"text"`
}

type ListenPayload struct {
	Port int `json:"port"`
}

type ConnectPayload struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}
