package protocol

import (
	"encoding/json"
	"fmt"
)

// validClientTypes is the set of allowed observer→server message types.
var validClientTypes = map[string]bool{
	TypePeerSend:    true,
	TypePeerListen:  true,
	TypePeerConnect: true,
	TypePeerStop:    true,
}

// ValidateClientMessage validates a raw JSON message from an observer.
// Returns the parsed Message and any validation error.
func ValidateClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("missing 'type' field")
	}

	if !validClientTypes[msg.Type] {
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	// peer.stop carries nothing.
	if msg.Type == TypePeerStop {
		return &msg, nil
	}

	if msg.Payload == nil {
		return nil, fmt.Errorf("missing 'payload' field")
	}

	switch msg.Type {
	case TypePeerSend:
		var p SendPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Text == "" {
			return nil, fmt.Errorf("missing required field 'text' in %s payload", msg.Type)
		}

	case TypePeerListen:
		var p ListenPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if err := ValidatePort(p.Port); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", msg.Type, err)
		}

	case TypePeerConnect:
		var p ConnectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", msg.Type, err)
		}
		if p.Address == "" {
			return nil, fmt.Errorf("missing required field 'address' in %s payload", msg.Type)
		}
		if p.Port == 0 {
			return nil, fmt.Errorf("missing required field 'port' in %s payload", msg.Type)
		}
		if err := ValidatePort(p.Port); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", msg.Type, err)
		}
	}

	return &msg, nil
}

// ValidatePort accepts 0 (any free port) through 65535.
func ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range 0-65535", port)
	}
	return nil
}

// NewErrorMessage creates an error message ready to send to an observer.
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}
