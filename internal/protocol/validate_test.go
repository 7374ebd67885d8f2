package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	payload := StatusPayload{
		Status: "listening on 10.0.0.2:8080",
		Role:   "server-listening",
	}

	msg, err := NewMessage(TypePeerStatus, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != TypePeerStatus {
		t.Errorf("expected type %s, got %s", TypePeerStatus, msg.Type)
	}

	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p StatusPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Status != "listening on 10.0.0.2:8080" {
		t.Errorf("expected status to survive, got %s", p.Status)
	}
}

func clientMessage(t *testing.T, msgType string, payload interface{}) []byte {
	t.Helper()
	msg := map[string]interface{}{
		"type":      msgType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		msg["payload"] = payload
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestValidateClientMessage_ValidSend(t *testing.T) {
	data := clientMessage(t, TypePeerSend, map[string]interface{}{"text": "hello"})

	result, err := ValidateClientMessage(data)
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if result.Type != TypePeerSend {
		t.Errorf("expected type %s, got %s", TypePeerSend, result.Type)
	}
}

func TestValidateClientMessage_ValidListen(t *testing.T) {
	data := clientMessage(t, TypePeerListen, map[string]interface{}{"port": 8080})

	if _, err := ValidateClientMessage(data); err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_ValidConnect(t *testing.T) {
	data := clientMessage(t, TypePeerConnect, map[string]interface{}{"address": "10.0.0.5", "port": 8080})

	if _, err := ValidateClientMessage(data); err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_StopWithoutPayload(t *testing.T) {
	data := clientMessage(t, TypePeerStop, nil)

	if _, err := ValidateClientMessage(data); err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
}

func TestValidateClientMessage_InvalidJSON(t *testing.T) {
	_, err := ValidateClientMessage([]byte("not json"))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidateClientMessage_MissingType(t *testing.T) {
	data := clientMessage(t, "", map[string]interface{}{})

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestValidateClientMessage_UnknownType(t *testing.T) {
	data := clientMessage(t, "unknown.action", map[string]interface{}{})

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestValidateClientMessage_MissingPayload(t *testing.T) {
	data := []byte(`{"type":"peer.send","timestamp":"2024-01-01T00:00:00.000Z"}`)

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestValidateClientMessage_EmptyText(t *testing.T) {
	data := clientMessage(t, TypePeerSend, map[string]interface{}{"text": ""})

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestValidateClientMessage_ListenPortOutOfRange(t *testing.T) {
	data := clientMessage(t, TypePeerListen, map[string]interface{}{"port": 70000})

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestValidateClientMessage_ConnectMissingAddress(t *testing.T) {
	data := clientMessage(t, TypePeerConnect, map[string]interface{}{"port": 8080})

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing address")
	}
}

func TestValidateClientMessage_ConnectMissingPort(t *testing.T) {
	data := clientMessage(t, TypePeerConnect, map[string]interface{}{"address": "10.0.0.5"})

	_, err := ValidateClientMessage(data)
	if err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestNewErrorMessage(t *testing.T) {
	msg, err := NewErrorMessage(ErrInvalidMessage, "bad frame")
	if err != nil {
		t.Fatalf("NewErrorMessage failed: %v", err)
	}
	if msg.Type != TypeError {
		t.Errorf("expected type %s, got %s", TypeError, msg.Type)
	}

	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != ErrInvalidMessage {
		t.Errorf("expected code %s, got %s", ErrInvalidMessage, p.Code)
	}
}
