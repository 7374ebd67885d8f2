package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quickshare/internal/bus"
	"quickshare/internal/logging"
	"quickshare/internal/protocol"
	"quickshare/internal/session"

	"github.com/gorilla/websocket"
)

type fakePeer struct {
	mu       sync.Mutex
	status   string
	received string
	history  []string
	calls    []string
	bus      *bus.Bus
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		status:  session.StatusIdle,
		history: []string{session.DefaultHistoryHeader},
		bus:     bus.New(16, logging.Discard()),
	}
}

func (f *fakePeer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakePeer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePeer) StartServer(port int) { f.record("listen") }
func (f *fakePeer) ConnectToServer(ctx context.Context, address string, port int) {
	f.record("connect " + address)
}
func (f *fakePeer) SendMessage(ctx context.Context, text string) { f.record("send " + text) }
func (f *fakePeer) StopServer()                                   { f.record("stop") }

func (f *fakePeer) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePeer) ReceivedText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received
}

func (f *fakePeer) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.history...)
}

func (f *fakePeer) Role() session.Role { return session.RoleIdle }

func (f *fakePeer) Subscribe(topics ...session.Topic) bus.Subscription {
	return f.bus.Subscribe(string(session.TopicStatus), string(session.TopicReceived), string(session.TopicHistory))
}

func (f *fakePeer) Unsubscribe(sub bus.Subscription) { f.bus.Unsubscribe(sub) }

func newTestServer(t *testing.T) (*Server, *fakePeer) {
	t.Helper()
	peer := newFakePeer()
	srv := New(context.Background(), peer, logging.Discard())
	t.Cleanup(func() {
		srv.Wait()
		peer.bus.Close()
	})
	return srv, peer
}

func waitForCall(t *testing.T, peer *fakePeer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range peer.Calls() {
			if c == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("peer never saw %q, calls: %v", want, peer.Calls())
}

func dialObserver(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read message failed: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestServer_Status(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp statusResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != session.StatusIdle {
		t.Errorf("expected %q, got %q", session.StatusIdle, resp.Status)
	}
	if resp.Role != string(session.RoleIdle) {
		t.Errorf("expected role %s, got %s", session.RoleIdle, resp.Role)
	}
}

func TestServer_History(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/history", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var entries []string
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 || entries[0] != session.DefaultHistoryHeader {
		t.Errorf("expected header only, got %v", entries)
	}
}

func TestServer_ListenBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/listen", strings.NewReader("invalid json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_ListenPortOutOfRange(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/listen", strings.NewReader(`{"port":70000}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_Listen(t *testing.T) {
	srv, peer := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/listen", strings.NewReader(`{"port":8080}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}
	waitForCall(t, peer, "listen")
}

func TestServer_ConnectMissingAddress(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/connect", strings.NewReader(`{"port":8080}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_Connect(t *testing.T) {
	srv, peer := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/connect", strings.NewReader(`{"address":"10.0.0.5","port":8080}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}
	waitForCall(t, peer, "connect 10.0.0.5")
}

func TestServer_SendEmptyText(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/send", strings.NewReader(`{"text":""}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestServer_Send(t *testing.T) {
	srv, peer := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/send", strings.NewReader(`{"text":"hello"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", w.Code)
	}
	waitForCall(t, peer, "send hello")
}

func TestServer_Stop(t *testing.T) {
	srv, peer := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("POST", "/stop", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if calls := peer.Calls(); len(calls) != 1 || calls[0] != "stop" {
		t.Errorf("expected a synchronous stop, got %v", calls)
	}
}

func TestServer_WebSocketSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dialObserver(t, srv)

	want := []string{protocol.TypePeerStatus, protocol.TypePeerReceived, protocol.TypePeerHistory}
	for _, typ := range want {
		msg := readMessage(t, ws)
		if msg.Type != typ {
			t.Fatalf("expected %s, got %s", typ, msg.Type)
		}
	}
}

func TestServer_WebSocketCommand(t *testing.T) {
	srv, peer := newTestServer(t)
	ws := dialObserver(t, srv)

	msg := map[string]interface{}{
		"type":      protocol.TypePeerSend,
		"payload":   map[string]interface{}{"text": "from observer"},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, _ := json.Marshal(msg)
	ws.WriteMessage(websocket.TextMessage, data)

	waitForCall(t, peer, "send from observer")
}

func TestServer_WebSocketInvalidMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dialObserver(t, srv)

	// Drain the snapshot.
	for i := 0; i < 3; i++ {
		readMessage(t, ws)
	}

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))

	resp := readMessage(t, ws)
	if resp.Type != protocol.TypeError {
		t.Fatalf("expected error type, got %s", resp.Type)
	}
	var p protocol.ErrorPayload
	json.Unmarshal(resp.Payload, &p)
	if p.Code != protocol.ErrInvalidMessage {
		t.Errorf("expected code %s, got %s", protocol.ErrInvalidMessage, p.Code)
	}
}

func TestServer_RunBroadcastsUpdates(t *testing.T) {
	srv, peer := newTestServer(t)
	ws := dialObserver(t, srv)
	for i := 0; i < 3; i++ {
		readMessage(t, ws)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	got := make(chan protocol.Message, 1)
	go func() {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			close(got)
			return
		}
		var msg protocol.Message
		json.Unmarshal(data, &msg)
		got <- msg
	}()

	// Run subscribes asynchronously; publish until the observer sees it.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			peer.bus.Publish(string(session.TopicReceived), session.Update{Topic: session.TopicReceived, Value: "hi"})
		case msg, ok := <-got:
			if !ok {
				t.Fatal("observer never received the update")
			}
			if msg.Type != protocol.TypePeerReceived {
				t.Fatalf("expected %s, got %s", protocol.TypePeerReceived, msg.Type)
			}
			var p protocol.ReceivedPayload
			json.Unmarshal(msg.Payload, &p)
			if p.Text != "hi" {
				t.Errorf("expected text hi, got %q", p.Text)
			}
			return
		}
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("OPTIONS", "/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
}
