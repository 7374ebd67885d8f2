package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"quickshare/internal/bus"
	"quickshare/internal/protocol"
	"quickshare/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Control surface binds to localhost by default.
	},
}

// Peer is the part of the peer session the control surface drives.
type Peer interface {
	StartServer(port int)
	ConnectToServer(ctx context.Context, address string, port int)
	SendMessage(ctx context.Context, text string)
	StopServer()

	Status() string
	ReceivedText() string
	History() []string
	Role() session.Role

	Subscribe(topics ...session.Topic) bus.Subscription
	Unsubscribe(sub bus.Subscription)
}

// Server exposes a Peer over REST and an observer WebSocket. Observers get a
// snapshot on connect and every state change afterwards.
type Server struct {
	ctx  context.Context
	peer Peer
	log  logrus.FieldLogger

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// Background peer operations (connect, listen, send).
	ops sync.WaitGroup
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a control server. ctx bounds the background peer operations it
// starts, most importantly ConnectToServer, which runs until the connection
// ends.
func New(ctx context.Context, peer Peer, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		ctx:     ctx,
		peer:    peer,
		log:     log.WithField("component", "realtime"),
		clients: make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /history", s.handleHistory)
	mux.HandleFunc("POST /listen", s.handleListen)
	mux.HandleFunc("POST /connect", s.handleConnect)
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("POST /stop", s.handleStop)

	return corsMiddleware(mux)
}

// Run forwards peer updates to every observer until ctx is done or the
// peer's bus closes.
func (s *Server) Run(ctx context.Context) {
	sub := s.peer.Subscribe()
	defer s.peer.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				s.log.Debug("peer updates closed")
				return
			}
			u, ok := raw.(session.Update)
			if !ok {
				continue
			}
			if msg := s.updateMessage(u); msg != nil {
				s.broadcast(msg)
			}
		}
	}
}

// Wait blocks until background peer operations have returned.
func (s *Server) Wait() {
	s.ops.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("observer upgrade failed")
		return
	}

	c := &client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.log.WithFields(logrus.Fields{"client": c.id, "remote": r.RemoteAddr}).Info("observer connected")

	s.sendSnapshot(c)

	go c.writePump()
	go c.readPump()
}

// sendSnapshot queues the current state for a newly connected observer.
func (s *Server) sendSnapshot(c *client) {
	msgs := []*protocol.Message{
		s.statusMessage(s.peer.Status()),
		mustMessage(protocol.TypePeerReceived, protocol.ReceivedPayload{Text: s.peer.ReceivedText()}),
		mustMessage(protocol.TypePeerHistory, protocol.HistoryPayload{Entries: s.peer.History()}),
	}
	for _, msg := range msgs {
		c.enqueue(msg)
	}
}

func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.WithError(err).WithField("client", c.id).Warn("observer read failed")
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the message if the observer's buffer is full.
func (c *client) enqueue(msg *protocol.Message) {
	if msg == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if !s.clients[c] {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.clientsMu.Unlock()

	s.log.WithField("client", c.id).Info("observer disconnected")
}

// handleMessage executes a validated observer command.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	s.log.WithFields(logrus.Fields{"client": c.id, "type": msg.Type}).Debug("observer command")

	switch msg.Type {
	case protocol.TypePeerSend:
		var p protocol.SendPayload
		json.Unmarshal(msg.Payload, &p)
		s.send(p.Text)
	case protocol.TypePeerListen:
		var p protocol.ListenPayload
		json.Unmarshal(msg.Payload, &p)
		s.listen(p.Port)
	case protocol.TypePeerConnect:
		var p protocol.ConnectPayload
		json.Unmarshal(msg.Payload, &p)
		s.connect(p.Address, p.Port)
	case protocol.TypePeerStop:
		s.peer.StopServer()
	}
}

// The peer operations below return immediately; their outcome reaches
// observers as status updates.

func (s *Server) listen(port int) {
	s.background(func() { s.peer.StartServer(port) })
}

func (s *Server) connect(address string, port int) {
	s.background(func() { s.peer.ConnectToServer(s.ctx, address, port) })
}

func (s *Server) send(text string) {
	s.background(func() { s.peer.SendMessage(s.ctx, text) })
}

func (s *Server) background(op func()) {
	s.ops.Add(1)
	go func() {
		defer s.ops.Done()
		op()
	}()
}

func (s *Server) updateMessage(u session.Update) *protocol.Message {
	switch u.Topic {
	case session.TopicStatus:
		return s.statusMessage(u.Value)
	case session.TopicReceived:
		return mustMessage(protocol.TypePeerReceived, protocol.ReceivedPayload{Text: u.Value})
	case session.TopicHistory:
		return mustMessage(protocol.TypePeerHistory, protocol.HistoryPayload{Entries: u.History})
	}
	return nil
}

func (s *Server) statusMessage(status string) *protocol.Message {
	return mustMessage(protocol.TypePeerStatus, protocol.StatusPayload{
		Status: status,
		Role:   string(s.peer.Role()),
	})
}

// broadcast sends a message to all connected observers.
func (s *Server) broadcast(msg *protocol.Message) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		c.enqueue(msg)
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	c.enqueue(msg)
}

// mustMessage builds a message from a payload that always marshals.
func mustMessage(msgType string, payload interface{}) *protocol.Message {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return nil
	}
	return msg
}
