package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	closeDeadline = time.Second
	maxFrameBytes = 1 << 20
)

var errTransportClosed = errors.New("transport closed")

// transport is one live WebSocket connection to the peer, inbound or
// outbound. Reads happen on the receive loop only; writes are serialized by
// writeMu so each frame goes out whole.
type transport struct {
	id     string
	role   Role
	remote string
	conn   *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newTransport(conn *websocket.Conn, role Role, remote string) *transport {
	t := &transport{
		id:     uuid.New().String(),
		role:   role,
		remote: remote,
		conn:   conn,
		done:   make(chan struct{}),
	}

	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	return t
}

func (t *transport) read() (int, []byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err == nil {
		t.conn.SetReadDeadline(time.Now().Add(readDeadline))
	}
	return kind, data, err
}

// writeText sends one text frame. A cancelled ctx aborts before any byte is
// written; once the write starts it completes or fails as a whole.
func (t *transport) writeText(ctx context.Context, text string, timeout time.Duration) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return errTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.conn.SetWriteDeadline(time.Now().Add(timeout))
	return t.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// keepalive pings the peer until the transport closes.
func (t *transport) keepalive(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				return
			}
		}
	}
}

func (t *transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *transport) close() {
	t.closeWith(websocket.CloseNormalClosure, "")
}

// closeWith sends a close frame with code and reason, then drops the socket.
func (t *transport) closeWith(code int, reason string) {
	t.closeOnce.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeDeadline))
		_ = t.conn.Close()
	})
}
