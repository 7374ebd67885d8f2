// Package session implements the peer session: one process that can listen
// for a single inbound peer or dial a known peer over WebSocket, exchange
// timestamped text frames, and publish its status, the last received text and
// a bounded history to observers.
//
// At most one peer transport is live at a time. Host-initiated role changes
// (StartServer, ConnectToServer) tear down whatever is active first; an
// unsolicited second inbound peer is rejected with close code 1013.
//
// No operation returns an error. Failures are reported through the status
// slot, and the session stays usable afterwards.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"quickshare/internal/bus"
	"quickshare/internal/clock"
	"quickshare/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultPath          = "/p2p"
	defaultHistoryLimit  = 10
	defaultDialTimeout   = 10 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultShutdownGrace = 500 * time.Millisecond
	busCapacity          = 64
	readHeaderTimeout    = 10 * time.Second
)

// Clock supplies message timestamps. Implementations must not fail.
type Clock interface {
	Now(ctx context.Context) string
}

type localClock struct{}

func (localClock) Now(context.Context) string { return clock.Local(time.Now()) }

// Options configures a Peer. Zero values select defaults, except for
// ShutdownGrace.
type Options struct {
	Path          string
	HistoryLimit  int
	HistoryHeader string
	DialTimeout   time.Duration
	WriteTimeout  time.Duration

	// ShutdownGrace bounds how long a stopping listener waits for in-flight
	// requests. Zero closes the listener immediately; a negative value
	// selects the default.
	ShutdownGrace time.Duration

	Clock  Clock
	Logger logrus.FieldLogger

	// LocalIP resolves the address shown in the listening status.
	LocalIP func() string
}

// Peer is the peer session. Create one with New and release it with Dispose.
type Peer struct {
	opts     Options
	log      logrus.FieldLogger
	clock    Clock
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
	bus      *bus.Bus
	history  *History

	status   atomic.Pointer[string]
	received atomic.Pointer[string]

	mu       sync.Mutex
	role     Role
	active   *transport
	server   *http.Server
	addr     net.Addr
	dialing  *dialAttempt
	disposed bool
}

// dialAttempt tracks an in-flight ConnectToServer handshake so a stop or a
// new role can abort it.
type dialAttempt struct {
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// New creates an idle Peer.
func New(opts Options) *Peer {
	if opts.Path == "" {
		opts.Path = defaultPath
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.HistoryHeader == "" {
		opts.HistoryHeader = DefaultHistoryHeader
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ShutdownGrace < 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	if opts.LocalIP == nil {
		opts.LocalIP = LocalIP
	}

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	clk := opts.Clock
	if clk == nil {
		clk = localClock{}
	}

	p := &Peer{
		opts:  opts,
		log:   log.WithField("component", "session"),
		clock: clk,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		},
		upgrader: websocket.Upgrader{
			// Peers are not browsers; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		bus:     bus.New(busCapacity, log),
		history: NewHistory(opts.HistoryHeader, opts.HistoryLimit),
		role:    RoleIdle,
	}
	idle, none := StatusIdle, ""
	p.status.Store(&idle)
	p.received.Store(&none)
	return p
}

// Status returns the current connection status text.
func (p *Peer) Status() string {
	return *p.status.Load()
}

// ReceivedText returns the payload of the most recently received message.
func (p *Peer) ReceivedText() string {
	return *p.received.Load()
}

// History returns a snapshot of the history log, header first.
func (p *Peer) History() []string {
	return p.history.Snapshot()
}

// Role returns the session's current role.
func (p *Peer) Role() Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.role
}

// ListenAddr returns the bound listener address, or "" when not listening.
func (p *Peer) ListenAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server == nil || p.addr == nil {
		return ""
	}
	return p.addr.String()
}

// ListenPort returns the bound listener port, or 0 when not listening.
func (p *Peer) ListenPort() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server == nil {
		return 0
	}
	if tcp, ok := p.addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Subscribe returns a channel of Updates for the given topics, or for all
// topics when none are given. Slow subscribers miss updates rather than
// stalling the session.
func (p *Peer) Subscribe(topics ...Topic) bus.Subscription {
	if len(topics) == 0 {
		topics = AllTopics
	}
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = string(t)
	}
	return p.bus.Subscribe(names...)
}

// Unsubscribe removes sub from every topic and closes it.
func (p *Peer) Unsubscribe(sub bus.Subscription) {
	p.bus.Unsubscribe(sub)
}

// StartServer listens on port (0 picks a free one) and accepts a single peer
// on the configured path. It returns once the bind has succeeded or failed;
// accepting runs in the background.
func (p *Peer) StartServer(port int) {
	if p.isDisposed() {
		p.log.Warn("start server ignored: session disposed")
		return
	}
	p.teardown()

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		p.log.WithError(err).WithField("port", port).Error("server start failed")
		p.setStatus(statusError("server start failed: %v", err))
		return
	}

	mux := http.NewServeMux()
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	mux.HandleFunc(p.opts.Path, func(w http.ResponseWriter, r *http.Request) {
		p.handlePeer(srv, w, r)
	})
	bound := ln.Addr().(*net.TCPAddr).Port

	p.mu.Lock()
	if p.disposed || p.server != nil || p.active != nil {
		p.mu.Unlock()
		ln.Close()
		p.log.Warn("start server lost a race with another role change")
		p.setStatus(statusError("server start failed: session busy"))
		return
	}
	p.server = srv
	p.addr = ln.Addr()
	p.role = RoleServerListening
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"port": bound, "path": p.opts.Path}).Info("listening for peer")
	p.setStatus(statusListening(p.opts.LocalIP(), bound))

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.WithError(err).Error("listener failed")
			p.setStatus(statusError("listener failed: %v", err))
		}
	}()
}

// handlePeer upgrades an inbound request that arrived on srv and runs the
// receive loop on the request's goroutine. Requests from a listener that is
// no longer the session's are rejected like a second peer.
func (p *Peer) handlePeer(srv *http.Server, w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("websocket upgrade failed")
		return
	}

	t := newTransport(conn, RoleServerConnected, r.RemoteAddr)

	p.mu.Lock()
	if p.disposed || p.server != srv || p.active != nil {
		p.mu.Unlock()
		p.log.WithField("remote", t.remote).Warn("rejecting peer: session busy")
		t.closeWith(websocket.CloseTryAgainLater, "peer session busy")
		return
	}
	p.active = t
	p.role = RoleServerConnected
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"transport": t.id, "remote": t.remote}).Info("peer connected")
	p.setStatus(statusPeerConnected(t.remote))
	p.receive(r.Context(), t)
}

// ConnectToServer dials the peer at address:port and, on success, runs the
// receive loop until the connection closes or ctx is cancelled. It blocks for
// that whole time.
func (p *Peer) ConnectToServer(ctx context.Context, address string, port int) {
	if p.isDisposed() {
		p.log.Warn("connect ignored: session disposed")
		return
	}
	p.teardown()

	target := net.JoinHostPort(address, strconv.Itoa(port))
	u := url.URL{Scheme: "ws", Host: target, Path: p.opts.Path}
	log := p.log.WithField("remote", target)

	dialCtx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout)
	defer cancel()
	attempt := &dialAttempt{cancel: cancel}

	p.mu.Lock()
	p.dialing = attempt
	p.role = RoleClientConnecting
	p.mu.Unlock()
	p.setStatus(statusConnecting(target))

	conn, err := p.dial(dialCtx, u.String())

	p.mu.Lock()
	if p.dialing == attempt {
		p.dialing = nil
	}
	if attempt.aborted.Load() || p.disposed {
		p.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		log.Debug("connect superseded")
		return
	}
	if err != nil {
		p.role = RoleClosed
		p.mu.Unlock()
		log.WithError(err).Warn("connect failed")
		p.setStatus(statusError("connect to %s failed: %v", target, err))
		return
	}

	t := newTransport(conn, RoleClientConnected, target)
	old := p.active
	p.active = t
	p.role = RoleClientConnected
	p.mu.Unlock()

	if old != nil {
		old.close()
	}

	log.WithField("transport", t.id).Info("connected to peer")
	p.setStatus(statusConnected(target))
	p.receive(ctx, t)
}

// dial runs the WebSocket handshake against rawURL. The underlying TCP
// connection is closed as soon as ctx ends, so a peer that accepts but never
// answers the handshake cannot hold a stop or a cancelled caller until the
// dial timeout.
func (p *Peer) dial(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	var (
		mu    sync.Mutex
		stops []func() bool
	)
	d := *p.dialer
	d.NetDialContext = func(netCtx context.Context, network, addr string) (net.Conn, error) {
		c, err := (&net.Dialer{}).DialContext(netCtx, network, addr)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		stops = append(stops, context.AfterFunc(ctx, func() { c.Close() }))
		mu.Unlock()
		return c, nil
	}

	conn, _, err := d.DialContext(ctx, rawURL, nil)

	mu.Lock()
	for _, stop := range stops {
		stop()
	}
	mu.Unlock()
	return conn, err
}

// receive decodes frames from t until it fails or closes.
func (p *Peer) receive(ctx context.Context, t *transport) {
	log := p.log.WithFields(logrus.Fields{"transport": t.id, "role": t.role, "remote": t.remote})

	stop := context.AfterFunc(ctx, t.close)
	defer stop()
	defer p.release(t)

	go t.keepalive(pingInterval, p.opts.WriteTimeout)

	for {
		kind, data, err := t.read()
		if err != nil {
			switch {
			case t.isClosed():
				log.Debug("transport closed locally")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.Info("peer closed the connection")
			default:
				log.WithError(err).Warn("connection lost")
				p.setStatus(statusError("connection lost: %v", err))
			}
			return
		}

		if kind != websocket.TextMessage {
			continue
		}

		frame, err := protocol.Decode(string(data))
		if err != nil {
			log.WithError(err).Warn("dropping connection on undecodable frame")
			p.setStatus(statusError("decode failed: %v", err))
			return
		}

		// History first, so a reader that sees the new text also sees its entry.
		p.appendHistory(fmt.Sprintf("Received at %s: %s", frame.Time, frame.Text))
		p.setReceived(frame.Text)
	}
}

// release closes t and, if it is still the session's transport, clears it
// and reports the closed state. A transport that was detached by a stop or a
// role change leaves the status to whoever detached it.
func (p *Peer) release(t *transport) {
	t.close()

	p.mu.Lock()
	owned := p.active == t
	if owned {
		p.active = nil
		if p.server != nil {
			p.role = RoleServerListening
		} else {
			p.role = RoleClosed
		}
	}
	p.mu.Unlock()

	if owned {
		p.setStatus(StatusClosed)
	}
}

// SendMessage timestamps text and writes it to the active transport. With no
// open transport it only sets an error status.
func (p *Peer) SendMessage(ctx context.Context, text string) {
	if p.isDisposed() {
		p.log.Warn("send ignored: session disposed")
		return
	}

	p.mu.Lock()
	t := p.active
	p.mu.Unlock()

	if t == nil || t.isClosed() {
		p.setStatus(StatusNoConnection)
		return
	}

	ts := p.clock.Now(ctx)
	if err := t.writeText(ctx, protocol.Encode(ts, text), p.opts.WriteTimeout); err != nil {
		p.log.WithError(err).WithField("transport", t.id).Warn("send failed")
		p.setStatus(statusError("send failed: %v", err))
		return
	}
	p.appendHistory(fmt.Sprintf("Sent at %s: %s", ts, text))
}

// StopServer closes the active transport and the listener, waiting up to the
// grace period for the listener before forcing it. With nothing active it
// does nothing.
func (p *Peer) StopServer() {
	srv, t, stopped := p.detach()
	if !stopped {
		return
	}

	p.mu.Lock()
	p.role = RoleClosed
	p.mu.Unlock()

	p.shutdown(srv, t)
	p.log.Info("server stopped")
	p.setStatus(StatusStopped)
}

// Dispose stops everything, releases client resources and closes all
// subscriptions. The Peer is unusable afterwards.
func (p *Peer) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()

	srv, t, stopped := p.detach()
	if stopped {
		p.shutdown(srv, t)
		p.setStatus(StatusStopped)
	}

	p.mu.Lock()
	p.role = RoleClosed
	p.mu.Unlock()

	if c, ok := p.clock.(interface{ Close() }); ok {
		c.Close()
	}
	p.bus.Close()
	p.log.Debug("session disposed")
}

// teardown enforces the single-transport rule before a new role starts.
func (p *Peer) teardown() {
	srv, t, stopped := p.detach()
	if !stopped {
		return
	}
	p.log.Info("closing current role before starting a new one")
	p.shutdown(srv, t)
}

// detach takes the listener, transport and any pending dial away from the
// session. It reports whether there was anything to stop.
func (p *Peer) detach() (*http.Server, *transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	srv, t, d := p.server, p.active, p.dialing
	p.server, p.active, p.dialing = nil, nil, nil
	p.addr = nil

	if d != nil {
		d.aborted.Store(true)
		d.cancel()
	}
	return srv, t, srv != nil || t != nil || d != nil
}

func (p *Peer) shutdown(srv *http.Server, t *transport) {
	if t != nil {
		t.close()
	}
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		p.log.WithError(err).Warn("graceful listener shutdown timed out, forcing")
		srv.Close()
	}
}

func (p *Peer) isDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

func (p *Peer) setStatus(s string) {
	p.status.Store(&s)
	p.bus.Publish(string(TopicStatus), Update{Topic: TopicStatus, Value: s, At: time.Now()})
}

func (p *Peer) setReceived(text string) {
	p.received.Store(&text)
	p.bus.Publish(string(TopicReceived), Update{Topic: TopicReceived, Value: text, At: time.Now()})
}

func (p *Peer) appendHistory(entry string) {
	snap := p.history.Append(entry)
	p.bus.Publish(string(TopicHistory), Update{Topic: TopicHistory, Value: entry, History: snap, At: time.Now()})
}
