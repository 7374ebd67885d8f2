package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"quickshare/internal/bus"
	"quickshare/internal/clock"
	"quickshare/internal/config"
	"quickshare/internal/logging"
	"quickshare/internal/realtime"
	"quickshare/internal/session"
	"quickshare/internal/watcher"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// mode is what the process does with its peer session once everything else
// is wired up. run blocks until the session is over.
type mode interface {
	run(ctx context.Context, peer *session.Peer) error
}

type listenMode struct{ port int }

func (m listenMode) run(ctx context.Context, peer *session.Peer) error {
	peer.StartServer(m.port)
	if status := peer.Status(); session.IsError(status) {
		return errors.New(status)
	}
	<-ctx.Done()
	return nil
}

type connectMode struct {
	address string
	port    int
}

func (m connectMode) run(ctx context.Context, peer *session.Peer) error {
	peer.ConnectToServer(ctx, m.address, m.port)
	if status := peer.Status(); session.IsError(status) && ctx.Err() == nil {
		return errors.New(status)
	}
	return nil
}

func run(parent context.Context, cfg *config.Config, m mode) error {
	log, err := logging.New(cfg.LogLevel, nil)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(parent)
	defer stop()

	clk := clock.New(clock.Config{
		Endpoint: cfg.TimeURL,
		Timeout:  cfg.TimeTimeout,
		Logger:   log,
	})

	peer := session.New(session.Options{
		Path:          cfg.Path,
		HistoryLimit:  cfg.HistoryLimit,
		DialTimeout:   cfg.DialTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		ShutdownGrace: cfg.ShutdownGrace,
		Clock:         clk,
		Logger:        log,
	})

	printed := make(chan struct{})
	go func() {
		printUpdates(os.Stdout, peer.Subscribe(session.TopicStatus, session.TopicReceived))
		close(printed)
	}()

	var ctl *control
	if cfg.ControlAddr != "" {
		ctl, err = startControl(ctx, cfg.ControlAddr, peer, log)
		if err != nil {
			peer.Dispose()
			return err
		}
	}

	var inbox *watcher.Watcher
	if cfg.ShareDir != "" {
		inbox = watcher.New(cfg.ShareDir, func(text string) { peer.SendMessage(ctx, text) }, log)
		if err := inbox.Start(); err != nil {
			log.WithError(err).Error("share dir unavailable")
			inbox = nil
		}
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stdout, "type a message and press Enter to send it, Ctrl+C to quit")
	}
	go readLines(os.Stdin, func(line string) { peer.SendMessage(ctx, line) })

	runErr := m.run(ctx, peer)

	log.Info("shutting down")
	if inbox != nil {
		inbox.Shutdown()
	}
	if ctl != nil {
		ctl.shutdown()
	}
	peer.Dispose()
	if ctl != nil {
		ctl.server.Wait()
	}
	<-printed

	return runErr
}

// readLines calls send for every non-empty line until r is exhausted.
func readLines(r io.Reader, send func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		send(line)
	}
}

// printUpdates writes status changes and received messages to out until the
// subscription closes.
func printUpdates(out io.Writer, sub bus.Subscription) {
	for raw := range sub {
		u, ok := raw.(session.Update)
		if !ok {
			continue
		}
		switch u.Topic {
		case session.TopicStatus:
			fmt.Fprintf(out, "* %s\n", u.Value)
		case session.TopicReceived:
			fmt.Fprintf(out, "< %s\n", u.Value)
		}
	}
}

// control is the local HTTP control surface and its listener.
type control struct {
	server *realtime.Server
	http   *http.Server
	cancel context.CancelFunc
	log    logrus.FieldLogger
}

func startControl(ctx context.Context, addr string, peer *session.Peer, log logrus.FieldLogger) (*control, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control listen on %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt := realtime.New(runCtx, peer, log)
	c := &control{
		server: rt,
		http: &http.Server{
			Handler:           rt.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		cancel: cancel,
		log:    log,
	}

	go rt.Run(runCtx)
	go func() {
		if err := c.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("control server failed")
		}
	}()

	log.WithField("addr", ln.Addr().String()).Info("control surface ready")
	return c, nil
}

func (c *control) shutdown() {
	c.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.http.Shutdown(ctx); err != nil {
		c.log.WithError(err).Warn("control server shutdown forced")
		c.http.Close()
	}
}
