// Package watcher turns a directory into an outbox: every regular file
// dropped into it is sent as one message and then removed.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const (
	debounceInterval = 500 * time.Millisecond

	// MaxFileBytes bounds what is sent; larger files are left in place.
	MaxFileBytes = 64 << 10
)

// SendFunc delivers the content of one shared file.
type SendFunc func(text string)

// Watcher monitors a share directory and sends files written into it.
type Watcher struct {
	dir  string
	send SendFunc
	log  logrus.FieldLogger

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	pending   map[string]*time.Timer // path → debounce timer
	closed    bool
	cancel    chan struct{}
	inflight  sync.WaitGroup
}

// New creates a watcher for dir. Nothing happens until Start.
func New(dir string, send SendFunc, log logrus.FieldLogger) *Watcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{
		dir:     dir,
		send:    send,
		log:     log.WithFields(logrus.Fields{"component": "watcher", "dir": dir}),
		pending: make(map[string]*time.Timer),
		cancel:  make(chan struct{}),
	}
}

// Start begins watching and queues any files already in the directory.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("share dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("share dir %s is not a directory", w.dir)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsW.Add(w.dir); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.mu.Lock()
	w.fsWatcher = fsW
	w.mu.Unlock()

	go w.watchLoop(fsW)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.log.WithError(err).Warn("listing existing files failed")
		return nil
	}
	for _, entry := range entries {
		w.schedule(filepath.Join(w.dir, entry.Name()))
	}

	w.log.Info("watching share dir")
	return nil
}

// Shutdown stops watching and waits for any file being sent.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.cancel)
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	fsW := w.fsWatcher
	w.mu.Unlock()

	if fsW != nil {
		fsW.Close()
	}
	w.inflight.Wait()
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fsW *fsnotify.Watcher) {
	for {
		select {
		case <-w.cancel:
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(event.Name)
			}

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watcher error")
		}
	}
}

// schedule (re)starts the debounce timer for path, so a file is sent only
// once writes to it have settled.
func (w *Watcher) schedule(path string) {
	if isHidden(filepath.Base(path)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceInterval, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.inflight.Add(1)
		w.mu.Unlock()

		defer w.inflight.Done()
		w.process(path)
	})
}

// process sends one file and removes it.
func (w *Watcher) process(path string) {
	log := w.log.WithField("file", filepath.Base(path))

	info, err := os.Lstat(path)
	if err != nil {
		// Already consumed or removed by someone else.
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	if info.Size() > MaxFileBytes {
		log.WithField("size", info.Size()).Warn("file too large to share, leaving it")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Warn("read failed")
		return
	}

	if text := strings.TrimRight(string(data), "\r\n"); text != "" {
		log.Debug("sharing file")
		w.send(text)
	}

	if err := os.Remove(path); err != nil {
		log.WithError(err).Warn("remove failed")
	}
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
