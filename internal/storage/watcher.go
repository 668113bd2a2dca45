package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/and161185/carecard/internal/broadcast"
)

// Watcher turns writes made to a File profile by other processes into
// broadcast.StorageEvent messages with an empty Origin. Writes made through the
// same *File are not re-announced.
type Watcher struct {
	file *File
	bus  broadcast.Bus
	log  *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for f. It must be started with Start.
func NewWatcher(f *File, bus broadcast.Bus, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{file: f, bus: bus, log: log, watcher: w, done: make(chan struct{})}, nil
}

// Start begins watching the profile directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.file.prime(); err != nil {
		return fmt.Errorf("read profile dir: %w", err)
	}
	if err := w.watcher.Add(w.file.Dir()); err != nil {
		return fmt.Errorf("failed to watch profile dir %s: %w", w.file.Dir(), err)
	}
	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("profile watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	key := filepath.Base(ev.Name)
	if strings.HasPrefix(key, tmpPrefix) || !keyRe.MatchString(key) {
		return
	}
	c, ok := w.file.observe(key)
	if !ok {
		return
	}
	w.log.Debug("profile key changed externally",
		zap.String("key", c.key),
		zap.Bool("removed", c.removed),
	)
	w.bus.Publish(broadcast.Message{
		Topic: broadcast.TopicStorage,
		Payload: broadcast.StorageEvent{
			Key:      c.key,
			OldValue: c.old,
			NewValue: c.new,
			Removed:  c.removed,
		},
	})
}
