// Package syncstatus keeps the single, coarse sync indicator that every
// remote read and write reports into.
package syncstatus

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/carecard/internal/connectivity"
	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/storage"
)

// Persisted keys.
const (
	KeyLastSyncedAt = "carecard.lastSyncedAt"
	KeyStatus       = "carecard.syncStatus"
)

// Toucher re-reads every tracked collection, discarding the results.
type Toucher interface {
	Touch(ctx context.Context) error
}

// Options configure an Engine.
type Options struct {
	// Store persists lastSyncedAt and the last status; nil keeps them in memory only.
	Store  storage.Store
	Now    func() time.Time
	Logger *zap.Logger
}

// Engine is a four-state machine: synced, syncing, error, offline.
// It tracks one global status; concurrent operations race and the last
// reported transition wins. While offline every other report is ignored.
type Engine struct {
	toucher Toucher
	store   storage.Store
	now     func() time.Time
	log     *zap.Logger

	mu           sync.Mutex
	status       model.SyncStatus
	lastSyncedAt time.Time
	online       bool
	listeners    map[uint64]func(model.SyncState)
	nextID       uint64
	closed       bool

	bg sync.WaitGroup
}

// New returns an engine in the optimistic synced state, restoring lastSyncedAt
// from the store when present.
func New(toucher Toucher, opts Options) *Engine {
	e := &Engine{
		toucher:   toucher,
		store:     opts.Store,
		now:       opts.Now,
		log:       opts.Logger,
		status:    model.SyncSynced,
		online:    true,
		listeners: make(map[uint64]func(model.SyncState)),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.store != nil {
		if v, err := e.store.Get(KeyLastSyncedAt); err == nil {
			if ms, perr := strconv.ParseInt(strings.TrimSpace(v), 10, 64); perr == nil {
				e.lastSyncedAt = time.UnixMilli(ms)
			}
		}
	}
	return e
}

// State returns a snapshot.
func (e *Engine) State() model.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.SyncState{Status: e.status, LastSyncedAt: e.lastSyncedAt}
}

// Online reports the connectivity flag the engine last saw.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Begin reports that an operation is about to call the remote service.
func (e *Engine) Begin() { e.report(model.SyncSyncing, false) }

// Succeed reports a completed operation and stamps lastSyncedAt.
func (e *Engine) Succeed() { e.report(model.SyncSynced, true) }

// Fail reports a failed operation.
func (e *Engine) Fail() { e.report(model.SyncError, false) }

// Track wraps one remote operation: syncing before, synced or error after.
// The operation's error is returned unchanged; nothing is retried.
func (e *Engine) Track(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	e.Begin()
	start := e.now()
	err := fn(ctx)
	if err != nil {
		e.log.Warn("sync op failed", zap.String("op", op), zap.Error(err))
		e.Fail()
		return err
	}
	e.log.Debug("sync op", zap.String("op", op), zap.Duration("dur", e.now().Sub(start)))
	e.Succeed()
	return nil
}

// MarkObserved records that a remote change was observed at t.
func (e *Engine) MarkObserved(t time.Time) {
	e.mu.Lock()
	if !e.online || !t.After(e.lastSyncedAt) {
		e.mu.Unlock()
		return
	}
	e.lastSyncedAt = t
	st, fns := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(st)
	notify(fns, st)
}

// ForceSync re-reads every tracked collection. It ends synced or error, or
// returns errs.ErrOffline without contacting the remote while offline.
func (e *Engine) ForceSync(ctx context.Context) error {
	if !e.Online() {
		return errs.ErrOffline
	}
	return e.Track(ctx, "force-sync", e.toucher.Touch)
}

// SetOnline applies a connectivity edge. Going offline forces the offline
// state at once; coming back online runs ForceSync.
func (e *Engine) SetOnline(ctx context.Context, online bool) error {
	if !e.applyEdge(online) || !online {
		return nil
	}
	return e.ForceSync(ctx)
}

// applyEdge records the connectivity state and reports whether it changed.
// An offline edge is published immediately.
func (e *Engine) applyEdge(online bool) bool {
	e.mu.Lock()
	if e.online == online {
		e.mu.Unlock()
		return false
	}
	e.online = online
	if online {
		e.mu.Unlock()
		return true
	}
	e.status = model.SyncOffline
	st, fns := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(st)
	notify(fns, st)
	return true
}

// Attach subscribes the engine to m. The engine adopts m's current state.
// Edges are applied in callback order; only the ForceSync after an online
// edge runs in the background, bounded by ctx, and it reports nothing if
// connectivity drops again meanwhile.
func (e *Engine) Attach(ctx context.Context, m *connectivity.Monitor) (detach func()) {
	if !m.Online() {
		e.applyEdge(false)
	}
	return m.OnChange(func(online bool) {
		if !e.applyEdge(online) || !online {
			return
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.bg.Add(1)
		e.mu.Unlock()
		go func() {
			defer e.bg.Done()
			if err := e.ForceSync(ctx); err != nil && !errors.Is(err, errs.ErrOffline) {
				e.log.Warn("resync after reconnect", zap.Error(err))
			}
		}()
	})
}

// OnChange registers fn for every state change.
func (e *Engine) OnChange(fn func(model.SyncState)) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Close waits for background resyncs started by Attach.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.bg.Wait()
}

func (e *Engine) report(status model.SyncStatus, stamp bool) {
	e.mu.Lock()
	if !e.online {
		e.mu.Unlock()
		return
	}
	e.status = status
	if stamp {
		now := e.now()
		if now.After(e.lastSyncedAt) {
			e.lastSyncedAt = now
		}
	}
	st, fns := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(st)
	notify(fns, st)
}

func (e *Engine) snapshotLocked() (model.SyncState, []func(model.SyncState)) {
	fns := make([]func(model.SyncState), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	return model.SyncState{Status: e.status, LastSyncedAt: e.lastSyncedAt}, fns
}

func (e *Engine) persist(st model.SyncState) {
	if e.store == nil {
		return
	}
	if err := e.store.Set(KeyStatus, string(st.Status)); err != nil {
		e.log.Warn("persist sync status", zap.Error(err))
	}
	if st.LastSyncedAt.IsZero() {
		return
	}
	if err := e.store.Set(KeyLastSyncedAt, strconv.FormatInt(st.LastSyncedAt.UnixMilli(), 10)); err != nil {
		e.log.Warn("persist lastSyncedAt", zap.Error(err))
	}
}

func notify(fns []func(model.SyncState), st model.SyncState) {
	for _, fn := range fns {
		fn(st)
	}
}
