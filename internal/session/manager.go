// Package session owns the authenticated session of one instance: login,
// logout, idle timeout and reconciliation with other instances on the same profile.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/carecard/internal/broadcast"
	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/storage"
)

// Persisted keys shared by every instance on a profile.
const (
	KeySession      = "carecard.session"
	KeyLastActivity = "carecard.lastActivity"
)

// Defaults.
const (
	DefaultIdleTimeout      = 15 * time.Minute
	DefaultCheckInterval    = 60 * time.Second
	DefaultActivityThrottle = time.Second
)

// Options tune a Manager. Zero values select the defaults.
type Options struct {
	IdleTimeout      time.Duration
	CheckInterval    time.Duration
	ActivityThrottle time.Duration
	// Origin identifies this instance on the bus; messages it published itself are ignored.
	Origin   string
	Activity ActivitySource
	Now      func() time.Time
	Logger   *zap.Logger
}

// State is what listeners observe on every authentication transition.
type State struct {
	Authenticated bool
	Session       model.Session
}

// Manager holds the session of one instance.
type Manager struct {
	store    storage.Store
	bus      broadcast.Bus
	origin   string
	activity ActivitySource
	now      func() time.Time
	log      *zap.Logger

	idleTimeout   time.Duration
	checkInterval time.Duration
	throttle      time.Duration

	mu        sync.Mutex
	current   *model.Session
	lastTick  time.Time
	listeners map[uint64]func(State)
	nextID    uint64
	unsubs    []func()
	started   bool
	closed    bool

	capMu  sync.Mutex
	detach func()

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Manager. Call Start to restore the persisted session and
// begin listening; call Close to release it.
func New(store storage.Store, bus broadcast.Bus, opts Options) *Manager {
	m := &Manager{
		store:         store,
		bus:           bus,
		origin:        opts.Origin,
		activity:      opts.Activity,
		now:           opts.Now,
		log:           opts.Logger,
		idleTimeout:   opts.IdleTimeout,
		checkInterval: opts.CheckInterval,
		throttle:      opts.ActivityThrottle,
		listeners:     make(map[uint64]func(State)),
		stop:          make(chan struct{}),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = DefaultIdleTimeout
	}
	if m.checkInterval <= 0 {
		m.checkInterval = DefaultCheckInterval
	}
	if m.throttle <= 0 {
		m.throttle = DefaultActivityThrottle
	}
	return m
}

// Start restores the persisted session, subscribes to cross-instance
// announcements and starts the idle check loop. The loop also stops when ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("session manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.restore()

	unsubSession := m.bus.Subscribe(broadcast.TopicSession, m.onSessionMessage)
	unsubStorage := m.bus.Subscribe(broadcast.TopicStorage, m.onStorageMessage)
	m.mu.Lock()
	m.unsubs = append(m.unsubs, unsubSession, unsubStorage)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.idleLoop(ctx)
	return nil
}

// Close stops the idle loop, unsubscribes and detaches activity capture.
// The persisted session is left untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	close(m.stop)
	for _, u := range unsubs {
		u()
	}
	m.wg.Wait()

	m.capMu.Lock()
	if m.detach != nil {
		m.detach()
		m.detach = nil
	}
	m.capMu.Unlock()
}

// Login creates a session, persists it and announces it to other instances.
func (m *Manager) Login(role model.Role, identity string) (model.Session, error) {
	if _, err := model.ParseRole(string(role)); err != nil {
		return model.Session{}, err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return model.Session{}, errors.New("validation: empty identity")
	}

	now := m.now()
	s := model.Session{Role: role, Identity: identity, LoginTime: now, LastActivity: now}

	m.mu.Lock()
	m.lastTick = now
	m.mu.Unlock()
	m.adopt(s)

	err := m.persist(s)
	m.bus.Publish(broadcast.Message{
		Topic:   broadcast.TopicSession,
		Origin:  m.origin,
		Payload: broadcast.SessionEvent{Type: broadcast.SessionLogin, Session: &s},
	})
	m.log.Info("login", zap.String("role", string(role)), zap.String("identity", identity))
	if err != nil {
		return s, fmt.Errorf("persist session: %w", err)
	}
	return s, nil
}

// Logout clears local state and both persisted keys, then announces the logout.
func (m *Manager) Logout() error {
	prev, _ := m.Current()
	m.clear()

	err := m.purge()
	m.bus.Publish(broadcast.Message{
		Topic:   broadcast.TopicSession,
		Origin:  m.origin,
		Payload: broadcast.SessionEvent{Type: broadcast.SessionLogout},
	})
	m.log.Info("logout", zap.String("identity", prev.Identity))
	return err
}

// UpdateActivity refreshes lastActivity at most once per throttle window.
func (m *Manager) UpdateActivity() {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return
	}
	now := m.now()
	if !m.lastTick.IsZero() && now.Sub(m.lastTick) < m.throttle {
		m.mu.Unlock()
		return
	}
	m.lastTick = now
	m.current.LastActivity = now
	s := *m.current
	m.mu.Unlock()

	if err := m.persist(s); err != nil {
		m.log.Warn("persist activity", zap.Error(err))
	}
}

// IsSessionValid reports whether s is still within the idle timeout.
// A session idle for exactly the timeout is still valid.
func (m *Manager) IsSessionValid(s model.Session) bool {
	return IsValid(s, m.now(), m.idleTimeout)
}

// IsValid is the pure validity rule: now - lastActivity <= timeout.
func IsValid(s model.Session, now time.Time, timeout time.Duration) bool {
	if s.LastActivity.IsZero() {
		return false
	}
	return now.Sub(s.LastActivity) <= timeout
}

// CheckIdle runs one idle check and logs out when the session expired.
// It reports whether a logout happened.
func (m *Manager) CheckIdle() bool {
	s, ok := m.Current()
	if !ok || m.IsSessionValid(s) {
		return false
	}
	m.log.Info("session idle timeout",
		zap.String("identity", s.Identity),
		zap.Duration("idle", m.now().Sub(s.LastActivity)),
	)
	if err := m.Logout(); err != nil {
		m.log.Warn("idle logout", zap.Error(err))
	}
	return true
}

// Current returns the in-memory session, if any.
func (m *Manager) Current() (model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return model.Session{}, false
	}
	return *m.current, true
}

// IsAuthenticated reports whether this instance holds a session.
func (m *Manager) IsAuthenticated() bool {
	_, ok := m.Current()
	return ok
}

// Require returns the current session or errs.ErrNotAuthenticated.
func (m *Manager) Require() (model.Session, error) {
	s, ok := m.Current()
	if !ok {
		return model.Session{}, errs.ErrNotAuthenticated
	}
	return s, nil
}

// OnChange registers fn for authentication transitions.
func (m *Manager) OnChange(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// ---- restore / persistence ----

func (m *Manager) restore() {
	s, err := m.load()
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			m.log.Warn("discarding persisted session", zap.Error(err))
		}
		if err := m.purge(); err != nil {
			m.log.Warn("purge session keys", zap.Error(err))
		}
		return
	}
	if !m.IsSessionValid(s) {
		m.log.Info("persisted session expired", zap.String("identity", s.Identity))
		if err := m.purge(); err != nil {
			m.log.Warn("purge session keys", zap.Error(err))
		}
		return
	}
	m.adopt(s)
	m.UpdateActivity()
}

// load reads the persisted session. The separate last-activity key wins when newer.
func (m *Manager) load() (model.Session, error) {
	raw, err := m.store.Get(KeySession)
	if err != nil {
		return model.Session{}, err
	}
	s, err := decodeSession(raw)
	if err != nil {
		return model.Session{}, err
	}
	if v, err := m.store.Get(KeyLastActivity); err == nil {
		if ms, perr := strconv.ParseInt(strings.TrimSpace(v), 10, 64); perr == nil {
			if t := time.UnixMilli(ms); t.After(s.LastActivity) {
				s.LastActivity = t
			}
		}
	}
	return s, nil
}

func decodeSession(raw string) (model.Session, error) {
	var s model.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.Session{}, fmt.Errorf("decode session: %w", err)
	}
	if _, err := model.ParseRole(string(s.Role)); err != nil {
		return model.Session{}, fmt.Errorf("decode session: %w", err)
	}
	if s.Identity == "" {
		return model.Session{}, errors.New("decode session: empty identity")
	}
	return s, nil
}

func (m *Manager) persist(s model.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := m.store.Set(KeySession, string(b)); err != nil {
		return err
	}
	return m.store.Set(KeyLastActivity, strconv.FormatInt(s.LastActivity.UnixMilli(), 10))
}

func (m *Manager) purge() error {
	return errors.Join(m.store.Remove(KeySession), m.store.Remove(KeyLastActivity))
}

// ---- local state transitions ----

func (m *Manager) adopt(s model.Session) {
	m.mu.Lock()
	prev := m.current
	cp := s
	m.current = &cp
	changed := prev == nil || prev.Identity != s.Identity || prev.Role != s.Role || !prev.LoginTime.Equal(s.LoginTime)
	fns := m.snapshotListeners()
	m.mu.Unlock()

	m.syncCapture()
	if changed {
		notify(fns, State{Authenticated: true, Session: s})
	}
}

func (m *Manager) clear() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.lastTick = time.Time{}
	fns := m.snapshotListeners()
	m.mu.Unlock()

	m.syncCapture()
	if prev != nil {
		notify(fns, State{})
	}
}

func (m *Manager) snapshotListeners() []func(State) {
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(State), st State) {
	for _, fn := range fns {
		fn(st)
	}
}

// syncCapture attaches activity capture while authenticated and detaches it otherwise.
func (m *Manager) syncCapture() {
	if m.activity == nil {
		return
	}
	m.capMu.Lock()
	defer m.capMu.Unlock()

	m.mu.Lock()
	authenticated := m.current != nil && !m.closed
	m.mu.Unlock()

	switch {
	case authenticated && m.detach == nil:
		m.detach = m.activity.Attach(func(Interaction) { m.UpdateActivity() })
	case !authenticated && m.detach != nil:
		m.detach()
		m.detach = nil
	}
}

// ---- cross-instance reconciliation ----

func (m *Manager) onSessionMessage(msg broadcast.Message) {
	if msg.Origin != "" && msg.Origin == m.origin {
		return
	}
	ev, ok := msg.Payload.(broadcast.SessionEvent)
	if !ok {
		return
	}
	switch ev.Type {
	case broadcast.SessionLogin:
		if ev.Session != nil && m.IsSessionValid(*ev.Session) {
			m.adopt(*ev.Session)
		}
	case broadcast.SessionLogout:
		m.clear()
	}
}

func (m *Manager) onStorageMessage(msg broadcast.Message) {
	if msg.Origin != "" && msg.Origin == m.origin {
		return
	}
	ev, ok := msg.Payload.(broadcast.StorageEvent)
	if !ok || ev.Key != KeySession {
		return
	}
	if ev.Removed {
		m.clear()
		return
	}
	s, err := decodeSession(ev.NewValue)
	if err != nil || !m.IsSessionValid(s) {
		m.clear()
		return
	}
	m.adopt(s)
}

func (m *Manager) idleLoop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.checkInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-t.C:
			m.CheckIdle()
		}
	}
}
