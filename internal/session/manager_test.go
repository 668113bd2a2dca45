package session

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/carecard/internal/broadcast"
	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/model"
	"github.com/and161185/carecard/internal/storage"
	"github.com/and161185/carecard/internal/testutil"
)

// profile is one shared store and bus, the way tabs of one browser profile share them.
type profile struct {
	mem   *storage.Memory
	hub   *broadcast.Hub
	clock *testutil.Clock
}

func newProfile(t *testing.T) *profile {
	t.Helper()
	return &profile{
		mem:   storage.NewMemory(),
		hub:   broadcast.NewHub(zaptest.NewLogger(t)),
		clock: testutil.NewClock(time.Time{}),
	}
}

func (p *profile) tab(t *testing.T, origin string, activity ActivitySource) *Manager {
	t.Helper()
	m := New(storage.NewNotifying(p.mem, p.hub, origin), p.hub, Options{
		Origin:        origin,
		Activity:      activity,
		Now:           p.clock.Now,
		Logger:        zaptest.NewLogger(t),
		CheckInterval: time.Hour, // tests drive CheckIdle directly
	})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)
	return m
}

func TestIsValid_Boundary(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	at := func(idle time.Duration) model.Session {
		return model.Session{Role: model.RoleAdmin, Identity: "admin", LastActivity: now.Add(-idle)}
	}

	require.True(t, IsValid(at(0), now, DefaultIdleTimeout))
	require.True(t, IsValid(at(14*time.Minute+59*time.Second), now, DefaultIdleTimeout))
	require.True(t, IsValid(at(15*time.Minute), now, DefaultIdleTimeout), "exactly at the boundary is still valid")
	require.False(t, IsValid(at(15*time.Minute+time.Nanosecond), now, DefaultIdleTimeout))
	require.False(t, IsValid(at(16*time.Minute), now, DefaultIdleTimeout))
	require.False(t, IsValid(model.Session{}, now, DefaultIdleTimeout), "zero activity is never valid")
}

func TestLogin_PersistsAndBroadcasts(t *testing.T) {
	p := newProfile(t)
	var events []broadcast.SessionEvent
	p.hub.Subscribe(broadcast.TopicSession, func(m broadcast.Message) {
		events = append(events, m.Payload.(broadcast.SessionEvent))
	})
	a := p.tab(t, "A", nil)

	s, err := a.Login(model.RoleClinic, "CLINIC-01")
	require.NoError(t, err)
	require.Equal(t, p.clock.Now(), s.LoginTime)
	require.Equal(t, s.LoginTime, s.LastActivity)

	raw, err := p.mem.Get(KeySession)
	require.NoError(t, err)
	var stored model.Session
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	require.Equal(t, "CLINIC-01", stored.Identity)
	require.Equal(t, model.RoleClinic, stored.Role)

	act, err := p.mem.Get(KeyLastActivity)
	require.NoError(t, err)
	require.Equal(t, strconv.FormatInt(s.LastActivity.UnixMilli(), 10), act)

	require.Len(t, events, 1)
	require.Equal(t, broadcast.SessionLogin, events[0].Type)
	require.Equal(t, "CLINIC-01", events[0].Session.Identity)
}

func TestLogin_Validation(t *testing.T) {
	p := newProfile(t)
	a := p.tab(t, "A", nil)

	_, err := a.Login("patient", "x")
	require.ErrorIs(t, err, errs.ErrInvalidRole)

	_, err = a.Login(model.RoleAdmin, "  ")
	require.Error(t, err)
	require.False(t, a.IsAuthenticated())
}

func TestCrossTab_LoginPropagates(t *testing.T) {
	p := newProfile(t)
	a := p.tab(t, "A", nil)
	b := p.tab(t, "B", nil)

	require.False(t, b.IsAuthenticated())
	_, err := a.Login(model.RoleClinic, "CLINIC-01")
	require.NoError(t, err)

	got, ok := b.Current()
	require.True(t, ok, "tab B must be authenticated without a tick in between")
	require.Equal(t, "CLINIC-01", got.Identity)
	require.Equal(t, model.RoleClinic, got.Role)
}

func TestCrossTab_LogoutPropagates(t *testing.T) {
	p := newProfile(t)
	a := p.tab(t, "A", nil)
	b := p.tab(t, "B", nil)

	_, err := a.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)
	require.True(t, b.IsAuthenticated())

	require.NoError(t, a.Logout())
	require.False(t, a.IsAuthenticated())
	require.False(t, b.IsAuthenticated(), "tab B never called Logout but must follow")

	_, err = p.mem.Get(KeySession)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = p.mem.Get(KeyLastActivity)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCrossTab_ExternalKeyRemovalClearsSession(t *testing.T) {
	p := newProfile(t)
	a := p.tab(t, "A", nil)
	_, err := a.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)

	// another process deleted the key; the file watcher reports it without an origin
	require.NoError(t, p.mem.Remove(KeySession))
	p.hub.Publish(broadcast.Message{
		Topic:   broadcast.TopicStorage,
		Payload: broadcast.StorageEvent{Key: KeySession, Removed: true},
	})
	require.False(t, a.IsAuthenticated())
}

func TestCrossTab_CorruptedForeignWriteTreatedAsAbsent(t *testing.T) {
	p := newProfile(t)
	a := p.tab(t, "A", nil)
	_, err := a.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)

	p.hub.Publish(broadcast.Message{
		Topic:   broadcast.TopicStorage,
		Payload: broadcast.StorageEvent{Key: KeySession, NewValue: "{not json"},
	})
	require.False(t, a.IsAuthenticated())
}

func TestCrossTab_ActivityFromOtherTabIsAdopted(t *testing.T) {
	p := newProfile(t)
	a := p.tab(t, "A", nil)
	b := p.tab(t, "B", nil)
	_, err := a.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)

	now := p.clock.Advance(10 * time.Minute)
	a.UpdateActivity()

	got, ok := b.Current()
	require.True(t, ok)
	require.True(t, got.LastActivity.Equal(now))

	// tab B would otherwise consider the session idle 6 minutes later
	p.clock.Advance(6 * time.Minute)
	require.False(t, b.CheckIdle())
	require.True(t, b.IsAuthenticated())
}

func TestRestore_ValidSessionIsAdoptedAndTouched(t *testing.T) {
	p := newProfile(t)
	start := p.clock.Now()
	seed := model.Session{Role: model.RoleClinic, Identity: "CLINIC-02", LoginTime: start, LastActivity: start}
	b, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, p.mem.Set(KeySession, string(b)))

	now := p.clock.Advance(5 * time.Minute)
	m := p.tab(t, "A", nil)

	got, ok := m.Current()
	require.True(t, ok)
	require.Equal(t, "CLINIC-02", got.Identity)
	require.True(t, got.LastActivity.Equal(now), "restore must refresh activity immediately")

	act, err := p.mem.Get(KeyLastActivity)
	require.NoError(t, err)
	require.Equal(t, strconv.FormatInt(now.UnixMilli(), 10), act)
}

func TestRestore_LastActivityKeyExtendsSession(t *testing.T) {
	p := newProfile(t)
	start := p.clock.Now()
	seed := model.Session{Role: model.RoleAdmin, Identity: "admin", LoginTime: start, LastActivity: start}
	b, _ := json.Marshal(seed)
	require.NoError(t, p.mem.Set(KeySession, string(b)))
	require.NoError(t, p.mem.Set(KeyLastActivity, strconv.FormatInt(start.Add(10*time.Minute).UnixMilli(), 10)))

	p.clock.Advance(20 * time.Minute)
	m := p.tab(t, "A", nil)
	require.True(t, m.IsAuthenticated())
}

func TestRestore_ExpiredSessionIsPurged(t *testing.T) {
	p := newProfile(t)
	start := p.clock.Now()
	seed := model.Session{Role: model.RoleAdmin, Identity: "admin", LoginTime: start, LastActivity: start}
	b, _ := json.Marshal(seed)
	require.NoError(t, p.mem.Set(KeySession, string(b)))
	require.NoError(t, p.mem.Set(KeyLastActivity, strconv.FormatInt(start.UnixMilli(), 10)))

	p.clock.Advance(16 * time.Minute)
	m := p.tab(t, "A", nil)

	require.False(t, m.IsAuthenticated())
	_, err := p.mem.Get(KeySession)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = p.mem.Get(KeyLastActivity)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRestore_CorruptedSessionIsPurged(t *testing.T) {
	p := newProfile(t)
	require.NoError(t, p.mem.Set(KeySession, "%%%garbage"))
	require.NoError(t, p.mem.Set(KeyLastActivity, "123"))

	m := p.tab(t, "A", nil)

	require.False(t, m.IsAuthenticated())
	_, err := m.Require()
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)
	_, err = p.mem.Get(KeySession)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = p.mem.Get(KeyLastActivity)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateActivity_Throttled(t *testing.T) {
	p := newProfile(t)
	m := p.tab(t, "A", nil)
	s, err := m.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)

	p.clock.Advance(500 * time.Millisecond)
	m.UpdateActivity()
	got, _ := m.Current()
	require.True(t, got.LastActivity.Equal(s.LastActivity), "second update inside the window is dropped")

	now := p.clock.Advance(600 * time.Millisecond)
	m.UpdateActivity()
	got, _ = m.Current()
	require.True(t, got.LastActivity.Equal(now))
}

func TestUpdateActivity_NoSessionIsNoop(t *testing.T) {
	p := newProfile(t)
	m := p.tab(t, "A", nil)
	m.UpdateActivity()
	_, err := p.mem.Get(KeySession)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestIdleScenario_FreshLoginThenChecks(t *testing.T) {
	p := newProfile(t)
	a := p.tab(t, "A", nil)
	b := p.tab(t, "B", nil)

	_, err := a.Login(model.RoleClinic, "CLINIC-01")
	require.NoError(t, err)

	p.clock.Advance(61 * time.Second)
	require.False(t, a.CheckIdle())
	require.True(t, a.IsAuthenticated())

	p.clock.Set(p.clock.Now().Add(-61 * time.Second).Add(16 * time.Minute))
	require.True(t, a.CheckIdle())
	require.False(t, a.IsAuthenticated())
	require.False(t, b.IsAuthenticated(), "idle logout is broadcast like any other")
	_, err = p.mem.Get(KeySession)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestIdleLoop_LogsOutOnTicker(t *testing.T) {
	p := newProfile(t)
	m := New(storage.NewNotifying(p.mem, p.hub, "A"), p.hub, Options{
		Origin:        "A",
		Now:           p.clock.Now,
		CheckInterval: 5 * time.Millisecond,
		Logger:        zaptest.NewLogger(t),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	_, err := m.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)
	p.clock.Advance(20 * time.Minute)

	require.Eventually(t, func() bool { return !m.IsAuthenticated() }, time.Second, 5*time.Millisecond)
}

func TestActivityCapture_AttachedOnlyWhileAuthenticated(t *testing.T) {
	p := newProfile(t)
	feed := NewActivityFeed()
	m := p.tab(t, "A", feed)

	require.Equal(t, 0, feed.Attached())
	feed.Emit(InteractionKey) // ignored: nobody listening

	_, err := m.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)
	require.Equal(t, 1, feed.Attached())

	now := p.clock.Advance(2 * time.Minute)
	for _, k := range Interactions() {
		feed.Emit(k)
	}
	got, _ := m.Current()
	require.True(t, got.LastActivity.Equal(now))

	require.NoError(t, m.Logout())
	require.Equal(t, 0, feed.Attached())
}

func TestActivityCapture_DetachedOnCrossTabLogout(t *testing.T) {
	p := newProfile(t)
	feedB := NewActivityFeed()
	a := p.tab(t, "A", nil)
	p.tab(t, "B", feedB)

	_, err := a.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)
	require.Equal(t, 1, feedB.Attached())

	require.NoError(t, a.Logout())
	require.Equal(t, 0, feedB.Attached())
}

func TestOnChange_ReportsTransitions(t *testing.T) {
	p := newProfile(t)
	a := p.tab(t, "A", nil)
	b := p.tab(t, "B", nil)

	var mu sync.Mutex
	var states []State
	unsub := b.OnChange(func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	_, err := a.Login(model.RoleClinic, "CLINIC-01")
	require.NoError(t, err)
	p.clock.Advance(2 * time.Second)
	a.UpdateActivity() // same session, not a transition
	require.NoError(t, a.Logout())
	unsub()
	_, err = a.Login(model.RoleAdmin, "admin")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 2)
	require.True(t, states[0].Authenticated)
	require.Equal(t, "CLINIC-01", states[0].Session.Identity)
	require.False(t, states[1].Authenticated)
}

func TestStart_Lifecycle(t *testing.T) {
	p := newProfile(t)
	m := New(p.mem, p.hub, Options{})
	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Start(context.Background()))
	m.Close()
	m.Close()
	require.Equal(t, 0, p.hub.Subscribers(broadcast.TopicSession))

	m2 := New(p.mem, p.hub, Options{})
	m2.Close()
	require.ErrorIs(t, m2.Start(context.Background()), errs.ErrClosed)
}
