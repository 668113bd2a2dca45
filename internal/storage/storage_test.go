package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/carecard/internal/broadcast"
	"github.com/and161185/carecard/internal/errs"
)

type recorder struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (r *recorder) handle(m broadcast.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) events() []broadcast.StorageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broadcast.StorageEvent, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Payload.(broadcast.StorageEvent))
	}
	return out
}

func TestMemory_GetSetRemove(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	_, err := m.Get("k")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, m.Set("k", "v"))
	v, err := m.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	require.NoError(t, m.Remove("k"))
	require.NoError(t, m.Remove("k"))
	_, err = m.Get("k")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNotifying_PublishesChanges(t *testing.T) {
	t.Parallel()

	hub := broadcast.NewHub(zaptest.NewLogger(t))
	rec := &recorder{}
	hub.Subscribe(broadcast.TopicStorage, rec.handle)

	n := NewNotifying(NewMemory(), hub, "tab-a")
	require.Equal(t, "tab-a", n.Origin())

	require.NoError(t, n.Set("k", "1"))
	require.NoError(t, n.Set("k", "1")) // unchanged -> silent
	require.NoError(t, n.Set("k", "2"))
	require.NoError(t, n.Remove("k"))
	require.NoError(t, n.Remove("k")) // missing -> silent

	require.Equal(t, []broadcast.StorageEvent{
		{Key: "k", NewValue: "1"},
		{Key: "k", OldValue: "1", NewValue: "2"},
		{Key: "k", OldValue: "2", Removed: true},
	}, rec.events())
	for _, m := range rec.msgs {
		require.Equal(t, "tab-a", m.Origin)
	}
}

func TestFile_GetSetRemove(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "profile")
	f, err := OpenFile(dir)
	require.NoError(t, err)

	_, err = f.Get("carecard.session")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, f.Set("carecard.session", `{"role":"admin"}`))
	v, err := f.Get("carecard.session")
	require.NoError(t, err)
	require.Equal(t, `{"role":"admin"}`, v)

	st, err := os.Stat(filepath.Join(dir, "carecard.session"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	require.NoError(t, f.Remove("carecard.session"))
	require.NoError(t, f.Remove("carecard.session"))
	_, err = f.Get("carecard.session")
	require.ErrorIs(t, err, errs.ErrNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp files must not be left behind")
}

func TestFile_RejectsBadKeys(t *testing.T) {
	t.Parallel()

	f, err := OpenFile(t.TempDir())
	require.NoError(t, err)
	for _, k := range []string{"", "../escape", "a/b", ".hidden"} {
		require.Error(t, f.Set(k, "x"), "key %q", k)
		_, err := f.Get(k)
		require.Error(t, err, "key %q", k)
	}
}

func TestWatcher_AnnouncesOnlyForeignWrites(t *testing.T) {
	dir := t.TempDir()
	self, err := OpenFile(dir)
	require.NoError(t, err)
	other, err := OpenFile(dir)
	require.NoError(t, err)

	hub := broadcast.NewHub(zaptest.NewLogger(t))
	rec := &recorder{}
	hub.Subscribe(broadcast.TopicStorage, rec.handle)

	w, err := NewWatcher(self, hub, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer func() { require.NoError(t, w.Stop()) }()

	require.NoError(t, self.Set("own", "1"))
	require.NoError(t, other.Set("foreign", "2"))

	require.Eventually(t, func() bool {
		for _, ev := range rec.events() {
			if ev.Key == "foreign" && ev.NewValue == "2" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, other.Remove("foreign"))
	require.Eventually(t, func() bool {
		for _, ev := range rec.events() {
			if ev.Key == "foreign" && ev.Removed {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	for _, ev := range rec.events() {
		require.NotEqual(t, "own", ev.Key, "own writes must not be re-announced")
	}
	rec.mu.Lock()
	for _, m := range rec.msgs {
		require.Empty(t, m.Origin)
	}
	rec.mu.Unlock()
}
