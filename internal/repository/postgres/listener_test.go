package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/model"
)

type fakeConn struct {
	notes   chan string
	listens []string
	closed  atomic.Bool
}

var _ NotifyConn = (*fakeConn)(nil)

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.listens = append(c.listens, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p, ok := <-c.notes:
		if !ok {
			return nil, errors.New("connection lost")
		}
		return &pgconn.Notification{Channel: ChangeChannel, Payload: p}, nil
	}
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func TestListener_DispatchesPerCollection(t *testing.T) {
	conn := &fakeConn{notes: make(chan string, 4)}
	l := NewListener(func(context.Context) (NotifyConn, error) { return conn, nil },
		ListenerOptions{Logger: zaptest.NewLogger(t)})

	var mu sync.Mutex
	var got []model.ChangeNotification
	sub, err := l.Subscribe(context.Background(), model.CollectionAppointments, func(n model.ChangeNotification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	<-l.Ready()

	conn.notes <- `{"table":"cards","op":"INSERT","at":"2026-10-19T10:00:00Z"}`
	conn.notes <- `not json`
	conn.notes <- `{"table":"appointments","op":"UPDATE","at":"2026-10-19T10:00:01Z"}`

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)
	mu.Lock()
	require.Equal(t, model.CollectionAppointments, got[0].Collection)
	require.Equal(t, time.Date(2026, 10, 19, 10, 0, 1, 0, time.UTC), got[0].OccurredAt.UTC())
	mu.Unlock()

	require.NoError(t, sub.Close())
	conn.notes <- `{"table":"appointments","op":"DELETE"}`

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	mu.Lock()
	require.Len(t, got, 1)
	mu.Unlock()
	require.Equal(t, []string{"LISTEN " + ChangeChannel}, conn.listens)
	require.True(t, conn.closed.Load())
}

func TestListener_RedialsAfterFailure(t *testing.T) {
	var dials atomic.Int32
	second := &fakeConn{notes: make(chan string, 1)}
	dial := func(context.Context) (NotifyConn, error) {
		switch dials.Add(1) {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			c := &fakeConn{notes: make(chan string)}
			close(c.notes)
			return c, nil
		default:
			return second, nil
		}
	}
	l := NewListener(dial, ListenerOptions{RetryDelay: time.Millisecond, Logger: zaptest.NewLogger(t)})

	var hits atomic.Int32
	_, err := l.Subscribe(context.Background(), model.CollectionPerks, func(model.ChangeNotification) { hits.Add(1) })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	second.notes <- `{"table":"perks","op":"INSERT"}`
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	require.GreaterOrEqual(t, dials.Load(), int32(3))
}

func TestListener_SubscribeUnknownCollection(t *testing.T) {
	l := NewListener(nil, ListenerOptions{})
	_, err := l.Subscribe(context.Background(), "invoices", func(model.ChangeNotification) {})
	require.ErrorIs(t, err, errs.ErrUnknownCollection)
}
