package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/and161185/carecard/internal/model"
)

// ChangeChannel is the NOTIFY channel the change triggers publish on.
const ChangeChannel = "carecard_changes"

// NotifyConn is the part of *pgx.Conn the listener needs.
type NotifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated connection for LISTEN.
type Dialer func(ctx context.Context) (NotifyConn, error)

// DialDSN returns a Dialer connecting to dsn with pgx.
func DialDSN(dsn string) Dialer {
	return func(ctx context.Context) (NotifyConn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// changePayload is the JSON the notify trigger sends.
type changePayload struct {
	Table string    `json:"table"`
	Op    string    `json:"op"`
	At    time.Time `json:"at"`
}

// ListenerOptions configure a Listener.
type ListenerOptions struct {
	// RetryDelay is the fixed pause before redialing after the connection drops.
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Listener multiplexes one LISTEN connection over per-collection subscribers.
// Notifications sent while it is reconnecting are lost.
type Listener struct {
	dial  Dialer
	retry time.Duration
	log   *zap.Logger

	mu       sync.Mutex
	handlers map[model.Collection]map[uint64]func(model.ChangeNotification)
	nextID   uint64

	ready     chan struct{}
	readyOnce sync.Once
}

// NewListener builds a listener; call Run to start receiving.
func NewListener(dial Dialer, opts ListenerOptions) *Listener {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Listener{
		dial:     dial,
		retry:    opts.RetryDelay,
		log:      opts.Logger,
		handlers: make(map[model.Collection]map[uint64]func(model.ChangeNotification)),
		ready:    make(chan struct{}),
	}
}

// Subscribe registers onChange for coll. Closing the returned handle unregisters it.
func (l *Listener) Subscribe(_ context.Context, coll model.Collection, onChange func(model.ChangeNotification)) (io.Closer, error) {
	if _, err := model.ParseCollection(string(coll)); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	if l.handlers[coll] == nil {
		l.handlers[coll] = make(map[uint64]func(model.ChangeNotification))
	}
	l.handlers[coll][id] = onChange
	return closerFunc(func() error {
		l.mu.Lock()
		delete(l.handlers[coll], id)
		l.mu.Unlock()
		return nil
	}), nil
}

// Ready is closed once the first LISTEN succeeded.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Run listens until ctx ends, redialing after every connection failure.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn("change stream dropped, reconnecting", zap.Error(err), zap.Duration("delay", l.retry))
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session holds one connection until it fails.
func (l *Listener) session(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(cctx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.readyOnce.Do(func() { close(l.ready) })
	l.log.Info("change stream listening", zap.String("channel", ChangeChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(n.Payload)
	}
}

func (l *Listener) dispatch(payload string) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		l.log.Warn("bad change payload", zap.String("payload", payload), zap.Error(err))
		return
	}
	coll, err := model.ParseCollection(p.Table)
	if err != nil {
		l.log.Debug("change on untracked table", zap.String("table", p.Table))
		return
	}

	l.mu.Lock()
	fns := make([]func(model.ChangeNotification), 0, len(l.handlers[coll]))
	for _, fn := range l.handlers[coll] {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	n := model.ChangeNotification{Collection: coll, OccurredAt: p.At}
	for _, fn := range fns {
		fn(n)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
