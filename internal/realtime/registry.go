// Package realtime forwards remote change notifications for the tracked
// collections to the sync engine and to per-collection invalidation callbacks.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/model"
)

// Subscription is an open change stream for one collection.
type Subscription = io.Closer

// Subscriber opens change streams. Reconnecting after a transport drop is the
// subscriber's job; missed notifications are not replayed.
type Subscriber interface {
	Subscribe(ctx context.Context, coll model.Collection, onChange func(model.ChangeNotification)) (Subscription, error)
}

// Recorder receives the instant a remote change was observed.
// It is implemented by *syncstatus.Engine.
type Recorder interface {
	MarkObserved(t time.Time)
}

// Options configure a Registry.
type Options struct {
	Now    func() time.Time
	Logger *zap.Logger
}

// Registry keeps one subscription per tracked collection. It never refetches
// data; callbacks only learn that their collection is stale.
type Registry struct {
	sub Subscriber
	rec Recorder
	now func() time.Time
	log *zap.Logger

	mu        sync.Mutex
	callbacks map[model.Collection]map[uint64]func(model.ChangeNotification)
	nextID    uint64
	subs      []Subscription
	started   bool
	closed    bool
}

// New builds a registry. rec may be nil.
func New(sub Subscriber, rec Recorder, opts Options) *Registry {
	r := &Registry{
		sub:       sub,
		rec:       rec,
		now:       opts.Now,
		log:       opts.Logger,
		callbacks: make(map[model.Collection]map[uint64]func(model.ChangeNotification)),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// OnInvalidate registers fn for changes to coll.
func (r *Registry) OnInvalidate(coll model.Collection, fn func(model.ChangeNotification)) (unregister func(), err error) {
	if _, err := model.ParseCollection(string(coll)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.callbacks[coll] == nil {
		r.callbacks[coll] = make(map[uint64]func(model.ChangeNotification))
	}
	r.callbacks[coll][id] = fn
	return func() {
		r.mu.Lock()
		delete(r.callbacks[coll], id)
		r.mu.Unlock()
	}, nil
}

// Start subscribes to every tracked collection. If any subscription fails the
// ones already opened are closed again.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return errs.ErrClosed
	case r.started:
		r.mu.Unlock()
		return errors.New("realtime: already started")
	}
	r.started = true
	r.mu.Unlock()

	opened := make([]Subscription, 0, len(model.Collections()))
	for _, coll := range model.Collections() {
		s, err := r.sub.Subscribe(ctx, coll, r.deliver)
		if err != nil {
			for _, o := range opened {
				_ = o.Close()
			}
			r.mu.Lock()
			r.started = false
			r.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", coll, err)
		}
		opened = append(opened, s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		for _, o := range opened {
			_ = o.Close()
		}
		return errs.ErrClosed
	}
	r.subs = opened
	r.log.Info("realtime channels open", zap.Int("collections", len(opened)))
	return nil
}

// Close releases every subscription. Notifications arriving afterwards are dropped.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	var errList []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (r *Registry) deliver(n model.ChangeNotification) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	fns := make([]func(model.ChangeNotification), 0, len(r.callbacks[n.Collection]))
	for _, fn := range r.callbacks[n.Collection] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	now := r.now()
	if n.OccurredAt.IsZero() {
		n.OccurredAt = now
	}
	if r.rec != nil {
		r.rec.MarkObserved(now)
	}
	r.log.Debug("remote change", zap.String("collection", string(n.Collection)))
	for _, fn := range fns {
		r.invoke(fn, n)
	}
}

func (r *Registry) invoke(fn func(model.ChangeNotification), n model.ChangeNotification) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("invalidation callback panic",
				zap.String("collection", string(n.Collection)), zap.Any("panic", p))
		}
	}()
	fn(n)
}
