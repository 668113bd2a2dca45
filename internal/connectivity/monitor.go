// Package connectivity tracks whether the remote service is reachable.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Prober checks reachability of the remote service once.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor exposes the current online flag and fires callbacks on each edge.
// It never retries anything itself.
type Monitor struct {
	log    *zap.Logger
	prober Prober

	mu        sync.Mutex
	online    bool
	listeners map[uint64]func(online bool)
	nextID    uint64
}

// NewMonitor returns a monitor starting in the given state. prober may be nil
// when the online signal is only driven through Set.
func NewMonitor(initial bool, prober Prober, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		log:       log,
		prober:    prober,
		online:    initial,
		listeners: make(map[uint64]func(bool)),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the runtime's online signal. Listeners run only on an edge,
// synchronously and outside the monitor's lock.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	if online {
		m.log.Info("network online")
	} else {
		m.log.Warn("network offline")
	}
	for _, fn := range fns {
		fn(online)
	}
}

// OnChange registers fn for transitions.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
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

// Probe runs the prober once and feeds the result into Set. Without a prober
// it only returns the current state.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	err := m.prober.Probe(ctx)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		// caller gave up; that says nothing about the network
		return m.Online()
	}
	if err != nil {
		m.log.Debug("reachability probe failed", zap.Error(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes every interval until ctx ends. Each probe is bounded by timeout.
func (m *Monitor) Run(ctx context.Context, interval, timeout time.Duration) {
	if m.prober == nil || interval <= 0 {
		<-ctx.Done()
		return
	}
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		m.Probe(pctx)
	}
	probe()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			probe()
		}
	}
}
