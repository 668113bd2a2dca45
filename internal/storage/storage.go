// Package storage provides the persisted key/value slots shared by every
// instance on one profile, plus change notification for those slots.
package storage

import (
	"errors"
	"sync"

	"github.com/and161185/carecard/internal/broadcast"
	"github.com/and161185/carecard/internal/errs"
)

// Store is a string key/value store.
type Store interface {
	// Get returns the value for key or errs.ErrNotFound.
	Get(key string) (string, error)
	// Set stores value under key.
	Set(key, value string) error
	// Remove deletes key; removing a missing key is not an error.
	Remove(key string) error
}

// Memory is an in-process Store. Several instances may share one Memory to
// simulate a single profile.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory { return &Memory{data: make(map[string]string)} }

// Get returns the value for key.
func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

// Set stores value.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Notifying wraps a Store and publishes a broadcast.StorageEvent, stamped with
// Origin, after every write that changes a value.
type Notifying struct {
	Store
	bus    broadcast.Bus
	origin string
}

// NewNotifying wraps s so that writes are announced on bus as coming from origin.
func NewNotifying(s Store, bus broadcast.Bus, origin string) *Notifying {
	return &Notifying{Store: s, bus: bus, origin: origin}
}

// Origin returns the instance id stamped on published events.
func (n *Notifying) Origin() string { return n.origin }

// Set stores value and announces the change. Rewriting an identical value is silent.
func (n *Notifying) Set(key, value string) error {
	old, existed, err := n.lookup(key)
	if err != nil {
		return err
	}
	if err := n.Store.Set(key, value); err != nil {
		return err
	}
	if existed && old == value {
		return nil
	}
	n.publish(broadcast.StorageEvent{Key: key, OldValue: old, NewValue: value})
	return nil
}

// Remove deletes key and announces the removal if the key existed.
func (n *Notifying) Remove(key string) error {
	old, existed, err := n.lookup(key)
	if err != nil {
		return err
	}
	if err := n.Store.Remove(key); err != nil {
		return err
	}
	if existed {
		n.publish(broadcast.StorageEvent{Key: key, OldValue: old, Removed: true})
	}
	return nil
}

func (n *Notifying) lookup(key string) (string, bool, error) {
	v, err := n.Store.Get(key)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, errs.ErrNotFound):
		return "", false, nil
	default:
		return "", false, err
	}
}

func (n *Notifying) publish(ev broadcast.StorageEvent) {
	n.bus.Publish(broadcast.Message{Topic: broadcast.TopicStorage, Origin: n.origin, Payload: ev})
}
