// Package broadcast is the single message-passing seam between instances that
// share a profile. It carries session announcements and storage mutations.
package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/carecard/internal/model"
)

// Topic names a message stream.
type Topic string

const (
	// TopicSession carries SessionEvent payloads.
	TopicSession Topic = "session"
	// TopicStorage carries StorageEvent payloads.
	TopicStorage Topic = "storage"
)

// SessionEventType distinguishes login from logout announcements.
type SessionEventType string

const (
	SessionLogin  SessionEventType = "login"
	SessionLogout SessionEventType = "logout"
)

// SessionEvent announces a login (with the session) or a logout (Session nil).
type SessionEvent struct {
	Type    SessionEventType
	Session *model.Session
}

// StorageEvent reports a mutation of a persisted key. Removed is set when the key was deleted.
type StorageEvent struct {
	Key      string
	OldValue string
	NewValue string
	Removed  bool
}

// Message is one published payload. Origin identifies the publishing instance;
// it is empty for mutations observed from outside the process.
type Message struct {
	Topic   Topic
	Origin  string
	Payload any
}

// Handler receives messages for a subscribed topic.
type Handler func(Message)

// Bus publishes messages to topic subscribers.
type Bus interface {
	// Publish delivers msg to every current subscriber of msg.Topic.
	Publish(msg Message)
	// Subscribe registers h for topic and returns a function that removes it.
	Subscribe(topic Topic, h Handler) (unsubscribe func())
}

type subscription struct {
	id uint64
	h  Handler
}

// Hub is an in-process Bus. Delivery is synchronous, in subscription order, and
// a panicking handler is logged and skipped.
type Hub struct {
	log *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
}

var _ Bus = (*Hub)(nil)

// NewHub constructs an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, subs: make(map[Topic][]subscription)}
}

// Publish delivers msg to a snapshot of the topic's subscribers.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	subs := append([]subscription(nil), h.subs[msg.Topic]...)
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, msg)
	}
}

func (h *Hub) deliver(s subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("broadcast handler panic",
				zap.String("topic", string(msg.Topic)),
				zap.String("origin", msg.Origin),
				zap.Any("reason", r),
			)
		}
	}()
	s.h(msg)
}

// Subscribe registers handler for topic.
func (h *Hub) Subscribe(topic Topic, handler Handler) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[topic] = append(h.subs[topic], subscription{id: id, h: handler})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(topic, id) })
	}
}

func (h *Hub) remove(topic Topic, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[topic]
	for i, s := range subs {
		if s.id == id {
			h.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Subscribers reports how many handlers are registered for topic.
func (h *Hub) Subscribers(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
