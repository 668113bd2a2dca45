package session

import "sync"

// Interaction is a kind of user input that counts as activity.
type Interaction string

const (
	InteractionPointer Interaction = "pointer"
	InteractionKey     Interaction = "key"
	InteractionScroll  Interaction = "scroll"
	InteractionTouch   Interaction = "touch"
)

// Interactions lists every interaction kind the manager listens for.
func Interactions() []Interaction {
	return []Interaction{InteractionPointer, InteractionKey, InteractionScroll, InteractionTouch}
}

// ActivitySource delivers user interactions to attached listeners.
type ActivitySource interface {
	// Attach registers fn and returns a function that detaches it.
	Attach(fn func(Interaction)) (detach func())
}

// ActivityFeed is an ActivitySource the embedding UI pushes interactions into.
type ActivityFeed struct {
	mu        sync.Mutex
	next      uint64
	listeners map[uint64]func(Interaction)
}

var _ ActivitySource = (*ActivityFeed)(nil)

// NewActivityFeed returns a feed with no listeners.
func NewActivityFeed() *ActivityFeed {
	return &ActivityFeed{listeners: make(map[uint64]func(Interaction))}
}

// Attach registers fn.
func (f *ActivityFeed) Attach(fn func(Interaction)) func() {
	f.mu.Lock()
	f.next++
	id := f.next
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Emit delivers kind to every attached listener.
func (f *ActivityFeed) Emit(kind Interaction) {
	f.mu.Lock()
	fns := make([]func(Interaction), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(kind)
	}
}

// Attached reports the number of attached listeners.
func (f *ActivityFeed) Attached() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}
