package sessions

import "sync"

type listenerEntry struct {
	fn Listener
}

// eventBus fans registry events out to listeners registered per kind.
type eventBus struct {
	mu        sync.RWMutex
	listeners map[EventKind][]*listenerEntry
}

func newEventBus() *eventBus {
	return &eventBus{listeners: make(map[EventKind][]*listenerEntry)}
}

func (b *eventBus) add(kind EventKind, fn Listener) func() {
	entry := &listenerEntry{fn: fn}

	b.mu.Lock()
	b.listeners[kind] = append(b.listeners[kind], entry)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			cur := b.listeners[kind]
			for i, e := range cur {
				if e == entry {
					next := make([]*listenerEntry, 0, len(cur)-1)
					next = append(next, cur[:i]...)
					next = append(next, cur[i+1:]...)
					b.listeners[kind] = next
					return
				}
			}
		})
	}
}

// emit delivers ev to a snapshot of the listeners for its kind so listeners
// can register or remove others without deadlocking.
func (b *eventBus) emit(ev Event) {
	b.mu.RLock()
	snapshot := b.listeners[ev.Kind]
	b.mu.RUnlock()

	for _, e := range snapshot {
		e.fn(ev)
	}
}

// On registers fn for events of the given kind and returns a function that
// removes the registration. The returned function is safe to call more than
// once.
func (r *Registry) On(kind EventKind, fn Listener) (remove func()) {
	if fn == nil {
		return func() {}
	}
	return r.events.add(kind, fn)
}
