// Package memory provides an in-memory implementation of the broker.Broker
// interface using Go channels for message delivery. This implementation is
// suitable for single-process deployments and tests.
package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Elius94/users-session-manager/broker"
)

const (
	subscriberBuffer = 64
	// DefaultRetention is how long an idle namespace (no subscribers) keeps
	// its history before it is reclaimed.
	DefaultRetention = 10 * time.Minute
)

// Broker implements broker.Broker using in-memory channels and storage.
type Broker struct {
	mu           sync.Mutex
	namespaces   map[string]*namespace
	eventCounter atomic.Int64

	retention time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithRetention sets how long an idle namespace survives. Non-positive values
// are ignored.
func WithRetention(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.retention = d
		}
	}
}

// WithNow overrides the time source used for retention.
func WithNow(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// namespace represents an isolated message log with its subscribers
type namespace struct {
	mu          sync.Mutex
	messages    []broker.MessageEnvelope
	subscribers map[*subscription]struct{}
	closed      bool
	// lastActive is the last publish, subscribe or unsubscribe time.
	lastActive time.Time
}

type subscription struct {
	ch   chan broker.MessageEnvelope
	done chan struct{}
	// err is set before done is closed.
	err error
}

// New creates a new memory-based broker instance.
func New(opts ...Option) *Broker {
	b := &Broker{
		namespaces: make(map[string]*namespace),
		retention:  DefaultRetention,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.lastSweep = b.now()
	return b
}

// namespace returns the named namespace, creating it if needed. It also
// reclaims idle namespaces, at most once per half retention period.
func (b *Broker) namespace(name string) *namespace {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if now.Sub(b.lastSweep) >= b.retention/2 {
		b.sweepLocked(now)
	}
	ns, ok := b.namespaces[name]
	if !ok {
		ns = &namespace{subscribers: make(map[*subscription]struct{}), lastActive: now}
		b.namespaces[name] = ns
		return ns
	}
	// Touched under b.mu so a concurrent sweep cannot close it before the
	// caller uses it.
	ns.mu.Lock()
	ns.lastActive = now
	ns.mu.Unlock()
	return ns
}

// sweepLocked drops namespaces without subscribers that have been idle for
// longer than the retention period. Callers must hold b.mu.
func (b *Broker) sweepLocked(now time.Time) {
	b.lastSweep = now
	for name, ns := range b.namespaces {
		ns.mu.Lock()
		idle := len(ns.subscribers) == 0 && now.Sub(ns.lastActive) > b.retention
		if idle {
			ns.closed = true
			ns.messages = nil
		}
		ns.mu.Unlock()
		if idle {
			delete(b.namespaces, name)
		}
	}
}

// Publish implements broker.Broker.Publish
func (b *Broker) Publish(ctx context.Context, namespaceName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	envelope := broker.MessageEnvelope{
		ID:   strconv.FormatInt(b.eventCounter.Add(1), 10),
		Data: append([]byte(nil), data...),
	}

	ns := b.namespace(namespaceName)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.closed {
		return "", broker.ErrNamespaceClosed
	}
	ns.messages = append(ns.messages, envelope)
	ns.lastActive = b.now()

	for sub := range ns.subscribers {
		select {
		case sub.ch <- envelope:
		default:
			// Slow subscriber; it is cut off rather than block publishers.
			delete(ns.subscribers, sub)
			sub.err = broker.ErrSubscriberLagged
			close(sub.done)
		}
	}
	return envelope.ID, nil
}

// Subscribe implements broker.Broker.Subscribe
func (b *Broker) Subscribe(ctx context.Context, namespaceName string, lastEventID string, handler broker.MessageHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ns := b.namespace(namespaceName)
	sub := &subscription{
		ch:   make(chan broker.MessageEnvelope, subscriberBuffer),
		done: make(chan struct{}),
	}

	ns.mu.Lock()
	if ns.closed {
		ns.mu.Unlock()
		return broker.ErrNamespaceClosed
	}
	var replay []broker.MessageEnvelope
	if lastEventID != "" {
		for i, msg := range ns.messages {
			if msg.ID == lastEventID {
				replay = append(replay, ns.messages[i+1:]...)
				break
			}
		}
	}
	ns.subscribers[sub] = struct{}{}
	ns.lastActive = b.now()
	ns.mu.Unlock()

	defer func() {
		ns.mu.Lock()
		delete(ns.subscribers, sub)
		ns.lastActive = b.now()
		ns.mu.Unlock()
	}()

	for _, env := range replay {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(ctx, env); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-sub.ch:
			if err := handler(ctx, env); err != nil {
				return err
			}
		case <-sub.done:
			// Drain anything queued before the namespace closed.
			for {
				select {
				case env := <-sub.ch:
					if err := handler(ctx, env); err != nil {
						return err
					}
				default:
					return sub.err
				}
			}
		}
	}
}

// Cleanup implements broker.Broker.Cleanup
func (b *Broker) Cleanup(ctx context.Context, namespaceName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	ns, exists := b.namespaces[namespaceName]
	if exists {
		delete(b.namespaces, namespaceName)
	}
	b.mu.Unlock()
	if !exists {
		return nil
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.closed = true
	for sub := range ns.subscribers {
		close(sub.done)
	}
	ns.subscribers = make(map[*subscription]struct{})
	ns.messages = nil
	return nil
}

var _ broker.Broker = (*Broker)(nil)
