package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Elius94/users-session-manager/internal/clock"
)

const (
	// DefaultSessionTimeout is the idle lifetime of a session when none is configured.
	DefaultSessionTimeout = 3000 * time.Second
	// MinSessionTimeout is the smallest timeout SetSessionTimeout accepts.
	MinSessionTimeout = 2 * time.Second
)

var (
	// ErrSessionRejected is returned (and carried by EventError) when a key
	// does not map to a live session.
	ErrSessionRejected = errors.New("session rejected")
	// ErrInvalidTimeout is returned by SetSessionTimeout for values below
	// MinSessionTimeout.
	ErrInvalidTimeout = errors.New("invalid session timeout")
	// ErrKeyCollision is returned by StartSession if the KeyGenerator produced
	// a key that is already live.
	ErrKeyCollision = errors.New("generated session key already in use")
)

// KeyGenerator produces unique, hard-to-guess session identifiers.
type KeyGenerator interface {
	Generate() (string, error)
}

// NotificationSink is the transport-side handle that can push a logout to
// the client owning a session key. The registry never calls it directly; it
// hands the sink to EventNotifyClientToLogout observers.
type NotificationSink interface {
	SendLogout(ctx context.Context, key string) error
}

// Clock is the time source used to stamp sessions and schedule expiry.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled expiry.
type Timer = clock.Timer

// Details is the public view of a session.
type Details struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	// Data is nil until SetSessionData has been called for the session.
	Data json.RawMessage `json:"data,omitempty"`
}

// EventKind identifies a registry notification.
type EventKind string

const (
	EventSessionCreated       EventKind = "sessionCreated"
	EventSessionDeleted       EventKind = "sessionDeleted"
	EventError                EventKind = "error"
	EventNotifyClientToLogout EventKind = "notifyClientToLogout"
)

// Event is delivered to listeners registered with Registry.On.
type Event struct {
	Kind EventKind
	// Key is the session key the event concerns. For EventError it is the
	// rejected key.
	Key string
	// Err is set for EventError.
	Err error
	// Sink is set for EventNotifyClientToLogout.
	Sink NotificationSink
}

// Listener observes registry events. Listeners run on the goroutine that
// triggered the event and may call back into the registry.
type Listener func(Event)
