// Package sessionstest provides helpers for testing code built on
// sessions.Registry: an event recorder, a deterministic key generator and a
// recording NotificationSink.
package sessionstest

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Elius94/users-session-manager/sessions"
)

// Recorder captures every event emitted by a registry, in order.
type Recorder struct {
	mu     sync.Mutex
	events []sessions.Event
}

// Record registers the recorder for all event kinds on r and returns a
// function that detaches it.
func Record(r *sessions.Registry) (*Recorder, func()) {
	rec := &Recorder{}
	kinds := []sessions.EventKind{
		sessions.EventSessionCreated,
		sessions.EventSessionDeleted,
		sessions.EventError,
		sessions.EventNotifyClientToLogout,
	}
	removes := make([]func(), 0, len(kinds))
	for _, k := range kinds {
		removes = append(removes, r.On(k, rec.add))
	}
	return rec, func() {
		for _, rm := range removes {
			rm()
		}
	}
}

func (rec *Recorder) add(ev sessions.Event) {
	rec.mu.Lock()
	rec.events = append(rec.events, ev)
	rec.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (rec *Recorder) Events() []sessions.Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]sessions.Event(nil), rec.events...)
}

// Of returns the recorded events of one kind.
func (rec *Recorder) Of(kind sessions.EventKind) []sessions.Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []sessions.Event
	for _, ev := range rec.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (rec *Recorder) Count(kind sessions.EventKind) int { return len(rec.Of(kind)) }

// Reset discards recorded events.
func (rec *Recorder) Reset() {
	rec.mu.Lock()
	rec.events = nil
	rec.mu.Unlock()
}

// Sequence generates keys "<prefix>1", "<prefix>2", ...
type Sequence struct {
	Prefix string
	n      atomic.Int64
}

func (s *Sequence) Generate() (string, error) {
	return s.Prefix + strconv.FormatInt(s.n.Add(1), 10), nil
}

// Sink is a NotificationSink that records the keys it was asked to log out.
type Sink struct {
	mu   sync.Mutex
	keys []string
	Err  error
}

func (s *Sink) SendLogout(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return s.Err
}

// Keys returns the keys passed to SendLogout, in order.
func (s *Sink) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

var (
	_ sessions.KeyGenerator     = (*Sequence)(nil)
	_ sessions.NotificationSink = (*Sink)(nil)
)
