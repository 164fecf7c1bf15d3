package sessions_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Elius94/users-session-manager/internal/clock"
	"github.com/Elius94/users-session-manager/sessions"
	"github.com/Elius94/users-session-manager/sessions/sessionstest"
)

// leakyClock schedules on a manual clock but returns timers whose Stop never
// takes effect, simulating a timer that fires concurrently with cancellation.
type leakyClock struct {
	*clock.Manual
}

func (c leakyClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.Manual.AfterFunc(d, f)
	return unstoppable{}
}

type unstoppable struct{}

func (unstoppable) Stop() bool { return false }

func newLeakyRegistry(t *testing.T, opts ...sessions.Option) (*sessions.Registry, leakyClock, *sessionstest.Recorder, *sessionstest.Sink) {
	t.Helper()
	clk := leakyClock{clock.NewManual(epoch)}
	sink := &sessionstest.Sink{}
	base := []sessions.Option{
		sessions.WithClock(clk),
		sessions.WithKeyGenerator(&sessionstest.Sequence{Prefix: "leaky-"}),
		sessions.WithSessionTimeout(2 * time.Second),
		sessions.WithNotificationSink(sink),
	}
	r := sessions.New(append(base, opts...)...)
	rec, _ := sessionstest.Record(r)
	return r, clk, rec, sink
}

func TestExpiry_StaleTimerAfterEndSessionIsNoop(t *testing.T) {
	r, clk, rec, _ := newLeakyRegistry(t)
	key := mustStart(t, r, "Luca")

	if err := r.EndSession(key); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	clk.Advance(5 * time.Second)

	if n := rec.Count(sessions.EventSessionDeleted); n != 1 {
		t.Fatalf("expected exactly one sessionDeleted, got %d", n)
	}
	if n := rec.Count(sessions.EventNotifyClientToLogout); n != 0 {
		t.Fatalf("stale timer must not request a logout, got %d", n)
	}
}

func TestExpiry_StaleTimerAfterRenewIsNoop(t *testing.T) {
	r, clk, rec, _ := newLeakyRegistry(t)
	key := mustStart(t, r, "Franco")

	clk.Advance(time.Second)
	if err := r.RenewSessionTimer(key); err != nil {
		t.Fatalf("RenewSessionTimer: %v", err)
	}
	// The original timer fires at t=2s but the session was renewed until t=3s.
	clk.Advance(time.Second + 500*time.Millisecond)
	if !r.IsValidSession(key) {
		t.Fatalf("original timer removed a renewed session")
	}
	clk.Advance(time.Second)
	if r.Len() != 0 {
		t.Fatalf("expected renewed timer to expire the session")
	}
	if n := rec.Count(sessions.EventSessionDeleted); n != 1 {
		t.Fatalf("expected exactly one sessionDeleted, got %d", n)
	}
}

func TestExpiry_StaleTimerDoesNotTouchReusedKey(t *testing.T) {
	keys := []string{"same", "same"}
	var i int
	gen := sessionsKeyFunc(func() string { k := keys[i]; i++; return k })
	r, clk, rec, _ := newLeakyRegistry(t, sessions.WithKeyGenerator(gen))

	first := mustStart(t, r, "first")
	if err := r.EndSession(first); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	clk.Advance(time.Second)
	second := mustStart(t, r, "second")
	if first != second {
		t.Fatalf("test setup expects key reuse")
	}

	// First session's timer fires at t=2s; the second session lives until t=3s.
	clk.Advance(1500 * time.Millisecond)
	if u, err := r.Username(second); err != nil || u != "second" {
		t.Fatalf("stale timer removed a newer session under the same key: %q, %v", u, err)
	}
	if n := rec.Count(sessions.EventSessionDeleted); n != 1 {
		t.Fatalf("expected only the explicit deletion so far, got %d", n)
	}
}

type sessionsKeyFunc func() string

func (f sessionsKeyFunc) Generate() (string, error) { return f(), nil }

func TestExpiry_StaleTimerAfterClose(t *testing.T) {
	r, clk, rec, _ := newLeakyRegistry(t)
	mustStart(t, r, "a")
	rec.Reset()
	_ = r.Close()
	clk.Advance(time.Minute)
	if n := len(rec.Events()); n != 0 {
		t.Fatalf("expected no events after Close, got %d", n)
	}
}

func TestExpiry_ListenerSeesSessionGone(t *testing.T) {
	r, clk, _, _ := newLeakyRegistry(t)
	key := mustStart(t, r, "Ugo")

	var validAtNotify, validAtDelete = true, true
	r.On(sessions.EventNotifyClientToLogout, func(ev sessions.Event) {
		validAtNotify = r.Len() != 0
	})
	r.On(sessions.EventSessionDeleted, func(ev sessions.Event) {
		validAtDelete = r.Len() != 0
	})
	clk.Advance(2 * time.Second)
	if validAtNotify || validAtDelete {
		t.Fatalf("session %q still registered while expiry events were delivered", key)
	}
}

func TestConcurrentLifecycle(t *testing.T) {
	r := sessions.New(sessions.WithSessionTimeout(time.Hour))
	defer r.Close()

	var created, deleted sync.WaitGroup
	const workers = 16
	const perWorker = 50
	created.Add(workers * perWorker)
	deleted.Add(workers * perWorker)
	r.On(sessions.EventSessionCreated, func(sessions.Event) { created.Done() })
	r.On(sessions.EventSessionDeleted, func(sessions.Event) { deleted.Done() })

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key, err := r.StartSession(fmt.Sprintf("user-%d-%d", w, i))
				if err != nil {
					t.Errorf("StartSession: %v", err)
					return
				}
				_ = r.RenewSessionTimer(key)
				_ = r.SetSessionData(key, i)
				_ = r.LoggedUsers()
				if err := r.EndSession(key); err != nil {
					t.Errorf("EndSession: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()
	created.Wait()
	deleted.Wait()

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRealClockExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real timeout")
	}
	r := sessions.New(sessions.WithSessionTimeout(sessions.MinSessionTimeout))
	defer r.Close()

	gone := make(chan string, 1)
	r.On(sessions.EventSessionDeleted, func(ev sessions.Event) { gone <- ev.Key })

	key, err := r.StartSession("Ugo")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	select {
	case k := <-gone:
		if k != key {
			t.Fatalf("expected %q to expire, got %q", key, k)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not expire")
	}
	if r.IsValidSession(key) {
		t.Fatalf("expired session still valid")
	}
}
