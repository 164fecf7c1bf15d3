// Package brokertest is a conformance suite for broker.Broker implementations.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Elius94/users-session-manager/broker"
)

// BrokerFactory is a function that creates a new broker instance for testing.
type BrokerFactory func(t *testing.T) broker.Broker

// RunBrokerTests runs the complete broker test suite against the provided factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("PublishAndSubscribeFromNext", func(t *testing.T) {
		testPublishAndSubscribeFromNext(t, factory)
	})
	t.Run("ResumeFromLastEventID", func(t *testing.T) {
		testResumeFromLastEventID(t, factory)
	})
	t.Run("MultipleSubscribersToSameNamespace", func(t *testing.T) {
		testMultipleSubscribers(t, factory)
	})
	t.Run("NamespaceIsolation", func(t *testing.T) {
		testNamespaceIsolation(t, factory)
	})
	t.Run("SubscriptionContextCancellation", func(t *testing.T) {
		testSubscriptionContextCancellation(t, factory)
	})
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) {
		testHandlerErrorStopsSubscription(t, factory)
	})
	t.Run("CleanupAllowsReuse", func(t *testing.T) {
		testCleanupAllowsReuse(t, factory)
	})
}

// uniqueNamespace keeps suites against shared backends (Redis) independent
// across runs.
func uniqueNamespace(t *testing.T, name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

type collector struct {
	mu   sync.Mutex
	envs []broker.MessageEnvelope
	got  chan struct{}
}

func newCollector() *collector { return &collector{got: make(chan struct{}, 64)} }

func (c *collector) handle(ctx context.Context, env broker.MessageEnvelope) error {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func (c *collector) waitFor(t *testing.T, n int) []broker.MessageEnvelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		c.mu.Lock()
		if len(c.envs) >= n {
			out := append([]broker.MessageEnvelope(nil), c.envs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

func subscribe(ctx context.Context, b broker.Broker, ns, last string, h broker.MessageHandler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, ns, last, h) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not complete within timeout")
		return nil
	}
}

func testPublishAndSubscribeFromNext(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "next")

	if _, err := b.Publish(ctx, ns, []byte("before")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	c := newCollector()
	done := subscribe(ctx, b, ns, "", c.handle)
	// Give subscription time to start
	time.Sleep(100 * time.Millisecond)

	id, err := b.Publish(ctx, ns, []byte(`{"type":"logout"}`))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty event ID")
	}

	envs := c.waitFor(t, 1)
	cancel()
	if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(envs) != 1 || envs[0].ID != id || string(envs[0].Data) != `{"type":"logout"}` {
		t.Fatalf("unexpected deliveries: %+v", envs)
	}
}

func testResumeFromLastEventID(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "resume")

	id1, err := b.Publish(ctx, ns, []byte("m1"))
	if err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	id2, err := b.Publish(ctx, ns, []byte("m2"))
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	id3, err := b.Publish(ctx, ns, []byte("m3"))
	if err != nil {
		t.Fatalf("publish 3: %v", err)
	}

	c := newCollector()
	done := subscribe(ctx, b, ns, id1, c.handle)
	envs := c.waitFor(t, 2)
	cancel()
	_ = waitDone(t, done)

	if envs[0].ID != id2 || envs[1].ID != id3 {
		t.Fatalf("expected %s,%s got %s,%s", id2, id3, envs[0].ID, envs[1].ID)
	}
	if string(envs[0].Data) != "m2" || string(envs[1].Data) != "m3" {
		t.Fatalf("unexpected payloads: %q %q", envs[0].Data, envs[1].Data)
	}
}

func testMultipleSubscribers(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "fanout")

	c1, c2 := newCollector(), newCollector()
	d1 := subscribe(ctx, b, ns, "", c1.handle)
	d2 := subscribe(ctx, b, ns, "", c2.handle)
	time.Sleep(100 * time.Millisecond)

	id, err := b.Publish(ctx, ns, []byte("logout"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	e1 := c1.waitFor(t, 1)
	e2 := c2.waitFor(t, 1)
	cancel()
	_ = waitDone(t, d1)
	_ = waitDone(t, d2)

	if e1[0].ID != id || e2[0].ID != id {
		t.Fatalf("expected both subscribers to see %s, got %s and %s", id, e1[0].ID, e2[0].ID)
	}
}

func testNamespaceIsolation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	nsA := uniqueNamespace(t, "iso-a")
	nsB := uniqueNamespace(t, "iso-b")

	cA := newCollector()
	dA := subscribe(ctx, b, nsA, "", cA.handle)
	time.Sleep(100 * time.Millisecond)

	if _, err := b.Publish(ctx, nsB, []byte("for-b")); err != nil {
		t.Fatalf("publish b: %v", err)
	}
	idA, err := b.Publish(ctx, nsA, []byte("for-a"))
	if err != nil {
		t.Fatalf("publish a: %v", err)
	}
	envs := cA.waitFor(t, 1)
	// Allow a stray cross-namespace delivery to show up before asserting.
	time.Sleep(100 * time.Millisecond)
	cancel()
	_ = waitDone(t, dA)

	cA.mu.Lock()
	defer cA.mu.Unlock()
	if len(cA.envs) != 1 || envs[0].ID != idA || string(envs[0].Data) != "for-a" {
		t.Fatalf("namespace leak: %+v", cA.envs)
	}
}

func testSubscriptionContextCancellation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	ns := uniqueNamespace(t, "cancel")

	done := subscribe(ctx, b, ns, "", func(ctx context.Context, env broker.MessageEnvelope) error { return nil })
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func testHandlerErrorStopsSubscription(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "handler-err")
	boom := errors.New("handler failed")

	done := subscribe(ctx, b, ns, "", func(ctx context.Context, env broker.MessageEnvelope) error { return boom })
	time.Sleep(100 * time.Millisecond)
	if _, err := b.Publish(ctx, ns, []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := waitDone(t, done); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func testCleanupAllowsReuse(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ns := uniqueNamespace(t, "cleanup")

	id1, err := b.Publish(ctx, ns, []byte("old"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Cleanup(ctx, ns); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	// Cleaning an unknown namespace is not an error.
	if err := b.Cleanup(ctx, uniqueNamespace(t, "never-used")); err != nil {
		t.Fatalf("cleanup unknown: %v", err)
	}

	c := newCollector()
	done := subscribe(ctx, b, ns, "", c.handle)
	time.Sleep(100 * time.Millisecond)
	id2, err := b.Publish(ctx, ns, []byte("new"))
	if err != nil {
		t.Fatalf("publish after cleanup: %v", err)
	}
	envs := c.waitFor(t, 1)
	cancel()
	_ = waitDone(t, done)

	if envs[0].ID != id2 || envs[0].ID == id1 || string(envs[0].Data) != "new" {
		t.Fatalf("unexpected delivery after cleanup: %+v", envs[0])
	}
}
