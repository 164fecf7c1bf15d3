package notify_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Elius94/users-session-manager/broker/memory"
	"github.com/Elius94/users-session-manager/internal/clock"
	"github.com/Elius94/users-session-manager/notify"
	"github.com/Elius94/users-session-manager/sessions"
	"github.com/Elius94/users-session-manager/sessions/sessionstest"
)

func awaitLogout(t *testing.T, ctx context.Context, sink *notify.BrokerSink, key string) (<-chan notify.LogoutMessage, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan notify.LogoutMessage, 4)
	go func() {
		_ = sink.Subscribe(ctx, key, func(ctx context.Context, m notify.LogoutMessage) error {
			out <- m
			return nil
		})
	}()
	// Give subscription time to start
	time.Sleep(50 * time.Millisecond)
	return out, cancel
}

func TestExpiryPushesLogoutThroughBroker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clk := clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	sink := notify.NewBrokerSink(memory.New(), notify.WithNow(clk.Now))
	reg := sessions.New(
		sessions.WithClock(clk),
		sessions.WithSessionTimeout(2*time.Second),
		sessions.WithNotificationSink(sink),
	)
	defer reg.Close()
	detach := notify.Attach(reg, nil)
	defer detach()

	key, err := reg.StartSession("Ugo")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	msgs, stop := awaitLogout(t, ctx, sink, key)
	defer stop()

	clk.Advance(2 * time.Second)

	select {
	case m := <-msgs:
		if m.Type != notify.MessageTypeLogout || m.SessionKey != key {
			t.Fatalf("unexpected logout message: %+v", m)
		}
		if !m.At.Equal(clk.Now()) {
			t.Fatalf("expected timestamp %v, got %v", clk.Now(), m.At)
		}
	case <-ctx.Done():
		t.Fatal("no logout message delivered")
	}
}

func TestDeleteAllSessionsPushesOnePerSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := notify.NewBrokerSink(memory.New(), notify.WithNamespacePrefix("bye:"))
	reg := sessions.New(sessions.WithNotificationSink(sink))
	defer reg.Close()
	defer notify.Attach(reg, nil)()

	a, _ := reg.StartSession("Luca")
	b, _ := reg.StartSession("Fabio")
	msgsA, stopA := awaitLogout(t, ctx, sink, a)
	defer stopA()
	msgsB, stopB := awaitLogout(t, ctx, sink, b)
	defer stopB()

	if !reg.DeleteAllSessions() {
		t.Fatalf("expected empty registry")
	}
	for key, ch := range map[string]<-chan notify.LogoutMessage{a: msgsA, b: msgsB} {
		select {
		case m := <-ch:
			if m.SessionKey != key {
				t.Fatalf("message for %q delivered to %q", m.SessionKey, key)
			}
		case <-ctx.Done():
			t.Fatalf("no logout delivered for %q", key)
		}
	}
	if got := sink.Namespace("k"); got != "bye:k" {
		t.Fatalf("unexpected namespace %q", got)
	}
}

func TestEndSessionAloneDoesNotPush(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := notify.NewBrokerSink(memory.New())
	reg := sessions.New(sessions.WithNotificationSink(sink))
	defer reg.Close()
	defer notify.Attach(reg, nil)()

	key, _ := reg.StartSession("Luca")
	msgs, stop := awaitLogout(t, ctx, sink, key)
	defer stop()

	if err := reg.EndSession(key); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	select {
	case m := <-msgs:
		t.Fatalf("explicit EndSession must not push a logout, got %+v", m)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestAttachLogsSinkFailures(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	sink := &sessionstest.Sink{Err: errors.New("socket gone")}
	reg := sessions.New(sessions.WithNotificationSink(sink))
	defer reg.Close()
	detach := notify.Attach(reg, log)

	reg.SendLogoutMessage("k-1")
	if keys := sink.Keys(); len(keys) != 1 || keys[0] != "k-1" {
		t.Fatalf("expected sink to be invoked for k-1, got %v", keys)
	}
	if !strings.Contains(buf.String(), "logout notification failed") || !strings.Contains(buf.String(), "socket gone") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}

	detach()
	reg.SendLogoutMessage("k-2")
	if keys := sink.Keys(); len(keys) != 1 {
		t.Fatalf("detached listener still forwarding: %v", keys)
	}
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	sink := notify.NewBrokerSink(b)
	if err := sink.SendLogout(ctx, "k"); err != nil {
		t.Fatalf("SendLogout: %v", err)
	}
	if err := sink.Release(ctx, "k"); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
