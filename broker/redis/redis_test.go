package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Elius94/users-session-manager/broker"
	"github.com/Elius94/users-session-manager/broker/brokertest"
	"github.com/redis/go-redis/v9"
)

func requireRedis(t *testing.T) {
	t.Helper()
	testClient := redis.NewClient(&redis.Options{Addr: defaultAddr})
	defer testClient.Close()
	if err := testClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
}

func TestRedisBroker(t *testing.T) {
	requireRedis(t)

	factory := func(t *testing.T) broker.Broker {
		b := New(Config{
			Client:    redis.NewClient(&redis.Options{Addr: defaultAddr}),
			KeyPrefix: "test:sessions:broker:",
		})
		t.Cleanup(func() { _ = b.Close() })
		return b
	}

	brokertest.RunBrokerTests(t, factory)
}

func TestConfigDefaults(t *testing.T) {
	b := New(Config{Client: redis.NewClient(&redis.Options{Addr: defaultAddr})})
	defer b.Close()
	if b.keyPrefix != defaultKeyPrefix {
		t.Fatalf("expected default prefix %q, got %q", defaultKeyPrefix, b.keyPrefix)
	}
	if b.ttl != defaultTTL {
		t.Fatalf("expected default ttl %v, got %v", defaultTTL, b.ttl)
	}
	if b.maxLen != defaultMaxLen {
		t.Fatalf("expected default maxLen %d, got %d", defaultMaxLen, b.maxLen)
	}
	if got := b.streamKey("abc"); got != defaultKeyPrefix+"stream:abc" {
		t.Fatalf("unexpected stream key %q", got)
	}
}

func TestPublishSetsStreamExpiry(t *testing.T) {
	requireRedis(t)
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: defaultAddr})
	b := New(Config{Client: client, KeyPrefix: "test:sessions:ttl:", TTL: time.Minute})
	defer b.Close()
	t.Cleanup(func() { _ = b.Cleanup(context.Background(), "logout:k1") })

	if _, err := b.Publish(ctx, "logout:k1", []byte("bye")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ttl, err := client.TTL(ctx, b.streamKey("logout:k1")).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected stream to expire within a minute, ttl=%v", ttl)
	}
}

func TestNewFromEnv(t *testing.T) {
	requireRedis(t)
	t.Setenv("REDIS_ADDR", defaultAddr)
	t.Setenv("SESSION_BROKER_PREFIX", "test:sessions:env:")
	t.Setenv("SESSION_BROKER_TTL", "90s")

	b, err := NewFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	defer b.Close()
	if b.keyPrefix != "test:sessions:env:" || b.ttl != 90*time.Second {
		t.Fatalf("environment not applied: prefix=%q ttl=%v", b.keyPrefix, b.ttl)
	}
}

func TestNewFromEnvUnreachable(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	b, err := NewFromEnv(ctx)
	if err == nil {
		_ = b.Close()
		t.Fatalf("expected error for unreachable server")
	}
	if !strings.Contains(err.Error(), "redis ping") {
		t.Fatalf("unexpected error %v", err)
	}
}
