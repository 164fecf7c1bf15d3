// Package redis provides a Redis Streams implementation of broker.Broker so
// logout notifications can reach transport processes other than the one
// owning the session registry.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Elius94/users-session-manager/broker"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const (
	defaultAddr      = "localhost:6379"
	defaultKeyPrefix = "sessions:broker:"
	defaultMaxLen    = 100
	defaultTTL       = time.Hour
	readBlock        = time.Second
)

// Broker is a Redis Streams-based implementation of the broker.Broker interface.
// Each namespace maps to one stream; delivery order is the stream order.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
	ttl       time.Duration
}

// Config contains configuration options for the Redis broker. Defaults can be
// loaded from the environment with NewFromEnv.
type Config struct {
	// Client is the Redis client to use. If nil, a client for Addr is created.
	Client redis.UniversalClient
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix is prepended to all Redis keys used by the broker. ENV: SESSION_BROKER_PREFIX
	KeyPrefix string `env:"SESSION_BROKER_PREFIX,default=sessions:broker:"`
	// MaxLen approximately bounds each stream. ENV: SESSION_BROKER_MAXLEN
	MaxLen int64 `env:"SESSION_BROKER_MAXLEN,default=100"`
	// TTL expires a stream once nothing has been published to it for this
	// long. ENV: SESSION_BROKER_TTL
	TTL time.Duration `env:"SESSION_BROKER_TTL,default=1h"`
}

// New creates a new Redis-based broker instance.
func New(config Config) *Broker {
	client := config.Client
	if client == nil {
		addr := config.Addr
		if addr == "" {
			addr = defaultAddr
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	maxLen := config.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Broker{client: client, keyPrefix: keyPrefix, maxLen: maxLen, ttl: ttl}
}

// NewFromEnv builds a Broker from environment configuration and verifies the
// server is reachable.
func NewFromEnv(ctx context.Context) (*Broker, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis broker config: %w", err)
	}
	b := New(cfg)
	if err := b.Ping(ctx); err != nil {
		_ = b.client.Close()
		return nil, err
	}
	return b, nil
}

// Ping verifies the Redis server is reachable.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Publish adds data to the namespace stream and returns the Redis stream ID.
func (b *Broker) Publish(ctx context.Context, namespace string, data []byte) (string, error) {
	streamKey := b.streamKey(namespace)

	var add *redis.StringCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		add = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey,
			MaxLen: b.maxLen,
			Approx: true,
			Values: map[string]any{"data": data},
		})
		pipe.Expire(ctx, streamKey, b.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish message to stream %s: %w", streamKey, err)
	}
	return add.Val(), nil
}

// Subscribe polls the namespace stream with blocking XREAD calls, invoking
// handler for each entry.
func (b *Broker) Subscribe(ctx context.Context, namespace string, lastEventID string, handler broker.MessageHandler) error {
	streamKey := b.streamKey(namespace)

	startID := "$"
	if lastEventID != "" {
		startID = lastEventID
	}
	// "$" must be resolved once; re-sending it on every poll would skip
	// entries added between reads.
	if startID == "$" {
		last, err := b.lastID(ctx, streamKey)
		if err != nil {
			return err
		}
		startID = last
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, startID},
			Count:   16,
			Block:   readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from stream %s: %w", streamKey, err)
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				startID = message.ID
				data, ok := message.Values["data"].(string)
				if !ok {
					// Skip malformed entries.
					continue
				}
				if err := handler(ctx, broker.MessageEnvelope{ID: message.ID, Data: []byte(data)}); err != nil {
					return err
				}
			}
		}
	}
}

// Cleanup removes all resources associated with a namespace.
func (b *Broker) Cleanup(ctx context.Context, namespace string) error {
	streamKey := b.streamKey(namespace)
	if err := b.client.Del(ctx, streamKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cleanup namespace %s: %w", namespace, err)
	}
	return nil
}

func (b *Broker) streamKey(namespace string) string {
	return b.keyPrefix + "stream:" + namespace
}

// lastID returns the ID of the newest entry in the stream, or "0-0" if the
// stream is empty or missing.
func (b *Broker) lastID(ctx context.Context, streamKey string) (string, error) {
	msgs, err := b.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to read stream tail %s: %w", streamKey, err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

var _ broker.Broker = (*Broker)(nil)
