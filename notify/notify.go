// Package notify delivers logout pushes for sessions ended by a
// sessions.Registry. BrokerSink publishes a LogoutMessage into a per-session
// broker namespace; the transport connection serving that session subscribes
// to the namespace and closes the client when the message arrives.
//
// Wiring:
//
//	b := memory.New()
//	sink := notify.NewBrokerSink(b)
//	reg := sessions.New(sessions.WithNotificationSink(sink))
//	detach := notify.Attach(reg, logger)
//	defer detach()
//
//	// per client connection:
//	go sink.Subscribe(ctx, key, func(ctx context.Context, m notify.LogoutMessage) error {
//		return conn.Close()
//	})
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Elius94/users-session-manager/broker"
	"github.com/Elius94/users-session-manager/sessions"
)

const (
	// MessageTypeLogout is the Type of every LogoutMessage.
	MessageTypeLogout = "logout"

	defaultNamespacePrefix = "logout:"
	defaultSendTimeout     = 5 * time.Second
)

// LogoutMessage is the payload published for a client that must log out.
type LogoutMessage struct {
	Type       string    `json:"type"`
	SessionKey string    `json:"session_key"`
	At         time.Time `json:"at"`
}

// BrokerSink implements sessions.NotificationSink on top of a broker.Broker.
type BrokerSink struct {
	broker broker.Broker
	prefix string
	now    func() time.Time
}

// SinkOption configures a BrokerSink.
type SinkOption func(*BrokerSink)

// WithNamespacePrefix overrides the namespace prefix (default "logout:").
func WithNamespacePrefix(prefix string) SinkOption {
	return func(s *BrokerSink) { s.prefix = prefix }
}

// WithNow overrides the timestamp source for LogoutMessage.At.
func WithNow(now func() time.Time) SinkOption {
	return func(s *BrokerSink) {
		if now != nil {
			s.now = now
		}
	}
}

// NewBrokerSink returns a sink publishing logout messages through b.
func NewBrokerSink(b broker.Broker, opts ...SinkOption) *BrokerSink {
	s := &BrokerSink{broker: b, prefix: defaultNamespacePrefix, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Namespace returns the broker namespace used for key.
func (s *BrokerSink) Namespace(key string) string { return s.prefix + key }

// SendLogout publishes a LogoutMessage for key.
func (s *BrokerSink) SendLogout(ctx context.Context, key string) error {
	data, err := json.Marshal(LogoutMessage{Type: MessageTypeLogout, SessionKey: key, At: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode logout message: %w", err)
	}
	if _, err := s.broker.Publish(ctx, s.Namespace(key), data); err != nil {
		return fmt.Errorf("publish logout for session: %w", err)
	}
	return nil
}

// Subscribe blocks, calling fn for each logout message addressed to key,
// until ctx is done or fn returns an error. Messages that do not decode as a
// LogoutMessage are skipped.
func (s *BrokerSink) Subscribe(ctx context.Context, key string, fn func(ctx context.Context, msg LogoutMessage) error) error {
	return s.broker.Subscribe(ctx, s.Namespace(key), "", func(ctx context.Context, env broker.MessageEnvelope) error {
		var msg LogoutMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil || msg.Type != MessageTypeLogout {
			return nil
		}
		return fn(ctx, msg)
	})
}

// Release drops the broker resources held for key once its client is gone.
func (s *BrokerSink) Release(ctx context.Context, key string) error {
	return s.broker.Cleanup(ctx, s.Namespace(key))
}

// Attach registers a listener on reg that forwards every logout request to
// the sink carried by the event. Delivery failures are logged, never
// propagated to the registry. The returned function detaches the listener.
func Attach(reg *sessions.Registry, log *slog.Logger) (detach func()) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return reg.On(sessions.EventNotifyClientToLogout, func(ev sessions.Event) {
		if ev.Sink == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		defer cancel()
		if err := ev.Sink.SendLogout(ctx, ev.Key); err != nil {
			log.Warn("logout notification failed", slog.String("key", ev.Key), slog.String("err", err.Error()))
			return
		}
		log.Debug("logout notification sent", slog.String("key", ev.Key))
	})
}

var _ sessions.NotificationSink = (*BrokerSink)(nil)
