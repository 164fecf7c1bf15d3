// Package broker carries logout notifications from the process that owns the
// session registry to the transport connections serving each client. Messages
// are isolated per namespace (one namespace per session key) and delivered in
// publish order.
package broker

import (
	"context"
	"errors"
)

var (
	// ErrNamespaceClosed is returned when a namespace is cleaned up while a
	// publish or subscribe on it is in progress.
	ErrNamespaceClosed = errors.New("broker: namespace cleaned up")
	// ErrSubscriberLagged ends a subscription that fell too far behind the
	// publishers.
	ErrSubscriberLagged = errors.New("broker: subscriber lagged")
)

// Broker handles message queuing and delivery for logout notifications. It
// provides namespace-based message isolation and ordered delivery guarantees
// within each namespace.
type Broker interface {
	// Publish appends data to namespace and returns the generated event ID.
	Publish(ctx context.Context, namespace string, data []byte) (eventID string, err error)

	// Subscribe calls handler for each message in namespace until ctx is done,
	// the handler returns an error, or the namespace is cleaned up (nil).
	// If lastEventID is empty, delivery starts with the next published message;
	// otherwise it resumes after that ID.
	Subscribe(ctx context.Context, namespace string, lastEventID string, handler MessageHandler) error

	// Cleanup removes all resources associated with a namespace.
	Cleanup(ctx context.Context, namespace string) error
}

// MessageHandler processes one delivered message. Returning an error stops
// the subscription with that error.
type MessageHandler func(ctx context.Context, envelope MessageEnvelope) error

// MessageEnvelope wraps a message with metadata for ordered delivery.
type MessageEnvelope struct {
	// ID is a unique, monotonically increasing identifier within the namespace.
	ID string `json:"id"`
	// Data is the published payload.
	Data []byte `json:"data"`
}
