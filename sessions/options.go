package sessions

import (
	"log/slog"
	"time"

	"github.com/Elius94/users-session-manager/internal/logctx"
)

// Option configures a Registry.
type Option func(*Registry)

// WithSessionTimeout sets the initial session timeout. Values below
// MinSessionTimeout are ignored with a warning and the default is kept.
func WithSessionTimeout(d time.Duration) Option {
	return func(r *Registry) { r.requestedTimeout = d }
}

// WithKeyGenerator overrides the generator used to mint session keys.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(r *Registry) {
		if g != nil {
			r.keys = g
		}
	}
}

// WithNotificationSink installs the sink handed to logout observers.
func WithNotificationSink(sink NotificationSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger used by the registry. The logger's handler is
// wrapped so that per-session attributes are attached to each record.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = slog.New(logctx.Handler{Handler: l.Handler()})
		}
	}
}

// WithLogHandler is shorthand for WithLogger(slog.New(h)). If nil, logging is
// discarded.
func WithLogHandler(h slog.Handler) Option {
	return func(r *Registry) {
		if h != nil {
			r.log = slog.New(logctx.Handler{Handler: h})
		}
	}
}
