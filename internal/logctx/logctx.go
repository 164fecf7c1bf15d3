// Package logctx decorates slog records with session attributes carried on
// the context, so registry log lines can be correlated per session without
// threading attributes through every call site.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		attrs := []any{slog.String("key", sd.Key)}
		if sd.Username != "" {
			attrs = append(attrs, slog.String("user", sd.Username))
		}
		r.AddAttrs(slog.Group("sess", attrs...))
	}

	if op, ok := ctx.Value(operationKey{}).(string); ok {
		r.AddAttrs(slog.String("op", op))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type sessionDataKey struct{}

type SessionData struct {
	Key      string
	Username string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type operationKey struct{}

// WithOperation tags log records with the registry operation that produced
// them (e.g. "end", "renew", "expire").
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}
