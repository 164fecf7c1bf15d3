package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsSessionGroup(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := WithSessionData(context.Background(), &SessionData{Key: "k-1", Username: "luca"})
	ctx = WithOperation(ctx, "end")
	log.InfoContext(ctx, "session ended")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	sess, ok := rec["sess"].(map[string]any)
	if !ok {
		t.Fatalf("missing sess group: %v", rec)
	}
	if sess["key"] != "k-1" || sess["user"] != "luca" {
		t.Fatalf("unexpected sess group: %v", sess)
	}
	if rec["op"] != "end" {
		t.Fatalf("expected op=end, got %v", rec["op"])
	}
}

func TestHandlerWithoutContextData(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("component", "registry")
	log.Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	if _, ok := rec["sess"]; ok {
		t.Fatalf("unexpected sess group: %v", rec)
	}
	if rec["component"] != "registry" {
		t.Fatalf("WithAttrs lost through wrapper: %v", rec)
	}
}

func TestHandlerOmitsEmptyUsername(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})
	log.WarnContext(WithSessionData(context.Background(), &SessionData{Key: "bogus"}), "session rejected")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	sess := rec["sess"].(map[string]any)
	if _, ok := sess["user"]; ok {
		t.Fatalf("expected no user attr, got %v", sess)
	}
}
