package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	flag "github.com/spf13/pflag"

	"github.com/Elius94/users-session-manager/config"
	"github.com/Elius94/users-session-manager/keygen"
)

func TestVersionFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"--version"}, &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.String() != "sessionctl "+version+"\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestHelpFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"--help"}, &out, &errOut)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	for _, k := range []string{"SESSION_TIMEOUT", "SESSION_KEY_FORMAT", "LOG_LEVEL", "SESSION_BROKER", "REDIS_ADDR", "SESSION_BROKER_PREFIX", "SESSION_LOGOUT_NAMESPACE"} {
		t.Setenv(k, "")
	}
	var errOut bytes.Buffer
	o, fs, err := parseFlags([]string{"--timeout", "90", "-k", "uuid", "--log-level", "debug"}, &errOut)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := resolveConfig(o, fs)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.SessionTimeout != 90 || cfg.KeyFormat != keygen.FormatUUID || cfg.LogLevel != "debug" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.Broker != config.BrokerMemory {
		t.Fatalf("unset flag must keep default broker, got %q", cfg.Broker)
	}

	o, fs, _ = parseFlags([]string{"--timeout", "1"}, &errOut)
	if _, err := resolveConfig(o, fs); err == nil {
		t.Fatalf("expected invalid timeout to be rejected")
	}
	o, fs, _ = parseFlags([]string{"--broker", "carrier-pigeon"}, &errOut)
	if _, err := resolveConfig(o, fs); err == nil {
		t.Fatalf("expected unknown broker to be rejected")
	}
}
