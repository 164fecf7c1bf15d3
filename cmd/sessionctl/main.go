// Command sessionctl is an interactive shell over an in-process session
// registry. It is useful for exercising timeouts, data payloads and logout
// delivery against a memory or Redis broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/Elius94/users-session-manager/broker"
	"github.com/Elius94/users-session-manager/broker/memory"
	"github.com/Elius94/users-session-manager/broker/redis"
	"github.com/Elius94/users-session-manager/config"
	"github.com/Elius94/users-session-manager/keygen"
	"github.com/Elius94/users-session-manager/notify"
	"github.com/Elius94/users-session-manager/sessions"
)

// version is overridable at link time:
//
//	go build -ldflags "-X main.version=1.2.0"
var version = "dev" //nolint:gochecknoglobals

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "sessionctl:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	timeout    string
	keyFormat  string
	broker     string
	redisAddr  string
	logLevel   string
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (options, *flag.FlagSet, error) {
	var o options
	fs := flag.NewFlagSet("sessionctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&o.configPath, "config", "c", "", "TOML config file (reloaded on change)")
	fs.StringVarP(&o.timeout, "timeout", "t", "", "Session idle timeout, seconds or duration")
	fs.StringVarP(&o.keyFormat, "key-format", "k", "", "Session key format: meaningful or uuid")
	fs.StringVar(&o.broker, "broker", "", "Logout broker: memory or redis")
	fs.StringVar(&o.redisAddr, "redis-addr", "", "Redis address for the redis broker")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return o, fs, err
	}
	return o, fs, nil
}

// resolveConfig loads the config file and environment, then applies any
// flags given explicitly on the command line.
func resolveConfig(o options, fs *flag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if fs.Changed("timeout") {
		d, err := config.ParseTimeout(o.timeout)
		if err != nil {
			return config.Config{}, fmt.Errorf("--timeout: %w", err)
		}
		cfg.SessionTimeout = int(d.Seconds())
	}
	if fs.Changed("key-format") {
		cfg.KeyFormat = o.keyFormat
	}
	if fs.Changed("broker") {
		cfg.Broker = o.broker
	}
	if fs.Changed("redis-addr") {
		cfg.RedisAddr = o.redisAddr
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	return cfg, cfg.Validate()
}

func newBroker(ctx context.Context, cfg config.Config) (broker.Broker, func() error, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		b := redis.New(redis.Config{Addr: cfg.RedisAddr, KeyPrefix: cfg.BrokerPrefix})
		if err := b.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return b, b.Close, nil
	default:
		return memory.New(), func() error { return nil }, nil
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, fs, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintf(stdout, "sessionctl %s\n", version)
		return nil
	}
	cfg, err := resolveConfig(o, fs)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	lvl, _ := config.ParseLogLevel(cfg.LogLevel)
	level.Set(lvl)
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	b, closeBroker, err := newBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	gen, err := keygen.ByName(cfg.KeyFormat)
	if err != nil {
		return err
	}
	sink := notify.NewBrokerSink(b, notify.WithNamespacePrefix(cfg.LogoutNamespace))
	reg := sessions.New(
		sessions.WithSessionTimeout(cfg.Timeout()),
		sessions.WithKeyGenerator(gen),
		sessions.WithNotificationSink(sink),
		sessions.WithLogger(log),
	)
	defer reg.Close()
	defer notify.Attach(reg, log)()

	if o.configPath != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			err := config.Watch(watchCtx, o.configPath, log, func(next config.Config) {
				if err := reg.SetSessionTimeout(next.Timeout()); err != nil {
					log.Warn("timeout not applied", slog.String("err", err.Error()))
				}
				if l, err := config.ParseLogLevel(next.LogLevel); err == nil {
					level.Set(l)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("config watch stopped", slog.String("err", err.Error()))
			}
		}()
	}

	sh := newShell(ctx, reg, sink, stdout)
	defer sh.close()
	return sh.loop()
}
