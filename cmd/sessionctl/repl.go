package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/peterh/liner"

	"github.com/Elius94/users-session-manager/config"
	"github.com/Elius94/users-session-manager/notify"
	"github.com/Elius94/users-session-manager/sessions"
)

const prompt = "sessions> "

var commands = []string{ //nolint:gochecknoglobals
	"login", "logout", "logout-all", "whoami", "renew", "set-data",
	"get-data", "details", "users", "timeout", "help", "quit",
}

const helpText = `commands:
  login <user>             start a session and print its key
  logout <key>             end a session without notifying the client
  logout-all               end every session and push logout to each client
  whoami <key>             print the user owning a session
  renew <key>              restart a session's idle timer
  set-data <key> <json>    attach a JSON payload to a session
  get-data <key>           print a session's payload
  details <key>            print a session's details
  users                    list logged-in users
  timeout [seconds]        show or change the idle timeout
  help                     show this help
  quit                     leave the shell
`

var errLoggedOut = errors.New("logged out")

type shell struct {
	ctx  context.Context
	reg  *sessions.Registry
	sink *notify.BrokerSink

	mu       sync.Mutex
	out      io.Writer
	watchers map[string]context.CancelFunc

	wg     sync.WaitGroup
	detach []func()
}

func newShell(ctx context.Context, reg *sessions.Registry, sink *notify.BrokerSink, out io.Writer) *shell {
	sh := &shell{ctx: ctx, reg: reg, sink: sink, out: out, watchers: make(map[string]context.CancelFunc)}
	sh.detach = append(sh.detach,
		reg.On(sessions.EventSessionCreated, func(ev sessions.Event) { sh.printf("* created %s\n", ev.Key) }),
		reg.On(sessions.EventSessionDeleted, func(ev sessions.Event) { sh.printf("* deleted %s\n", ev.Key) }),
		reg.On(sessions.EventError, func(ev sessions.Event) { sh.printf("* error %s: %v\n", ev.Key, ev.Err) }),
	)
	return sh
}

func (sh *shell) printf(format string, args ...any) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fmt.Fprintf(sh.out, format, args...)
}

// loop reads commands from the terminal until quit, EOF or Ctrl-C.
func (sh *shell) loop() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, in) {
				out = append(out, c)
			}
		}
		return out
	})

	sh.printf("sessionctl: type help for commands\n")
	for {
		if sh.ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)
		if sh.execute(input) {
			return nil
		}
	}
}

// execute runs one command line and reports whether the shell should exit.
func (sh *shell) execute(input string) (quit bool) {
	cmd, key, rest := splitCommand(input)
	needKey := func() bool {
		if key == "" {
			sh.printf("usage: %s <key>\n", cmd)
			return false
		}
		return true
	}

	switch cmd {
	case "":
	case "help":
		sh.printf("%s", helpText)
	case "quit", "exit":
		return true
	case "login":
		if key == "" {
			sh.printf("usage: login <user>\n")
			return false
		}
		k, err := sh.reg.StartSession(key)
		if err != nil {
			sh.printf("login failed: %v\n", err)
			return false
		}
		sh.watchLogout(k)
		sh.printf("%s\n", k)
	case "logout":
		if !needKey() {
			return false
		}
		if err := sh.reg.EndSession(key); err != nil {
			sh.printf("logout failed: %v\n", err)
			return false
		}
		sh.stopWatching(key)
		sh.printf("ok\n")
	case "logout-all":
		if sh.reg.DeleteAllSessions() {
			sh.printf("ok\n")
		} else {
			sh.printf("some sessions could not be removed\n")
		}
	case "whoami":
		if !needKey() {
			return false
		}
		if user, err := sh.reg.Username(key); err != nil {
			sh.printf("%v\n", err)
		} else {
			sh.printf("%s\n", user)
		}
	case "renew":
		if !needKey() {
			return false
		}
		if err := sh.reg.RenewSessionTimer(key); err != nil {
			sh.printf("renew failed: %v\n", err)
		} else {
			sh.printf("ok\n")
		}
	case "set-data":
		if !needKey() {
			return false
		}
		if !json.Valid([]byte(rest)) {
			sh.printf("usage: set-data <key> <json>\n")
			return false
		}
		if err := sh.reg.SetSessionData(key, json.RawMessage(rest)); err != nil {
			sh.printf("set-data failed: %v\n", err)
		} else {
			sh.printf("ok\n")
		}
	case "get-data":
		if !needKey() {
			return false
		}
		data, err := sh.reg.SessionData(key)
		switch {
		case err != nil:
			sh.printf("%v\n", err)
		case data == nil:
			sh.printf("(none)\n")
		default:
			sh.printf("%s\n", data)
		}
	case "details":
		if !needKey() {
			return false
		}
		d, err := sh.reg.SessionDetails(key)
		if err != nil {
			sh.printf("%v\n", err)
			return false
		}
		b, _ := json.MarshalIndent(d, "", "  ")
		sh.printf("%s\n", b)
	case "users":
		users := sh.reg.LoggedUsers()
		if len(users) == 0 {
			sh.printf("(none)\n")
		} else {
			sh.printf("%s\n", strings.Join(users, "\n"))
		}
	case "timeout":
		if key == "" {
			sh.printf("%s\n", sh.reg.SessionTimeout())
			return false
		}
		d, err := config.ParseTimeout(key)
		if err == nil {
			err = sh.reg.SetSessionTimeout(d)
		}
		if err != nil {
			sh.printf("timeout not changed: %v\n", err)
		} else {
			sh.printf("ok\n")
		}
	default:
		sh.printf("unknown command %q, type help\n", cmd)
	}
	return false
}

// watchLogout waits in the background for a logout push addressed to key.
func (sh *shell) watchLogout(key string) {
	ctx, cancel := context.WithCancel(sh.ctx)
	sh.mu.Lock()
	sh.watchers[key] = cancel
	sh.mu.Unlock()

	sh.wg.Add(1)
	go func() {
		defer sh.wg.Done()
		err := sh.sink.Subscribe(ctx, key, func(ctx context.Context, msg notify.LogoutMessage) error {
			sh.printf("<< logout pushed to %s\n", msg.SessionKey)
			return errLoggedOut
		})
		if err != nil && !errors.Is(err, errLoggedOut) && !errors.Is(err, context.Canceled) {
			sh.printf("logout watch for %s ended: %v\n", key, err)
		}
		sh.stopWatching(key)
		// The namespace belongs to this watcher; free it however the watch
		// ended, including an explicit logout that cancelled it.
		_ = sh.sink.Release(context.WithoutCancel(ctx), key)
	}()
}

func (sh *shell) stopWatching(key string) {
	sh.mu.Lock()
	cancel, ok := sh.watchers[key]
	delete(sh.watchers, key)
	sh.mu.Unlock()
	if ok {
		cancel()
	}
}

func (sh *shell) close() {
	for _, d := range sh.detach {
		d()
	}
	sh.mu.Lock()
	for key, cancel := range sh.watchers {
		cancel()
		delete(sh.watchers, key)
	}
	sh.mu.Unlock()
	sh.wg.Wait()
}

// splitCommand returns the command word, its first argument and the raw
// remainder of the line after that argument.
func splitCommand(input string) (cmd, arg, rest string) {
	input = strings.TrimSpace(input)
	cmd, input, _ = strings.Cut(input, " ")
	input = strings.TrimSpace(input)
	arg, rest, _ = strings.Cut(input, " ")
	return strings.ToLower(cmd), arg, strings.TrimSpace(rest)
}
