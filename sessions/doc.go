// Package sessions implements an in-process session registry. A Registry
// issues opaque session keys at login, associates each key with a username
// and an optional payload, expires sessions after an idle timeout, and
// notifies observers whenever a session is created, deleted or expired so a
// transport layer can push a logout to the connected client.
//
// Layers & Roles
//
//	Caller (API / transport) -> StartSession / EndSession / RenewSessionTimer / accessors
//	Registry                 -> state, expiry timers, event dispatch
//	KeyGenerator             -> unique, hard-to-guess identifiers (package keygen)
//	NotificationSink         -> opaque handle handed to logout observers (package notify)
//
// # Lifecycle
//
// A session is created by StartSession, kept alive by RenewSessionTimer, and
// destroyed by EndSession, DeleteAllSessions or its expiry timer. Each timer
// is scheduled with the timeout configured at the moment it is scheduled;
// changing the timeout never reschedules live sessions.
//
// # Events
//
// Observers register with Registry.On for one EventKind:
//
//	EventSessionCreated        key of a newly started session
//	EventSessionDeleted        key of a session that ended (explicitly or by expiry)
//	EventError                 an access was attempted with an unknown key
//	EventNotifyClientToLogout  a logout push is requested through the sink
//
// Events triggered by an API call are delivered synchronously before the call
// returns. Expiry events are delivered on the timer goroutine.
//
// Example:
//
//	reg := sessions.New(sessions.WithSessionTimeout(30 * time.Minute))
//	defer reg.Close()
//	reg.On(sessions.EventSessionDeleted, func(ev sessions.Event) { log.Println("gone", ev.Key) })
//	key, err := reg.StartSession("luca")
//	if err != nil { return err }
//	// on each authenticated request:
//	if err := reg.RenewSessionTimer(key); err != nil { /* force re-login */ }
package sessions
