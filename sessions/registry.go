package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Elius94/users-session-manager/internal/clock"
	"github.com/Elius94/users-session-manager/internal/logctx"
	"github.com/Elius94/users-session-manager/keygen"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry owns every live session, their expiry timers and the listeners
// observing lifecycle transitions. It is safe for concurrent use. Construct
// one per process with New and pass it explicitly to the code that needs it.
type Registry struct {
	mu       sync.Mutex
	sessions *orderedmap.OrderedMap[string, *session]
	timeout  time.Duration
	sink     NotificationSink

	keys   KeyGenerator
	clock  Clock
	log    *slog.Logger
	events *eventBus

	requestedTimeout time.Duration
}

type session struct {
	key       string
	username  string
	createdAt time.Time
	data      json.RawMessage

	timer Timer
	// gen increments every time the expiry timer is (re)scheduled; a firing
	// timer only acts if its generation is still current.
	gen uint64
}

// New constructs a Registry. Defaults: DefaultSessionTimeout, keygen.Meaningful
// keys, the wall clock and a discarding logger.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: orderedmap.New[string, *session](),
		timeout:  DefaultSessionTimeout,
		keys:     keygen.Meaningful{},
		clock:    clock.Real{},
		log:      slog.New(logctx.Handler{Handler: slog.DiscardHandler}),
		events:   newEventBus(),
	}

	// Apply options (order matters; later options override earlier ones).
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if r.requestedTimeout != 0 {
		if err := r.SetSessionTimeout(r.requestedTimeout); err != nil {
			r.log.Warn("ignoring configured session timeout",
				slog.Duration("requested", r.requestedTimeout),
				slog.Duration("minimum", MinSessionTimeout),
				slog.Duration("using", r.timeout))
		}
	}

	return r
}

// --- Configuration ---

// SetSessionTimeout changes the timeout applied to timers scheduled from now
// on. Existing sessions keep their current deadline until renewed.
func (r *Registry) SetSessionTimeout(d time.Duration) error {
	if d < MinSessionTimeout {
		return fmt.Errorf("%w: %s is below the %s minimum", ErrInvalidTimeout, d, MinSessionTimeout)
	}
	r.mu.Lock()
	prev := r.timeout
	r.timeout = d
	r.mu.Unlock()

	if prev != d {
		r.log.Info("session timeout changed", slog.Duration("from", prev), slog.Duration("to", d))
	}
	return nil
}

// SessionTimeout returns the currently configured timeout.
func (r *Registry) SessionTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeout
}

// SetNotificationSink replaces the sink handed to logout observers. A nil
// sink turns SendLogoutMessage into a no-op.
func (r *Registry) SetNotificationSink(sink NotificationSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// NotificationSink returns the sink installed with SetNotificationSink or
// WithNotificationSink, if any.
func (r *Registry) NotificationSink() NotificationSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink
}

// --- Lifecycle ---

// StartSession registers a new session for username and returns its key.
func (r *Registry) StartSession(username string) (string, error) {
	key, err := r.keys.Generate()
	if err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}

	r.mu.Lock()
	if _, exists := r.sessions.Get(key); exists {
		r.mu.Unlock()
		return "", ErrKeyCollision
	}
	s := &session{
		key:       key,
		username:  username,
		createdAt: r.clock.Now(),
	}
	r.scheduleLocked(s)
	r.sessions.Set(key, s)
	r.mu.Unlock()

	r.log.InfoContext(r.sessionCtx(s, "start"), "session started")
	r.events.emit(Event{Kind: EventSessionCreated, Key: key})
	return key, nil
}

// EndSession cancels the expiry timer of key and removes the session. An
// unknown key emits EventError and returns ErrSessionRejected.
func (r *Registry) EndSession(key string) error {
	if !r.IsValidSession(key) {
		return ErrSessionRejected
	}

	r.mu.Lock()
	s, ok := r.sessions.Get(key)
	if ok {
		s.timer.Stop()
		s.gen++
		r.sessions.Delete(key)
	}
	r.mu.Unlock()

	// Expired between the validity check and the lock; the expiry path has
	// already announced the deletion.
	if !ok {
		return ErrSessionRejected
	}

	r.log.InfoContext(r.sessionCtx(s, "end"), "session ended")
	r.events.emit(Event{Kind: EventSessionDeleted, Key: key})
	return nil
}

// DeleteAllSessions ends every session registered at the time of the call
// and requests a logout push for each one it ended. A session that expires
// while the loop runs was already notified by its timer and is skipped. It
// reports whether the registry is empty afterwards.
func (r *Registry) DeleteAllSessions() bool {
	for _, key := range r.keysSnapshot() {
		if err := r.EndSession(key); err != nil {
			continue
		}
		r.SendLogoutMessage(key)
	}
	return r.Len() == 0
}

// RenewSessionTimer restarts the expiry timer of key using the currently
// configured timeout.
func (r *Registry) RenewSessionTimer(key string) error {
	if !r.IsValidSession(key) {
		return ErrSessionRejected
	}

	r.mu.Lock()
	s, ok := r.sessions.Get(key)
	if ok {
		s.timer.Stop()
		r.scheduleLocked(s)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionRejected
	}
	r.log.DebugContext(r.sessionCtx(s, "renew"), "session timer renewed")
	return nil
}

// Close stops every pending expiry timer and drops all sessions without
// emitting events.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.timer.Stop()
		pair.Value.gen++
	}
	r.sessions = orderedmap.New[string, *session]()
	return nil
}

// --- Accessors ---

// SetSessionData replaces the payload of key with the JSON encoding of data.
func (r *Registry) SetSessionData(key string, data any) error {
	if !r.IsValidSession(key) {
		return ErrSessionRejected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.Get(key)
	if !ok {
		return ErrSessionRejected
	}
	s.data = raw
	return nil
}

// SessionData returns a copy of the payload stored for key, or nil if none
// has been set.
func (r *Registry) SessionData(key string) (json.RawMessage, error) {
	if !r.IsValidSession(key) {
		return nil, ErrSessionRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.Get(key)
	if !ok {
		return nil, ErrSessionRejected
	}
	return cloneRaw(s.data), nil
}

// DecodeSessionData decodes the payload stored for key into a T. The zero T
// is returned when no payload has been set.
func DecodeSessionData[T any](r *Registry, key string) (T, error) {
	var out T
	raw, err := r.SessionData(key)
	if err != nil {
		return out, err
	}
	if raw == nil {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode session data: %w", err)
	}
	return out, nil
}

// SessionDetails returns the username, creation time and payload of key.
func (r *Registry) SessionDetails(key string) (Details, error) {
	if !r.IsValidSession(key) {
		return Details{}, ErrSessionRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.Get(key)
	if !ok {
		return Details{}, ErrSessionRejected
	}
	return Details{Username: s.username, CreatedAt: s.createdAt, Data: cloneRaw(s.data)}, nil
}

// Username returns the user owning key. Like every other accessor it emits
// EventError for unknown keys.
func (r *Registry) Username(key string) (string, error) {
	if !r.IsValidSession(key) {
		return "", ErrSessionRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.Get(key)
	if !ok {
		return "", ErrSessionRejected
	}
	return s.username, nil
}

// LoggedUsers returns the usernames of all live sessions in the order the
// sessions were started. A user with several sessions appears once per session.
func (r *Registry) LoggedUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, r.sessions.Len())
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		users = append(users, pair.Value.username)
	}
	return users
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Len()
}

// IsValidSession reports whether key maps to a live session. Unknown keys
// emit EventError carrying ErrSessionRejected and the key, so observers can
// audit rejected access attempts.
func (r *Registry) IsValidSession(key string) bool {
	r.mu.Lock()
	s, ok := r.sessions.Get(key)
	r.mu.Unlock()

	if ok {
		r.log.DebugContext(r.sessionCtx(s, "check"), "session accepted")
		return true
	}

	ctx := logctx.WithSessionData(context.Background(), &logctx.SessionData{Key: key})
	r.log.WarnContext(logctx.WithOperation(ctx, "check"), "session rejected")
	r.events.emit(Event{Kind: EventError, Key: key, Err: ErrSessionRejected})
	return false
}

// --- Notification ---

// SendLogoutMessage asks EventNotifyClientToLogout observers to push a logout
// to the client owning key. It does nothing when no sink is installed.
func (r *Registry) SendLogoutMessage(key string) {
	sink := r.NotificationSink()
	if sink == nil {
		return
	}
	r.events.emit(Event{Kind: EventNotifyClientToLogout, Key: key, Sink: sink})
}

// --- Helpers ---

func (r *Registry) keysSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, r.sessions.Len())
	for pair := r.sessions.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (r *Registry) sessionCtx(s *session, op string) context.Context {
	ctx := logctx.WithSessionData(context.Background(), &logctx.SessionData{Key: s.key, Username: s.username})
	return logctx.WithOperation(ctx, op)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
