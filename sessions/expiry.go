package sessions

import "log/slog"

// scheduleLocked installs a fresh expiry timer for s using the current
// timeout. Callers must hold r.mu and must have stopped any previous timer.
func (r *Registry) scheduleLocked(s *session) {
	s.gen++
	gen := s.gen
	s.timer = r.clock.AfterFunc(r.timeout, func() { r.expire(s, gen) })
}

// expire runs when a session timer fires. It is a no-op unless s is still
// registered under its key and gen is its current generation, so a timer that
// lost a race with EndSession, RenewSessionTimer or Close never removes or
// notifies twice.
func (r *Registry) expire(s *session, gen uint64) {
	r.mu.Lock()
	cur, ok := r.sessions.Get(s.key)
	if !ok || cur != s || s.gen != gen {
		r.mu.Unlock()
		return
	}
	r.sessions.Delete(s.key)
	s.gen++
	r.mu.Unlock()

	r.SendLogoutMessage(s.key)
	r.log.InfoContext(r.sessionCtx(s, "expire"), "session expired",
		slog.Duration("age", r.clock.Now().Sub(s.createdAt)))
	r.events.emit(Event{Kind: EventSessionDeleted, Key: s.key})
}
