// Package auth manages the bearer token lifecycle on the client: restore
// from storage, expiry timer, explicit and forced logout.
package auth

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/buyvia/internal/errs"
)

// Session holds the current bearer token. Safe for concurrent use.
type Session struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu     sync.Mutex
	token  string
	exp    time.Time
	timer  *time.Timer
	gen    uint64 // bumped on install and logout; older timers are no-ops
	nextID uint64
	subs   map[uint64]func(loggedIn bool)
}

// Option configures Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// NewSession restores a stored, unexpired token from store; anything else is cleared.
func NewSession(store Store, opts ...Option) *Session {
	if store == nil {
		store = &MemoryStore{}
	}
	s := &Session{store: store, log: zap.NewNop(), now: time.Now, subs: map[uint64]func(bool){}}
	for _, o := range opts {
		o(s)
	}

	tok, err := store.Load()
	if err != nil {
		_ = store.Clear()
		return s
	}
	exp, err := DecodeExpiry(tok)
	if err != nil || !exp.After(s.now()) {
		_ = store.Clear()
		return s
	}
	s.mu.Lock()
	s.install(tok, exp)
	s.mu.Unlock()
	return s
}

// SetToken installs a freshly issued token. Expired or undecodable tokens log out instead.
func (s *Session) SetToken(tok string) error {
	exp, err := DecodeExpiry(tok)
	if err != nil {
		s.Logout()
		return fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if !exp.After(s.now()) {
		s.Logout()
		return fmt.Errorf("%w: token expired", errs.ErrUnauthorized)
	}

	// store writes stay under mu, ordered with Logout's Clear
	s.mu.Lock()
	was := s.token != ""
	s.install(tok, exp)
	if err := s.store.Save(tok, exp); err != nil {
		s.log.Warn("persist token", zap.Error(err))
	}
	s.mu.Unlock()

	if !was {
		s.notify(true)
	}
	return nil
}

// install sets the token and reschedules the expiry timer. Caller holds mu.
func (s *Session) install(tok string, exp time.Time) {
	s.token, s.exp = tok, exp
	s.gen++
	s.scheduleLocked(exp.Sub(s.now()))
}

func (s *Session) scheduleLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = time.AfterFunc(d, func() { s.expire(gen) })
}

// expire logs out once the clock reaches exp. A timer that fires early
// (clock skew, injected clock) re-arms itself for the remaining time.
func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.token == "" {
		s.mu.Unlock()
		return
	}
	if left := s.exp.Sub(s.now()); left > 0 {
		s.scheduleLocked(left)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.log.Info("token expired, logging out")
	s.Logout()
}

// Token returns the current token, or "" when logged out or expired.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.exp.After(s.now()) {
		return ""
	}
	return s.token
}

// IsLoggedIn reports whether a token is present and unexpired.
func (s *Session) IsLoggedIn() bool { return s.Token() != "" }

// Expiry returns the expiry of the current token (zero when logged out).
func (s *Session) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exp
}

// Claims decodes the current token, or returns ErrUnauthorized when logged out.
func (s *Session) Claims() (*Claims, error) {
	tok := s.Token()
	if tok == "" {
		return nil, errs.ErrUnauthorized
	}
	return DecodeClaims(tok)
}

// Logout clears the token, its storage and timer. Calling it repeatedly is harmless.
func (s *Session) Logout() {
	s.mu.Lock()
	was := s.token != ""
	s.token, s.exp = "", time.Time{}
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if err := s.store.Clear(); err != nil {
		s.log.Warn("clear token", zap.Error(err))
	}
	s.mu.Unlock()

	if was {
		s.notify(false)
	}
}

// HandleUnauthorized is the transport hook for 401 replies.
func (s *Session) HandleUnauthorized() {
	if s.IsLoggedIn() {
		s.log.Info("credential rejected by backend, logging out")
	}
	s.Logout()
}

// OnChange registers fn for login/logout transitions and returns an unsubscribe func.
func (s *Session) OnChange(fn func(loggedIn bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Session) notify(loggedIn bool) {
	s.mu.Lock()
	fns := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(loggedIn)
	}
}
