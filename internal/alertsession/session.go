// Package alertsession drives the price-alert control of one product:
// check for an existing alert, prompt to create or remove it, submit, and
// show the result for a short time before returning to idle.
package alertsession

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/and161185/buyvia/internal/errs"
	"github.com/and161185/buyvia/internal/model"
	"github.com/and161185/buyvia/internal/pricing"
)

// DefaultSettleDelay is how long a result stays visible before the session returns to Idle.
const DefaultSettleDelay = 3 * time.Second

// Backend is the subset of the API client the session calls.
type Backend interface {
	Me(ctx context.Context) (model.User, error)
	ListAlerts(ctx context.Context, userID int64) ([]model.Alert, error)
	CreateAlert(ctx context.Context, productID int64, threshold decimal.Decimal) (model.Alert, error)
	DeleteAlert(ctx context.Context, alertID int64) error
}

// Auth reports whether a usable token is present.
type Auth interface {
	IsLoggedIn() bool
}

// Signal is bumped after every successful create or delete.
type Signal interface {
	Increment() int64
}

// Messages shown in Settled.
const (
	MsgCreated      = "alert created"
	MsgRemoved      = "alert removed"
	MsgFailed       = "could not save alert"
	MsgCheckFailed  = "could not load your alerts"
	MsgLoginNeeded  = "login required"
	MsgRemoveFailed = "could not remove alert"
)

// Session is the alert state machine for one product. Safe for concurrent use.
type Session struct {
	productID int64
	price     decimal.Decimal
	backend   Backend
	auth      Auth
	signal    Signal
	log       *zap.Logger
	delay     time.Duration

	mu       sync.Mutex
	state    State
	outcome  Outcome
	message  string
	existing *model.Alert
	epoch    uint64 // bumped on every transition; stale completions compare against it
	cancelOp context.CancelFunc
	timer    *time.Timer
	closed   bool
	subs     []func(Snapshot)
	pending  []Snapshot
	emitting bool
}

// Option configures Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

// WithSettleDelay sets how long Settled lasts before returning to Idle.
func WithSettleDelay(d time.Duration) Option { return func(s *Session) { s.delay = d } }

// New returns an Idle session for productID at its current price.
func New(productID int64, currentPrice decimal.Decimal, backend Backend, auth Auth, signal Signal, opts ...Option) *Session {
	s := &Session{
		productID: productID,
		price:     currentPrice,
		backend:   backend,
		auth:      auth,
		signal:    signal,
		log:       zap.NewNop(),
		delay:     DefaultSettleDelay,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.Int64("product_id", productID))
	return s
}

// OnTransition registers fn to receive a snapshot after every state change.
func (s *Session) OnTransition(fn func(Snapshot)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the current state.
func (s *Session) State() State { return s.Snapshot().State }

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{ProductID: s.productID, State: s.state, Outcome: s.outcome, Message: s.message}
	if s.existing != nil {
		a := *s.existing
		snap.Existing = &a
	}
	return snap
}

// setLocked moves to st and queues a notification. Caller holds mu.
func (s *Session) setLocked(st State, outcome Outcome, msg string) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.log.Debug("alert session transition", zap.Stringer("from", s.state), zap.Stringer("to", st))
	s.state, s.outcome, s.message = st, outcome, msg
	s.epoch++
	s.pending = append(s.pending, s.snapshotLocked())
}

// flush delivers queued snapshots outside mu, in order. A subscriber that
// calls back into the session has its snapshots delivered by the outer loop.
func (s *Session) flush() {
	s.mu.Lock()
	if s.emitting {
		s.mu.Unlock()
		return
	}
	s.emitting = true
	for len(s.pending) > 0 {
		snap := s.pending[0]
		s.pending = s.pending[1:]
		subs := slices.Clone(s.subs)
		s.mu.Unlock()
		for _, fn := range subs {
			fn(snap)
		}
		s.mu.Lock()
	}
	s.emitting = false
	s.mu.Unlock()
}

// beginLocked enters a network-bound state and returns the context and epoch of the operation.
func (s *Session) beginLocked(ctx context.Context, st State) (context.Context, uint64) {
	s.setLocked(st, NoOutcome, "")
	opCtx, cancel := context.WithCancel(ctx)
	s.cancelOp = cancel
	return opCtx, s.epoch
}

// finishLocked reports whether the operation started at epoch may still apply its result.
func (s *Session) finishLocked(epoch uint64) bool {
	if s.cancelOp != nil {
		s.cancelOp()
		s.cancelOp = nil
	}
	return !s.closed && s.epoch == epoch
}

// settleLocked enters Settled and schedules the return to Idle.
func (s *Session) settleLocked(outcome Outcome, msg string) {
	s.setLocked(Settled, outcome, msg)
	epoch := s.epoch
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.closed || s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		s.setLocked(Idle, NoOutcome, "")
		s.mu.Unlock()
		s.flush()
	})
}

func (s *Session) invalid(op string) error {
	return fmt.Errorf("%w: %s while %s", errs.ErrInvalidState, op, s.state)
}

// Open starts the flow: Unauthenticated when logged out, otherwise look up
// the caller's alerts and prompt to remove the existing one or create one.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		err := s.invalid("open")
		s.mu.Unlock()
		return err
	case s.state == CheckingExisting || s.state == Submitting:
		s.mu.Unlock()
		return errs.ErrBusy
	case s.state == PromptCreate || s.state == PromptRemove:
		err := s.invalid("open")
		s.mu.Unlock()
		return err
	}

	if !s.auth.IsLoggedIn() {
		s.setLocked(Unauthenticated, NoOutcome, MsgLoginNeeded)
		s.mu.Unlock()
		s.flush()
		return errs.ErrUnauthorized
	}
	opCtx, epoch := s.beginLocked(ctx, CheckingExisting)
	s.mu.Unlock()
	s.flush()

	existing, err := s.findExisting(opCtx)

	s.mu.Lock()
	if !s.finishLocked(epoch) {
		s.mu.Unlock()
		return context.Canceled
	}
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		s.setLocked(Unauthenticated, NoOutcome, MsgLoginNeeded)
	case err != nil:
		s.log.Warn("check existing alert", zap.Error(err))
		s.setLocked(Idle, NoOutcome, MsgCheckFailed)
	case existing != nil:
		s.existing = existing
		s.setLocked(PromptRemove, NoOutcome, "")
	default:
		s.existing = nil
		s.setLocked(PromptCreate, NoOutcome, "")
	}
	s.mu.Unlock()
	s.flush()
	return err
}

func (s *Session) findExisting(ctx context.Context) (*model.Alert, error) {
	me, err := s.backend.Me(ctx)
	if err != nil {
		return nil, err
	}
	alerts, err := s.backend.ListAlerts(ctx, me.ID)
	if err != nil {
		return nil, err
	}
	for i := range alerts {
		if alerts[i].ProductID == s.productID {
			a := alerts[i]
			return &a, nil
		}
	}
	return nil, nil
}

// Submit creates an alert at threshold. Thresholds outside (0, current price)
// are rejected locally and leave the session in PromptCreate.
func (s *Session) Submit(ctx context.Context, threshold decimal.Decimal) error {
	s.mu.Lock()
	if s.closed || s.state != PromptCreate {
		err := s.stateErrLocked("submit")
		s.mu.Unlock()
		return err
	}
	if err := pricing.ValidateThreshold(threshold, s.price); err != nil {
		s.message = err.Error()
		s.pending = append(s.pending, s.snapshotLocked())
		s.mu.Unlock()
		s.flush()
		return err
	}
	opCtx, epoch := s.beginLocked(ctx, Submitting)
	s.mu.Unlock()
	s.flush()

	alert, err := s.backend.CreateAlert(opCtx, s.productID, threshold)

	return s.complete(epoch, err, func() string {
		s.existing = &alert
		return MsgCreated
	}, MsgFailed)
}

// Confirm removes the existing alert shown in PromptRemove.
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.state != PromptRemove || s.existing == nil {
		err := s.stateErrLocked("confirm")
		s.mu.Unlock()
		return err
	}
	id := s.existing.AlertID
	opCtx, epoch := s.beginLocked(ctx, Submitting)
	s.mu.Unlock()
	s.flush()

	err := s.backend.DeleteAlert(opCtx, id)

	return s.complete(epoch, err, func() string {
		s.existing = nil
		return MsgRemoved
	}, MsgRemoveFailed)
}

// complete applies the result of a submit. onSuccess runs under mu and returns the toast text.
func (s *Session) complete(epoch uint64, err error, onSuccess func() string, failMsg string) error {
	s.mu.Lock()
	if !s.finishLocked(epoch) {
		s.mu.Unlock()
		return context.Canceled
	}
	switch {
	case err == nil:
		s.settleLocked(Success, onSuccess())
	case errors.Is(err, errs.ErrUnauthorized):
		s.setLocked(Unauthenticated, NoOutcome, MsgLoginNeeded)
	default:
		msg := errs.Detail(err)
		if msg == "" {
			msg = failMsg
		}
		s.log.Warn("alert submit failed", zap.Error(err))
		s.settleLocked(Failure, msg)
	}
	s.mu.Unlock()
	s.flush()

	if err == nil {
		s.signal.Increment()
	}
	return err
}

func (s *Session) stateErrLocked(op string) error {
	if s.state == Submitting || s.state == CheckingExisting {
		return errs.ErrBusy
	}
	return s.invalid(op)
}

// Cancel closes a prompt without any network call.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.closed || (s.state != PromptCreate && s.state != PromptRemove) {
		err := s.invalid("cancel")
		s.mu.Unlock()
		return err
	}
	s.setLocked(Idle, NoOutcome, "")
	s.mu.Unlock()
	s.flush()
	return nil
}

// Close tears the session down. In-flight calls are cancelled and any
// result arriving later is dropped.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.epoch++
	if s.cancelOp != nil {
		s.cancelOp()
		s.cancelOp = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
}
