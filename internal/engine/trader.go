package engine

import (
	"log/slog"
	"sync/atomic"

	"tradeloop/internal/event"
	"tradeloop/internal/execution"
	"tradeloop/internal/instrument"
	"tradeloop/internal/portfolio"
	"tradeloop/internal/strategy"
)

// session is the part of a Trader that survives every transition unchanged.
type session struct {
	id       string
	feed     event.Feed
	strategy strategy.Strategy
	tx       execution.Sender
	log      *slog.Logger
	metrics  *Metrics
	stats    *Stats
}

func (s *session) record(from, to Phase) {
	if s == nil {
		return
	}
	if !from.CanTransitionTo(to) {
		s.log.Error("illegal transition", "from", from.String(), "to", to.String())
	}
	s.stats.transitions.Add(1)
	s.stats.phase.Store(int32(to))
	s.metrics.transition(from, to)
	s.log.Debug("transition", "from", from.String(), "to", to.String())
}

func (s *session) eventError(phase Phase, err error, attrs ...any) {
	s.stats.eventErrors.Add(1)
	s.metrics.eventError(phase)
	s.log.Warn("recoverable error", append([]any{"phase", phase.String(), "err", err}, attrs...)...)
}

// Trader owns one trading session and the payload of its current phase.
// Every transition takes the Trader and hands back a new one; the old
// handle is spent and running it again only yields ErrTraderConsumed.
type Trader[S any] struct {
	sess  *session
	state S
	spent atomic.Bool
}

// State returns the phase payload.
func (t *Trader[S]) State() S {
	return t.state
}

// SessionID identifies the session the Trader belongs to.
func (t *Trader[S]) SessionID() string {
	if t == nil || t.sess == nil {
		return ""
	}
	return t.sess.id
}

// Stats returns the live counters of the session.
func (t *Trader[S]) Stats() *Stats {
	if t == nil || t.sess == nil {
		return nil
	}
	return t.sess.stats
}

// Spent reports whether this handle was already advanced.
func (t *Trader[S]) Spent() bool {
	return t == nil || t.spent.Load()
}

func (t *Trader[S]) take() bool {
	return t != nil && t.spent.CompareAndSwap(false, true)
}

func advance[S, N any](t *Trader[S], next N) *Trader[N] {
	return &Trader[N]{sess: t.sess, state: next}
}

// InitialiseState carries the instrument universe until the portfolio exists.
type InitialiseState struct {
	Instruments instrument.Universe
	initialiser portfolio.Initialiser
}

type ConsumeState struct {
	Portfolio portfolio.Portfolio
}

type MarketState struct {
	Portfolio portfolio.Portfolio
}

type AccountState struct {
	Portfolio portfolio.Portfolio
}

type CommandState struct {
	Portfolio portfolio.Portfolio
}

// Algorithmic tags orders decided by the strategy.
type Algorithmic struct{}

// Manual tags orders supplied by an operator command.
type Manual struct{}

func (Algorithmic) Origin() execution.Origin { return execution.OriginAlgorithmic }
func (Manual) Origin() execution.Origin      { return execution.OriginManual }

type OrderOrigin interface {
	Algorithmic | Manual
	Origin() execution.Origin
}

// OrderState is the GenerateOrder payload. The origin only exists in the
// type; order generation never changes the portfolio.
type OrderState[O OrderOrigin] struct {
	Portfolio portfolio.Portfolio
}

// TerminateState is the end of the session. Err is nil for a clean shutdown.
type TerminateState struct {
	Portfolio portfolio.Portfolio
	Reason    string
	Err       error
}
