// Package engine is the decision core: a state machine that owns one trading
// session, pulls one item at a time from the event feed, keeps the portfolio
// current and turns decisions into execution requests.
//
// Each phase is its own Engine variant wrapping a Trader whose payload type
// belongs to that phase, so a variant cannot hold a Trader of another phase.
// Next performs exactly one transition; Run loops Next until Terminate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"tradeloop/internal/event"
	"tradeloop/internal/logger"
	"tradeloop/internal/portfolio"
)

// Engine is a closed union over the phase variants below.
type Engine interface {
	Phase() Phase
	// Next performs one transition. Only Consume may block.
	Next(ctx context.Context) Engine
	isEngine()
}

type Initialise struct {
	Trader *Trader[InitialiseState]
}

type Consume struct {
	Trader *Trader[ConsumeState]
}

type UpdateFromMarket struct {
	Trader *Trader[MarketState]
	Market event.Market
}

type GenerateOrder struct {
	Trader *Trader[OrderState[Algorithmic]]
	Signal portfolio.Signal
}

type GenerateOrderManual struct {
	Trader *Trader[OrderState[Manual]]
	Order  event.ManualOrder
}

type UpdateFromAccount struct {
	Trader  *Trader[AccountState]
	Account event.Account
}

type ExecuteCommand struct {
	Trader  *Trader[CommandState]
	Command event.Command
}

type Terminate struct {
	Trader *Trader[TerminateState]
}

func (Initialise) Phase() Phase          { return PhaseInitialise }
func (Consume) Phase() Phase             { return PhaseConsume }
func (UpdateFromMarket) Phase() Phase    { return PhaseUpdateFromMarket }
func (GenerateOrder) Phase() Phase       { return PhaseGenerateOrderAlgorithmic }
func (GenerateOrderManual) Phase() Phase { return PhaseGenerateOrderManual }
func (UpdateFromAccount) Phase() Phase   { return PhaseUpdateFromAccount }
func (ExecuteCommand) Phase() Phase      { return PhaseExecuteCommand }
func (Terminate) Phase() Phase           { return PhaseTerminate }

func (Initialise) isEngine()          {}
func (Consume) isEngine()             {}
func (UpdateFromMarket) isEngine()    {}
func (GenerateOrder) isEngine()       {}
func (GenerateOrderManual) isEngine() {}
func (UpdateFromAccount) isEngine()   {}
func (ExecuteCommand) isEngine()      {}
func (Terminate) isEngine()           {}

func (e Initialise) Next(ctx context.Context) Engine {
	return step(e.Trader, PhaseInitialise, func() Engine { return initialise(ctx, e.Trader) })
}

func (e Consume) Next(ctx context.Context) Engine {
	return step(e.Trader, PhaseConsume, func() Engine { return nextEvent(ctx, e.Trader) })
}

func (e UpdateFromMarket) Next(ctx context.Context) Engine {
	return step(e.Trader, PhaseUpdateFromMarket, func() Engine { return updateFromMarket(ctx, e.Trader, e.Market) })
}

func (e GenerateOrder) Next(ctx context.Context) Engine {
	return step(e.Trader, PhaseGenerateOrderAlgorithmic, func() Engine { return generateAlgorithmic(ctx, e.Trader, e.Signal) })
}

func (e GenerateOrderManual) Next(ctx context.Context) Engine {
	return step(e.Trader, PhaseGenerateOrderManual, func() Engine { return generateManual(e.Trader, e.Order) })
}

func (e UpdateFromAccount) Next(ctx context.Context) Engine {
	return step(e.Trader, PhaseUpdateFromAccount, func() Engine { return updateFromAccount(ctx, e.Trader, e.Account) })
}

func (e ExecuteCommand) Next(ctx context.Context) Engine {
	return step(e.Trader, PhaseExecuteCommand, func() Engine { return executeCommand(e.Trader, e.Command) })
}

// Next on Terminate returns the same value.
func (e Terminate) Next(context.Context) Engine { return e }

// Err is the fatal cause, nil after a clean shutdown.
func (e Terminate) Err() error {
	if e.Trader == nil {
		return ErrTraderConsumed
	}
	return e.Trader.state.Err
}

// Portfolio is the final portfolio; nil when the session ended before it
// was built.
func (e Terminate) Portfolio() portfolio.Portfolio {
	if e.Trader == nil {
		return nil
	}
	return e.Trader.state.Portfolio
}

func (e Terminate) Reason() string {
	if e.Trader == nil {
		return ""
	}
	return e.Trader.state.Reason
}

func step[S any](t *Trader[S], from Phase, transition func() Engine) (next Engine) {
	if !t.take() {
		return consumed(t)
	}
	defer func() {
		if r := recover(); r != nil {
			next = recovered(t, from, r)
			t.sess.record(from, next.Phase())
		}
	}()
	next = transition()
	t.sess.record(from, next.Phase())
	return next
}

// recovered treats a panic inside one transition like a recoverable
// per-event error: the session goes back to Consume with the portfolio it
// held before the transition. A panicking initialiser is still fatal.
func recovered[S any](t *Trader[S], from Phase, r any) Engine {
	err := fmt.Errorf("panic in %s: %v", from, r)
	t.sess.log.Error("transition panicked", "phase", from.String(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
	if from == PhaseInitialise {
		return terminate(t, nil, "initialisation failed", &InitError{Err: err})
	}
	t.sess.eventError(from, err)
	return Consume{Trader: advance(t, ConsumeState{Portfolio: heldPortfolio(t.state)})}
}

func heldPortfolio(state any) portfolio.Portfolio {
	switch s := state.(type) {
	case ConsumeState:
		return s.Portfolio
	case MarketState:
		return s.Portfolio
	case AccountState:
		return s.Portfolio
	case CommandState:
		return s.Portfolio
	case OrderState[Algorithmic]:
		return s.Portfolio
	case OrderState[Manual]:
		return s.Portfolio
	default:
		return nil
	}
}

func consumed[S any](t *Trader[S]) Engine {
	var sess *session
	if t != nil {
		sess = t.sess
	}
	if sess != nil {
		sess.log.Error("trader handle reused after transition")
	}
	return Terminate{Trader: &Trader[TerminateState]{
		sess:  sess,
		state: TerminateState{Reason: "trader consumed", Err: ErrTraderConsumed},
	}}
}

func terminate[S any](t *Trader[S], p portfolio.Portfolio, reason string, err error) Terminate {
	return Terminate{Trader: advance(t, TerminateState{Portfolio: p, Reason: reason, Err: err})}
}

// Run drives e until Terminate and returns it with its fatal error, if any.
// A feed that closes, a cancelled ctx and a shutdown command all end the
// session cleanly.
func Run(ctx context.Context, e Engine) (Terminate, error) {
	if e == nil {
		return Terminate{}, errors.New("engine: nil engine")
	}
	for {
		if term, ok := e.(Terminate); ok {
			if err := term.Err(); err != nil {
				logger.Errorf("Engine: session ended: %s: %v", term.Reason(), err)
				return term, err
			}
			logger.Infof("Engine: session ended: %s", term.Reason())
			return term, nil
		}
		e = e.Next(ctx)
	}
}
