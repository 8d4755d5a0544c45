package engine

import (
	"context"
	"errors"
	"fmt"

	"tradeloop/internal/event"
	"tradeloop/internal/execution"
	"tradeloop/internal/portfolio"
	"tradeloop/internal/strategy"
)

func initialise(ctx context.Context, t *Trader[InitialiseState]) Engine {
	universe := t.state.Instruments
	p, err := t.state.initialiser.Init(ctx, universe)
	if err == nil && p == nil {
		err = errors.New("initialiser returned no portfolio")
	}
	if err != nil {
		return terminate(t, nil, "initialisation failed", &InitError{Err: err})
	}
	t.sess.log.Info("portfolio initialised", "exchanges", len(universe), "instruments", universe.Count())
	return Consume{Trader: advance(t, ConsumeState{Portfolio: p})}
}

// nextEvent is the only place the engine waits.
func nextEvent(ctx context.Context, t *Trader[ConsumeState]) Engine {
	p := t.state.Portfolio
	ev, ok := t.sess.feed.Next(ctx)
	if !ok {
		reason := "feed closed"
		if ctx.Err() != nil {
			reason = "context cancelled"
		}
		return terminate(t, p, reason, nil)
	}
	t.sess.stats.events.Add(1)

	switch e := ev.(type) {
	case event.Market:
		t.sess.metrics.event(event.KindMarket.String())
		return UpdateFromMarket{Trader: advance(t, MarketState{Portfolio: p}), Market: e}
	case event.Account:
		t.sess.metrics.event(event.KindAccount.String())
		return UpdateFromAccount{Trader: advance(t, AccountState{Portfolio: p}), Account: e}
	case event.Command:
		t.sess.metrics.event(event.KindCommand.String())
		return ExecuteCommand{Trader: advance(t, CommandState{Portfolio: p}), Command: e}
	default:
		t.sess.stats.dropped.Add(1)
		t.sess.metrics.event("unroutable")
		t.sess.log.Warn("dropping unroutable feed item", "type", fmt.Sprintf("%T", ev))
		return Consume{Trader: advance(t, ConsumeState{Portfolio: p})}
	}
}

func updateFromMarket(ctx context.Context, t *Trader[MarketState], m event.Market) Engine {
	prev := t.state.Portfolio
	next, signal, err := prev.UpdateFromMarket(ctx, m)
	if err == nil && next == nil {
		err = errors.New("market update returned no portfolio")
	}
	if err != nil {
		t.sess.eventError(PhaseUpdateFromMarket, err, "instrument", m.Key().String(), "id", m.ID)
		return Consume{Trader: advance(t, ConsumeState{Portfolio: prev})}
	}
	if signal == nil {
		return Consume{Trader: advance(t, ConsumeState{Portfolio: next})}
	}
	return GenerateOrder{
		Trader: advance(t, OrderState[Algorithmic]{Portfolio: next}),
		Signal: *signal,
	}
}

func generateAlgorithmic(ctx context.Context, t *Trader[OrderState[Algorithmic]], signal portfolio.Signal) Engine {
	p := t.state.Portfolio
	intents, err := t.sess.strategy.Decide(ctx, p.View(), signal)
	if err != nil {
		t.sess.eventError(PhaseGenerateOrderAlgorithmic, err, "strategy", t.sess.strategy.Name(), "instrument", signal.Key().String())
		return Consume{Trader: advance(t, ConsumeState{Portfolio: p})}
	}
	return sendOrders(t, intents)
}

func generateManual(t *Trader[OrderState[Manual]], order event.ManualOrder) Engine {
	return sendOrders(t, []strategy.OrderIntent{{
		Exchange:   order.Exchange,
		Instrument: order.Instrument,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      order.Price,
		Reason:     "manual order " + order.ID,
	}})
}

// sendOrders sends one request per intent, in order. A bad intent or a
// transient send failure skips that intent only; a closed execution
// channel ends the session.
func sendOrders[O OrderOrigin](t *Trader[OrderState[O]], intents []strategy.OrderIntent) Engine {
	p := t.state.Portfolio
	var origin O
	for _, intent := range intents {
		req := execution.NewRequest(execution.KindOpen, origin.Origin())
		req.Exchange = intent.Exchange
		req.Instrument = intent.Instrument
		req.Side = intent.Side
		req.Quantity = intent.Quantity
		req.Price = intent.Price
		req.Reason = intent.Reason
		if err := dispatch(t.sess, req); err != nil {
			return terminate(t, p, "execution channel closed", err)
		}
	}
	return Consume{Trader: advance(t, ConsumeState{Portfolio: p})}
}

func updateFromAccount(ctx context.Context, t *Trader[AccountState], a event.Account) Engine {
	prev := t.state.Portfolio
	next, err := prev.UpdateFromAccount(ctx, a)
	if err == nil && next == nil {
		err = errors.New("account update returned no portfolio")
	}
	if err != nil {
		t.sess.eventError(PhaseUpdateFromAccount, err, "kind", string(a.Type), "order", a.OrderID, "id", a.ID)
		return Consume{Trader: advance(t, ConsumeState{Portfolio: prev})}
	}
	return Consume{Trader: advance(t, ConsumeState{Portfolio: next})}
}

func executeCommand(t *Trader[CommandState], cmd event.Command) Engine {
	p := t.state.Portfolio
	t.sess.log.Info("operator command", "command", cmd.CommandKind().String(), "id", event.IDOf(cmd))

	var req execution.Request
	switch c := cmd.(type) {
	case event.ManualOrder:
		return GenerateOrderManual{Trader: advance(t, OrderState[Manual]{Portfolio: p}), Order: c}
	case event.Shutdown:
		reason := "shutdown command"
		if c.Reason != "" {
			reason += ": " + c.Reason
		}
		return terminate(t, p, reason, nil)
	case event.ClosePosition:
		pos, held := p.View().Position(c.Key())
		if !held {
			t.sess.log.Info("close requested for flat instrument", "instrument", c.Key().String())
			return Consume{Trader: advance(t, ConsumeState{Portfolio: p})}
		}
		req = execution.NewRequest(execution.KindClose, execution.OriginManual)
		req.Exchange = c.Exchange
		req.Instrument = c.Instrument
		req.Side = pos.Side().Opposite()
		req.Quantity = pos.Quantity.Abs()
		req.Reason = "close position " + c.ID
	case event.CancelOrder:
		req = execution.NewRequest(execution.KindCancel, execution.OriginManual)
		req.Exchange = c.Exchange
		req.OrderID = c.OrderID
		req.Reason = "cancel order " + c.ID
	default:
		t.sess.eventError(PhaseExecuteCommand, fmt.Errorf("unsupported command %T", cmd))
		return Consume{Trader: advance(t, ConsumeState{Portfolio: p})}
	}

	if err := dispatch(t.sess, req); err != nil {
		return terminate(t, p, "execution channel closed", err)
	}
	return Consume{Trader: advance(t, ConsumeState{Portfolio: p})}
}

type queueLen interface{ Len() int }

// dispatch validates and sends one request. It returns an error only when
// the execution channel is permanently closed.
func dispatch(sess *session, req execution.Request) error {
	if err := req.Validate(); err != nil {
		sess.stats.requestsFailed.Add(1)
		sess.metrics.request(req, "invalid")
		sess.log.Warn("skipping invalid order intent", "request", req.String(), "err", err)
		return nil
	}
	err := sess.tx.Send(req)
	if q, ok := sess.tx.(queueLen); ok {
		sess.metrics.queued(q.Len())
	}
	switch {
	case err == nil:
		sess.stats.requestsSent.Add(1)
		sess.metrics.request(req, "sent")
		sess.log.Info("execution request sent", "request", req.String(), "id", req.ID.String(), "reason", req.Reason)
		return nil
	case errors.Is(err, execution.ErrClosed):
		sess.stats.requestsFailed.Add(1)
		sess.metrics.request(req, "closed")
		return &ExecutionClosedError{RequestID: req.ID, Err: err}
	default:
		sess.stats.requestsFailed.Add(1)
		sess.metrics.request(req, "failed")
		sess.log.Warn("execution send failed", "request", req.String(), "err", err)
		return nil
	}
}
