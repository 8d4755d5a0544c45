package engine

import (
	"context"
	"errors"
	"testing"

	"tradeloop/internal/event"
	"tradeloop/internal/execution"
	"tradeloop/internal/instrument"
	"tradeloop/internal/portfolio"
	"tradeloop/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// consumeWith builds an engine over a ledger portfolio and steps it past
// Initialise.
func consumeWith(t *testing.T, feed event.Feed, strat strategy.Strategy, tx execution.Sender) Consume {
	t.Helper()
	next := build(t, feed, strat, tx).Next(context.Background())
	c, ok := next.(Consume)
	require.True(t, ok, "got %s", next.Phase())
	return c
}

func fillEvent(side instrument.Side, qty, px int64) event.Account {
	return event.Account{
		Exchange: "binance", Type: event.AccountFill, Instrument: btc, Side: side,
		Quantity: decimal.NewFromInt(qty), Price: decimal.NewFromInt(px), OrderID: "paper-1",
	}
}

func TestConsumeRoutesEveryEventKind(t *testing.T) {
	samples := map[event.Kind]event.Event{
		event.KindMarket:  market(btc, 1),
		event.KindAccount: event.Account{Type: event.AccountBalance, Asset: "USDT", Balance: decimal.NewFromInt(1)},
		event.KindCommand: event.CancelOrder{Exchange: "binance", OrderID: "x"},
	}
	want := map[event.Kind]Phase{
		event.KindMarket:  PhaseUpdateFromMarket,
		event.KindAccount: PhaseUpdateFromAccount,
		event.KindCommand: PhaseExecuteCommand,
	}
	for _, kind := range event.Kinds() {
		ev, ok := samples[kind]
		require.True(t, ok, "no routing case for event kind %s", kind)
		tx, _ := execution.NewQueue()
		c := consumeWith(t, event.NewSliceFeed(ev), strategy.Hold{}, tx)
		assert.Equal(t, want[kind], c.Next(context.Background()).Phase(), "kind %s", kind)
	}
}

func TestExecuteCommandHandlesEveryCommandKind(t *testing.T) {
	samples := map[event.CommandKind]event.Command{
		event.CommandManualOrder: event.ManualOrder{
			Exchange: "binance", Instrument: btc, Side: instrument.SideBuy,
			Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(5),
		},
		event.CommandClosePosition: event.ClosePosition{Exchange: "binance", Instrument: btc},
		event.CommandCancelOrder:   event.CancelOrder{Exchange: "binance", OrderID: "x"},
		event.CommandShutdown:      event.Shutdown{Reason: "eod"},
	}
	want := map[event.CommandKind]Phase{
		event.CommandManualOrder:   PhaseGenerateOrderManual,
		event.CommandClosePosition: PhaseConsume,
		event.CommandCancelOrder:   PhaseConsume,
		event.CommandShutdown:      PhaseTerminate,
	}
	for _, kind := range event.CommandKinds() {
		cmd, ok := samples[kind]
		require.True(t, ok, "no handler case for command %s", kind)
		tx, _ := execution.NewQueue()
		c := consumeWith(t, event.NewSliceFeed(cmd), strategy.Hold{}, tx)
		exec := c.Next(context.Background())
		require.Equal(t, PhaseExecuteCommand, exec.Phase())
		next := exec.Next(context.Background())
		assert.Equal(t, want[kind], next.Phase(), "command %s", kind)
		assert.Zero(t, c.Trader.Stats().Snapshot().EventErrors, "command %s", kind)
	}
}

func TestUnroutableItemIsDropped(t *testing.T) {
	tx, _ := execution.NewQueue()
	c := consumeWith(t, event.NewSliceFeed(nil, market(btc, 1)), strategy.Hold{}, tx)
	next := c.Next(context.Background())
	require.Equal(t, PhaseConsume, next.Phase())
	assert.Equal(t, int64(1), c.Trader.Stats().Snapshot().Dropped)
	assert.Equal(t, PhaseUpdateFromMarket, next.Next(context.Background()).Phase())
}

func TestMalformedMarketEventIsRecoverable(t *testing.T) {
	strat := &mockStrategy{}
	strat.On("Decide", mock.Anything, mock.Anything).Return(nil, nil)
	tx, _ := execution.NewQueue()
	unknown := market(instrument.MustParse("DOGE/USDT"), 1)
	negative := market(btc, -5)
	c := consumeWith(t, event.NewSliceFeed(unknown, negative, market(btc, 10)), strat, tx)
	before := c.Trader.State().Portfolio
	ctx := context.Background()

	upd := c.Next(ctx)
	require.Equal(t, PhaseUpdateFromMarket, upd.Phase())
	after, ok := upd.Next(ctx).(Consume)
	require.True(t, ok)
	assert.Same(t, before, after.Trader.State().Portfolio)

	upd = after.Next(ctx)
	after, ok = upd.Next(ctx).(Consume)
	require.True(t, ok)
	assert.Same(t, before, after.Trader.State().Portfolio)
	strat.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)

	term, phases := drive(t, after)
	require.NoError(t, term.Err())
	assert.Contains(t, phases, PhaseGenerateOrderAlgorithmic)
	assert.Equal(t, int64(2), term.Trader.Stats().Snapshot().EventErrors)
	strat.AssertNumberOfCalls(t, "Decide", 1)
}

func TestMarketUpdateWithoutSignalReturnsToConsume(t *testing.T) {
	pf := &mockPortfolio{}
	updated := &mockPortfolio{}
	pf.On("UpdateFromMarket", mock.Anything).Return(updated, nil, nil).Once()
	init := &mockInitialiser{}
	init.On("Init", mock.Anything).Return(pf, nil)
	tx, _ := execution.NewQueue()
	e, err := newBuilder(event.NewSliceFeed(market(btc, 3)), strategy.Hold{}, tx).Portfolio(init).Build()
	require.NoError(t, err)
	ctx := context.Background()

	next := e.Next(ctx).Next(ctx).Next(ctx)
	c, ok := next.(Consume)
	require.True(t, ok)
	assert.Same(t, updated, c.Trader.State().Portfolio)
}

func TestRequestsPreserveEventOrder(t *testing.T) {
	tx, rx := execution.NewQueue()
	feed := event.NewSliceFeed(market(btc, 10), market(eth, 20), market(btc, 30))
	term, err := Run(context.Background(), build(t, feed, &echoStrategy{}, tx))
	require.NoError(t, err)
	require.NoError(t, term.Err())

	reqs := drain(rx)
	require.Len(t, reqs, 6)
	wantPx := []int64{10, 10, 20, 20, 30, 30}
	wantQty := []int64{1, 2, 1, 2, 1, 2}
	for i, req := range reqs {
		assert.True(t, req.Price.Equal(decimal.NewFromInt(wantPx[i])), "request %d price %s", i, req.Price)
		assert.True(t, req.Quantity.Equal(decimal.NewFromInt(wantQty[i])), "request %d qty %s", i, req.Quantity)
		assert.Equal(t, execution.OriginAlgorithmic, req.Origin)
		assert.Equal(t, execution.KindOpen, req.Kind)
	}
}

func TestOrderGenerationDoesNotMutatePortfolio(t *testing.T) {
	tx, _ := execution.NewQueue()
	c := consumeWith(t, event.NewSliceFeed(market(btc, 10)), &echoStrategy{}, tx)
	ctx := context.Background()
	gen, ok := c.Next(ctx).Next(ctx).(GenerateOrder)
	require.True(t, ok)
	p := gen.Trader.State().Portfolio
	after, ok := gen.Next(ctx).(Consume)
	require.True(t, ok)
	assert.Same(t, p, after.Trader.State().Portfolio)
	_, held := after.Trader.State().Portfolio.View().Position(instrument.Key{Exchange: "binance", Instrument: btc})
	assert.False(t, held, "orders only change the portfolio once filled")
}

func TestFailedIntentsDoNotAbortTheBatch(t *testing.T) {
	strat := &mockStrategy{}
	strat.On("Decide", mock.Anything, mock.Anything).Return([]strategy.OrderIntent{
		{Exchange: "binance", Instrument: btc, Side: instrument.SideBuy, Quantity: decimal.Zero},
		{Exchange: "binance", Instrument: btc, Side: instrument.SideBuy, Quantity: decimal.NewFromInt(1)},
		{Exchange: "binance", Instrument: btc, Side: instrument.SideSell, Quantity: decimal.NewFromInt(2)},
	}, nil)
	tx := &mockSender{}
	tx.On("Send", mock.MatchedBy(func(r execution.Request) bool { return r.Side == instrument.SideBuy })).
		Return(errors.New("venue timeout")).Once()
	tx.On("Send", mock.MatchedBy(func(r execution.Request) bool { return r.Side == instrument.SideSell })).
		Return(nil).Once()

	term, err := Run(context.Background(), build(t, event.NewSliceFeed(market(btc, 10)), strat, tx))
	require.NoError(t, err)
	tx.AssertNumberOfCalls(t, "Send", 2)
	snap := term.Trader.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.RequestsSent)
	assert.Equal(t, int64(2), snap.RequestsFailed)
}

func TestStrategyErrorIsRecoverable(t *testing.T) {
	strat := &mockStrategy{}
	strat.On("Decide", mock.Anything, mock.Anything).Return(nil, errors.New("not enough history"))
	tx := &mockSender{}
	term, err := Run(context.Background(), build(t, event.NewSliceFeed(market(btc, 1), market(btc, 2)), strat, tx))
	require.NoError(t, err)
	strat.AssertNumberOfCalls(t, "Decide", 2)
	tx.AssertNotCalled(t, "Send", mock.Anything)
	assert.Equal(t, int64(2), term.Trader.Stats().Snapshot().EventErrors)
}

func TestExecutionChannelDeathTerminates(t *testing.T) {
	tx, rx := execution.NewQueue()
	rx.Close()
	feed := event.NewSliceFeed(market(btc, 10), market(btc, 11))

	e := build(t, feed, &echoStrategy{}, tx)
	term, phases := drive(t, e)
	assert.Equal(t, PhaseGenerateOrderAlgorithmic, phases[len(phases)-2])

	var closed *ExecutionClosedError
	require.ErrorAs(t, term.Err(), &closed)
	assert.ErrorIs(t, term.Err(), execution.ErrClosed)
	assert.NotNil(t, term.Portfolio())
	assert.Equal(t, 1, feed.Remaining(), "no event is consumed after the channel died")

	tx2, rx2 := execution.NewQueue()
	rx2.Close()
	_, err := Run(context.Background(), build(t, event.NewSliceFeed(market(btc, 10)), &echoStrategy{}, tx2))
	assert.ErrorAs(t, err, &closed)
}

func TestExecutionChannelDeathDuringCommand(t *testing.T) {
	tx, rx := execution.NewQueue()
	rx.Close()
	term, err := Run(context.Background(), build(t, event.NewSliceFeed(event.CancelOrder{Exchange: "binance", OrderID: "o-1"}), strategy.Hold{}, tx))
	require.Error(t, err)
	assert.ErrorIs(t, err, execution.ErrClosed)
	assert.Equal(t, PhaseTerminate, term.Phase())
}

func TestAccountEventReconcilesPortfolio(t *testing.T) {
	tx, _ := execution.NewQueue()
	c := consumeWith(t, event.NewSliceFeed(fillEvent(instrument.SideBuy, 2, 100)), strategy.Hold{}, tx)
	ctx := context.Background()
	upd := c.Next(ctx)
	require.Equal(t, PhaseUpdateFromAccount, upd.Phase())
	after, ok := upd.Next(ctx).(Consume)
	require.True(t, ok)
	pos, held := after.Trader.State().Portfolio.View().Position(instrument.Key{Exchange: "binance", Instrument: btc})
	require.True(t, held)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(2)))
}

func TestBadAccountEventKeepsPortfolio(t *testing.T) {
	tx, _ := execution.NewQueue()
	c := consumeWith(t, event.NewSliceFeed(event.Account{Type: "funding"}), strategy.Hold{}, tx)
	before := c.Trader.State().Portfolio
	ctx := context.Background()
	after, ok := c.Next(ctx).Next(ctx).(Consume)
	require.True(t, ok)
	assert.Same(t, before, after.Trader.State().Portfolio)
}

func TestOperatorCommandsEmitManualRequests(t *testing.T) {
	tx, rx := execution.NewQueue()
	feed := event.NewSliceFeed(
		fillEvent(instrument.SideBuy, 2, 100),
		event.ManualOrder{ID: "op-1", Exchange: "binance", Instrument: eth, Side: instrument.SideSell,
			Quantity: decimal.NewFromInt(3), Price: decimal.NewFromInt(50)},
		event.ClosePosition{Exchange: "binance", Instrument: btc},
		event.ClosePosition{Exchange: "binance", Instrument: eth},
		event.CancelOrder{Exchange: "binance", OrderID: "paper-9"},
		event.Shutdown{Reason: "operator"},
		market(btc, 1),
	)
	term, err := Run(context.Background(), build(t, feed, strategy.Hold{}, tx))
	require.NoError(t, err)
	assert.Equal(t, "shutdown command: operator", term.Reason())
	assert.Equal(t, 1, feed.Remaining(), "events after shutdown stay unread")

	reqs := drain(rx)
	require.Len(t, reqs, 3)

	assert.Equal(t, execution.KindOpen, reqs[0].Kind)
	assert.Equal(t, execution.OriginManual, reqs[0].Origin)
	assert.Equal(t, eth, reqs[0].Instrument)
	assert.True(t, reqs[0].Quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, "manual order op-1", reqs[0].Reason)

	assert.Equal(t, execution.KindClose, reqs[1].Kind)
	assert.Equal(t, instrument.SideSell, reqs[1].Side)
	assert.True(t, reqs[1].Quantity.Equal(decimal.NewFromInt(2)))

	assert.Equal(t, execution.KindCancel, reqs[2].Kind)
	assert.Equal(t, "paper-9", reqs[2].OrderID)
	for _, req := range reqs {
		assert.NotEmpty(t, req.Reason, req.String())
	}
}

func TestStrategyReasonReachesTheRequest(t *testing.T) {
	strat := &mockStrategy{}
	strat.On("Decide", mock.Anything, mock.Anything).Return([]strategy.OrderIntent{
		{Exchange: "binance", Instrument: btc, Side: instrument.SideBuy, Quantity: decimal.NewFromInt(1), Reason: "golden cross"},
	}, nil)
	tx, rx := execution.NewQueue()
	_, err := Run(context.Background(), build(t, event.NewSliceFeed(market(btc, 10)), strat, tx))
	require.NoError(t, err)
	reqs := drain(rx)
	require.Len(t, reqs, 1)
	assert.Equal(t, "golden cross", reqs[0].Reason)
}

func TestMixedSessionOnlyTakesLegalTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tx, rx := execution.NewQueue()
	feed := event.NewSliceFeed(
		market(btc, 10),
		market(instrument.MustParse("DOGE/USDT"), 1),
		fillEvent(instrument.SideBuy, 1, 10),
		event.Account{Type: event.AccountRejected, OrderID: "o-2", Reason: "insufficient margin"},
		event.ManualOrder{Exchange: "binance", Instrument: btc, Side: instrument.SideBuy, Quantity: decimal.NewFromInt(1)},
		event.ClosePosition{Exchange: "binance", Instrument: btc},
		event.CancelOrder{Exchange: "binance", OrderID: "o-2"},
		market(eth, 20),
	)
	e, err := newBuilder(feed, &echoStrategy{}, tx).Metrics(metrics).Build()
	require.NoError(t, err)

	term, phases := drive(t, e)
	require.NoError(t, term.Err())
	assert.Equal(t, PhaseTerminate, phases[len(phases)-1])

	assert.Equal(t, 8.0, testutil.ToFloat64(metrics.events.WithLabelValues("market"))+
		testutil.ToFloat64(metrics.events.WithLabelValues("account"))+
		testutil.ToFloat64(metrics.events.WithLabelValues("command")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventErrors.WithLabelValues(PhaseUpdateFromMarket.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("consume", "terminate")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.requests.WithLabelValues("algorithmic", "open", "sent")))
	assert.Equal(t, float64(rx.Len()), testutil.ToFloat64(metrics.queueDepth))
	assert.Equal(t, int64(len(phases)-1), term.Trader.Stats().Snapshot().Transitions)
}

// panicStrategy panics on its first decision and holds afterwards.
type panicStrategy struct{ calls int }

func (s *panicStrategy) Name() string { return "panics" }

func (s *panicStrategy) Decide(context.Context, portfolio.View, portfolio.Signal) ([]strategy.OrderIntent, error) {
	s.calls++
	if s.calls == 1 {
		panic("index out of range in indicator")
	}
	return nil, nil
}

func TestPanickingStrategyIsRecoverable(t *testing.T) {
	strat := &panicStrategy{}
	tx, rx := execution.NewQueue()
	c := consumeWith(t, event.NewSliceFeed(market(btc, 10), market(btc, 11)), strat, tx)
	before := c.Trader.State().Portfolio
	ctx := context.Background()

	gen, ok := c.Next(ctx).Next(ctx).(GenerateOrder)
	require.True(t, ok)
	var next Engine
	require.NotPanics(t, func() { next = gen.Next(ctx) })
	after, ok := next.(Consume)
	require.True(t, ok, "got %s", next.Phase())
	assert.Same(t, before, after.Trader.State().Portfolio)
	assert.True(t, gen.Trader.Spent())

	term, phases := drive(t, after)
	require.NoError(t, term.Err())
	assert.Equal(t, "feed closed", term.Reason())
	assert.Contains(t, phases, PhaseGenerateOrderAlgorithmic)
	assert.Equal(t, 2, strat.calls, "the session keeps deciding after a panic")
	assert.Equal(t, int64(1), term.Trader.Stats().Snapshot().EventErrors)
	assert.Empty(t, drain(rx))
}

func TestPanickingPortfolioUpdateIsRecoverable(t *testing.T) {
	pf := &mockPortfolio{}
	pf.On("UpdateFromAccount", mock.Anything).Run(func(mock.Arguments) { panic("nil balance") }).Once()
	init := &mockInitialiser{}
	init.On("Init", mock.Anything).Return(pf, nil)
	tx, _ := execution.NewQueue()
	feed := event.NewSliceFeed(fillEvent(instrument.SideBuy, 1, 100), event.Shutdown{Reason: "eod"})
	e, err := newBuilder(feed, strategy.Hold{}, tx).Portfolio(init).Build()
	require.NoError(t, err)

	var term Terminate
	require.NotPanics(t, func() { term, err = Run(context.Background(), e) })
	require.NoError(t, err)
	assert.Equal(t, "shutdown command: eod", term.Reason())
	assert.Same(t, pf, term.Portfolio())
	assert.Equal(t, int64(1), term.Trader.Stats().Snapshot().EventErrors)
}

func TestPanickingInitialiserTerminates(t *testing.T) {
	init := &mockInitialiser{}
	init.On("Init", mock.Anything).Run(func(mock.Arguments) { panic("no balances") })
	tx, _ := execution.NewQueue()
	e, err := newBuilder(event.NewSliceFeed(market(btc, 1)), strategy.Hold{}, tx).Portfolio(init).Build()
	require.NoError(t, err)

	var term Terminate
	require.NotPanics(t, func() { term, err = Run(context.Background(), e) })
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Contains(t, initErr.Error(), "no balances")
	assert.Nil(t, term.Portfolio())
}
