package portfolio

import (
	"context"
	"fmt"

	"tradeloop/internal/event"
	"tradeloop/internal/instrument"
	"tradeloop/internal/logger"

	"github.com/shopspring/decimal"
)

// LedgerInitialiser builds a Ledger with the given opening balances.
type LedgerInitialiser struct {
	Balances map[string]decimal.Decimal
}

func (li LedgerInitialiser) Init(_ context.Context, universe instrument.Universe) (Portfolio, error) {
	if universe.Count() == 0 {
		return nil, ErrEmptyUniverse
	}
	if err := universe.Validate(); err != nil {
		return nil, err
	}
	keys := universe.Keys()
	l := &Ledger{
		keys:      keys,
		known:     make(map[instrument.Key]struct{}, len(keys)),
		positions: make(map[instrument.Key]Position),
		balances:  make(map[string]decimal.Decimal, len(li.Balances)),
		prices:    make(map[instrument.Key]decimal.Decimal),
	}
	for _, k := range keys {
		l.known[k] = struct{}{}
	}
	for asset, amt := range li.Balances {
		l.balances[asset] = amt
	}
	logger.Infof("Ledger: initialised %d instruments on %d exchanges", len(keys), len(universe))
	return l, nil
}

// Ledger is a copy-on-write spot ledger: every update returns a new value
// and leaves the receiver as it was.
type Ledger struct {
	keys      []instrument.Key
	known     map[instrument.Key]struct{}
	positions map[instrument.Key]Position
	balances  map[string]decimal.Decimal
	prices    map[instrument.Key]decimal.Decimal

	fills      int
	rejections int
}

func (l *Ledger) clone() *Ledger {
	next := &Ledger{
		keys:       l.keys,
		known:      l.known,
		positions:  make(map[instrument.Key]Position, len(l.positions)),
		balances:   make(map[string]decimal.Decimal, len(l.balances)),
		prices:     make(map[instrument.Key]decimal.Decimal, len(l.prices)),
		fills:      l.fills,
		rejections: l.rejections,
	}
	for k, v := range l.positions {
		next.positions[k] = v
	}
	for k, v := range l.balances {
		next.balances[k] = v
	}
	for k, v := range l.prices {
		next.prices[k] = v
	}
	return next
}

func (l *Ledger) View() View { return l }

func (l *Ledger) UpdateFromMarket(_ context.Context, ev event.Market) (Portfolio, *Signal, error) {
	key := ev.Key()
	if !l.Knows(key) {
		return l, nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, key)
	}
	if !ev.Price.IsPositive() {
		return l, nil, fmt.Errorf("%w: non-positive price %s for %s", ErrInvalidMarket, ev.Price, key)
	}
	if ev.Volume.IsNegative() {
		return l, nil, fmt.Errorf("%w: negative volume %s for %s", ErrInvalidMarket, ev.Volume, key)
	}
	next := l.clone()
	next.prices[key] = ev.Price
	return next, &Signal{
		Exchange:   ev.Exchange,
		Instrument: ev.Instrument,
		Price:      ev.Price,
		Reason:     string(ev.Type),
		Time:       ev.Time,
	}, nil
}

func (l *Ledger) UpdateFromAccount(_ context.Context, ev event.Account) (Portfolio, error) {
	switch ev.Type {
	case event.AccountFill:
		return l.applyFill(ev)
	case event.AccountRejected:
		next := l.clone()
		next.rejections++
		return next, nil
	case event.AccountBalance:
		if ev.Asset == "" {
			return l, fmt.Errorf("%w: balance without asset", ErrInvalidAccount)
		}
		next := l.clone()
		next.balances[ev.Asset] = ev.Balance
		return next, nil
	default:
		return l, fmt.Errorf("%w: unknown kind %q", ErrInvalidAccount, ev.Type)
	}
}

func (l *Ledger) applyFill(ev event.Account) (Portfolio, error) {
	key := ev.Key()
	if !l.Knows(key) {
		return l, fmt.Errorf("%w: fill for %s", ErrUnknownInstrument, key)
	}
	if !ev.Side.Valid() {
		return l, fmt.Errorf("%w: fill side %q", ErrInvalidAccount, ev.Side)
	}
	if !ev.Quantity.IsPositive() || !ev.Price.IsPositive() {
		return l, fmt.Errorf("%w: fill qty=%s px=%s", ErrInvalidAccount, ev.Quantity, ev.Price)
	}

	delta := ev.Quantity
	if ev.Side == instrument.SideSell {
		delta = delta.Neg()
	}

	next := l.clone()
	pos := next.positions[key]
	pos.Key = key
	switch {
	case pos.Quantity.IsZero() || pos.Quantity.Sign() == delta.Sign():
		held := pos.Quantity.Abs()
		cost := held.Mul(pos.AvgPrice).Add(ev.Quantity.Mul(ev.Price))
		pos.AvgPrice = cost.Div(held.Add(ev.Quantity))
		pos.Quantity = pos.Quantity.Add(delta)
	default:
		closing := decimal.Min(pos.Quantity.Abs(), ev.Quantity)
		direction := decimal.NewFromInt(int64(pos.Quantity.Sign()))
		pos.RealizedPnL = pos.RealizedPnL.Add(ev.Price.Sub(pos.AvgPrice).Mul(closing).Mul(direction))
		remaining := pos.Quantity.Add(delta)
		switch {
		case remaining.IsZero():
			pos.AvgPrice = decimal.Zero
		case remaining.Sign() != pos.Quantity.Sign():
			pos.AvgPrice = ev.Price
		}
		pos.Quantity = remaining
	}
	next.positions[key] = pos

	notional := ev.Quantity.Mul(ev.Price)
	quote := key.Instrument.Quote
	base := key.Instrument.Base
	if ev.Side == instrument.SideBuy {
		next.balances[quote] = next.balances[quote].Sub(notional)
	} else {
		next.balances[quote] = next.balances[quote].Add(notional)
	}
	next.balances[base] = next.balances[base].Add(delta)
	if !ev.Fee.IsZero() {
		feeAsset := ev.Asset
		if feeAsset == "" {
			feeAsset = quote
		}
		next.balances[feeAsset] = next.balances[feeAsset].Sub(ev.Fee)
	}
	next.fills++
	return next, nil
}

func (l *Ledger) Instruments() []instrument.Key {
	return append([]instrument.Key(nil), l.keys...)
}

func (l *Ledger) Knows(key instrument.Key) bool {
	_, ok := l.known[key]
	return ok
}

func (l *Ledger) Position(key instrument.Key) (Position, bool) {
	pos, ok := l.positions[key]
	if !ok || pos.IsFlat() {
		return Position{Key: key}, false
	}
	return pos, true
}

// Positions lists open positions in universe order.
func (l *Ledger) Positions() []Position {
	var out []Position
	for _, k := range l.keys {
		if pos, ok := l.Position(k); ok {
			out = append(out, pos)
		}
	}
	return out
}

func (l *Ledger) Balance(asset string) decimal.Decimal {
	return l.balances[asset]
}

func (l *Ledger) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

func (l *Ledger) LastPrice(key instrument.Key) (decimal.Decimal, bool) {
	px, ok := l.prices[key]
	return px, ok
}

func (l *Ledger) Fills() int      { return l.fills }
func (l *Ledger) Rejections() int { return l.rejections }
