// Package portfolio holds the capability contracts the engine drives the
// portfolio through, plus a reference Ledger implementation.
package portfolio

import (
	"context"
	"errors"
	"time"

	"tradeloop/internal/event"
	"tradeloop/internal/instrument"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownInstrument = errors.New("portfolio: unknown instrument")
	ErrInvalidMarket     = errors.New("portfolio: invalid market event")
	ErrInvalidAccount    = errors.New("portfolio: invalid account event")
	ErrEmptyUniverse     = errors.New("portfolio: empty instrument universe")
)

// Initialiser builds the session portfolio from the instrument universe.
type Initialiser interface {
	Init(ctx context.Context, universe instrument.Universe) (Portfolio, error)
}

type InitialiserFunc func(ctx context.Context, universe instrument.Universe) (Portfolio, error)

func (f InitialiserFunc) Init(ctx context.Context, universe instrument.Universe) (Portfolio, error) {
	return f(ctx, universe)
}

// Portfolio updates are value-returning: the receiver is left untouched and
// must still be valid when an update fails.
type Portfolio interface {
	View() View
	UpdateFromMarket(ctx context.Context, ev event.Market) (Portfolio, *Signal, error)
	UpdateFromAccount(ctx context.Context, ev event.Account) (Portfolio, error)
}

// View is the read-only face handed to strategies and reporting.
type View interface {
	Instruments() []instrument.Key
	Knows(key instrument.Key) bool
	Position(key instrument.Key) (Position, bool)
	Positions() []Position
	Balance(asset string) decimal.Decimal
	Balances() map[string]decimal.Decimal
	LastPrice(key instrument.Key) (decimal.Decimal, bool)
}

// Signal marks a market update as decision-relevant.
type Signal struct {
	Exchange   instrument.Exchange
	Instrument instrument.Instrument
	Price      decimal.Decimal
	Reason     string
	Time       time.Time
}

func (s Signal) Key() instrument.Key {
	return instrument.Key{Exchange: s.Exchange, Instrument: s.Instrument}
}

// Position is signed: positive long, negative short.
type Position struct {
	Key         instrument.Key
	Quantity    decimal.Decimal
	AvgPrice    decimal.Decimal
	RealizedPnL decimal.Decimal
}

func (p Position) IsFlat() bool { return p.Quantity.IsZero() }

// Side is the direction held; empty when flat.
func (p Position) Side() instrument.Side {
	switch {
	case p.Quantity.IsPositive():
		return instrument.SideBuy
	case p.Quantity.IsNegative():
		return instrument.SideSell
	default:
		return ""
	}
}

func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgPrice).Mul(p.Quantity)
}
