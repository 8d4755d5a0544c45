// Package strategy turns decision-relevant signals into order intents.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"tradeloop/internal/instrument"
	"tradeloop/internal/logger"
	"tradeloop/internal/portfolio"

	"github.com/shopspring/decimal"
)

// Strategy decides what to trade. It must not mutate the view.
type Strategy interface {
	Name() string
	Decide(ctx context.Context, view portfolio.View, signal portfolio.Signal) ([]OrderIntent, error)
}

// OrderIntent is a decision to trade, before it is packaged as an
// execution request. A zero Price means "at market".
type OrderIntent struct {
	Exchange   instrument.Exchange
	Instrument instrument.Instrument
	Side       instrument.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Reason     string
}

func (o OrderIntent) String() string {
	return fmt.Sprintf("%s %s %s qty=%s px=%s", o.Exchange, o.Instrument, o.Side, o.Quantity, o.Price)
}

// Params is the configuration surface shared by built-in strategies.
type Params struct {
	ShortPeriod int
	LongPeriod  int
	Quantity    decimal.Decimal
	MaxHistory  int
}

type Factory func(Params) (Strategy, error)

// Registry maps strategy names to factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory; a later registration under the same name
// replaces the earlier one.
func (r *Registry) Register(name string, f Factory) {
	if name == "" || f == nil {
		return
	}
	r.factories[name] = f
}

func (r *Registry) Build(name string, p Params) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q (known: %v)", name, r.Names())
	}
	s, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return s, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RegisterDefaults registers the built-in strategies.
func (r *Registry) RegisterDefaults() {
	r.Register(SMACrossName, func(p Params) (Strategy, error) { return NewSMACross(p) })
	r.Register(HoldName, func(Params) (Strategy, error) { return Hold{}, nil })
	logger.Debugf("Strategy: registered %d strategies", len(r.factories))
}

const HoldName = "hold"

// Hold never trades; useful for recording sessions.
type Hold struct{}

func (Hold) Name() string { return HoldName }

func (Hold) Decide(context.Context, portfolio.View, portfolio.Signal) ([]OrderIntent, error) {
	return nil, nil
}
