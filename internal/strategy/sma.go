package strategy

import (
	"context"
	"fmt"
	"sync"

	"tradeloop/internal/instrument"
	"tradeloop/internal/portfolio"

	"github.com/markcheno/go-talib"
)

const SMACrossName = "sma_cross"

// SMACross buys on a golden cross while flat or short and sells the long
// position on a death cross.
type SMACross struct {
	params Params

	mu      sync.Mutex
	history map[instrument.Key][]float64
}

func NewSMACross(p Params) (*SMACross, error) {
	if p.ShortPeriod < 2 || p.LongPeriod <= p.ShortPeriod {
		return nil, fmt.Errorf("need 2 <= short < long, got short=%d long=%d", p.ShortPeriod, p.LongPeriod)
	}
	if !p.Quantity.IsPositive() {
		return nil, fmt.Errorf("order quantity must be positive, got %s", p.Quantity)
	}
	if p.MaxHistory < p.LongPeriod+1 {
		p.MaxHistory = 4 * p.LongPeriod
	}
	return &SMACross{params: p, history: make(map[instrument.Key][]float64)}, nil
}

func (s *SMACross) Name() string { return SMACrossName }

func (s *SMACross) Decide(_ context.Context, view portfolio.View, sig portfolio.Signal) ([]OrderIntent, error) {
	if !sig.Price.IsPositive() {
		return nil, fmt.Errorf("sma_cross: signal without price for %s", sig.Key())
	}
	key := sig.Key()
	closes := s.record(key, sig.Price.InexactFloat64())
	if len(closes) < s.params.LongPeriod+1 {
		return nil, nil
	}

	short := talib.Sma(closes, s.params.ShortPeriod)
	long := talib.Sma(closes, s.params.LongPeriod)
	n := len(closes) - 1
	prev := short[n-1] - long[n-1]
	curr := short[n] - long[n]

	pos, held := view.Position(key)
	switch {
	case prev <= 0 && curr > 0 && (!held || pos.Quantity.IsNegative()):
		qty := s.params.Quantity
		if held {
			qty = qty.Add(pos.Quantity.Abs())
		}
		return []OrderIntent{{
			Exchange: sig.Exchange, Instrument: sig.Instrument, Side: instrument.SideBuy,
			Quantity: qty, Price: sig.Price, Reason: "golden cross",
		}}, nil
	case prev >= 0 && curr < 0 && held && pos.Quantity.IsPositive():
		return []OrderIntent{{
			Exchange: sig.Exchange, Instrument: sig.Instrument, Side: instrument.SideSell,
			Quantity: pos.Quantity, Price: sig.Price, Reason: "death cross",
		}}, nil
	}
	return nil, nil
}

// record appends a close and returns a copy of the bounded history.
func (s *SMACross) record(key instrument.Key, px float64) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[key], px)
	if over := len(h) - s.params.MaxHistory; over > 0 {
		h = append([]float64(nil), h[over:]...)
	}
	s.history[key] = h
	return append([]float64(nil), h...)
}
