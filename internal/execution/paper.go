package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradeloop/internal/event"
	"tradeloop/internal/instrument"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/circuit"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaperConfig struct {
	Exchange         instrument.Exchange
	FeeRate          decimal.Decimal
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// PaperVenue is a simulated execution consumer. It fills open and close
// requests at the request price or the last observed market price and
// reports the outcome back through the event feed as account events.
type PaperVenue struct {
	cfg     PaperConfig
	rx      *Rx
	out     event.Publisher
	breaker *circuit.Breaker
	now     func() time.Time

	mu     sync.RWMutex
	prices map[instrument.Key]decimal.Decimal

	seq      atomic.Int64
	filled   atomic.Int64
	rejected atomic.Int64
	dropped  atomic.Int64
	trips    atomic.Int64
}

func NewPaperVenue(rx *Rx, out event.Publisher, cfg PaperConfig) *PaperVenue {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	v := &PaperVenue{
		cfg:     cfg,
		rx:      rx,
		out:     out,
		breaker: circuit.New("paper-venue", cfg.BreakerThreshold, cfg.BreakerCooldown),
		now:     func() time.Time { return time.Now().UTC() },
		prices:  make(map[instrument.Key]decimal.Decimal),
	}
	v.breaker.OnStateChange(v.breakerChanged)
	return v
}

func (v *PaperVenue) breakerChanged(name string, from, to circuit.State) {
	if to == circuit.StateOpen {
		v.trips.Add(1)
	}
	logger.Warnf("PaperVenue: breaker %s %s -> %s (trips=%d, dropped=%d)", name, from, to, v.trips.Load(), v.dropped.Load())
}

// Observe records market prices; it is meant as a feed tap.
func (v *PaperVenue) Observe(ev event.Event) {
	m, ok := ev.(event.Market)
	if !ok || !m.Price.IsPositive() {
		return
	}
	v.mu.Lock()
	v.prices[m.Key()] = m.Price
	v.mu.Unlock()
}

func (v *PaperVenue) lastPrice(key instrument.Key) (decimal.Decimal, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	px, ok := v.prices[key]
	return px, ok
}

// Run consumes requests until ctx ends, the producer closes the queue or the
// feed stops accepting reports. The consumer side is closed on return, so
// later sends fail with ErrClosed.
func (v *PaperVenue) Run(ctx context.Context) error {
	defer v.rx.Close()
	logger.Infof("PaperVenue: started (exchange=%s fee=%s)", v.cfg.Exchange, v.cfg.FeeRate)
	for {
		req, err := v.rx.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Infof("PaperVenue: stopped (filled=%d rejected=%d dropped=%d)", v.filled.Load(), v.rejected.Load(), v.dropped.Load())
				return nil
			}
			return err
		}
		report := v.handle(req)
		err = v.breaker.Execute(func() error { return v.out.Publish(ctx, report) })
		switch {
		case err == nil:
		case errors.Is(err, event.ErrFeedClosed):
			logger.Infof("PaperVenue: feed closed, stopping")
			return nil
		case errors.Is(err, circuit.ErrOpen):
			v.dropped.Add(1)
			logger.Warnf("PaperVenue: breaker open, dropped report for %s", req.ID)
		default:
			v.dropped.Add(1)
			logger.Warnf("PaperVenue: publish report for %s failed: %v", req.ID, err)
		}
	}
}

func (v *PaperVenue) handle(req Request) event.Account {
	ts := v.now()
	base := event.Account{
		ID:         uuid.NewString(),
		Exchange:   req.Exchange,
		Instrument: req.Instrument,
		Side:       req.Side,
		Timestamp:  ts,
	}
	if err := req.Validate(); err != nil {
		return v.reject(base, req.OrderID, err.Error())
	}
	if v.cfg.Exchange != "" && req.Exchange != v.cfg.Exchange {
		return v.reject(base, req.OrderID, fmt.Sprintf("unsupported exchange %s", req.Exchange))
	}

	switch req.Kind {
	case KindCancel:
		return v.reject(base, req.OrderID, "order already filled or unknown")
	default:
		price := req.Price
		if !price.IsPositive() {
			last, ok := v.lastPrice(req.Key())
			if !ok {
				return v.reject(base, v.nextOrderID(), "no reference price")
			}
			price = last
		}
		v.filled.Add(1)
		base.Type = event.AccountFill
		base.OrderID = v.nextOrderID()
		base.Quantity = req.Quantity
		base.Price = price
		base.Fee = req.Quantity.Mul(price).Mul(v.cfg.FeeRate)
		base.Asset = req.Instrument.Quote
		logger.Debugf("PaperVenue: filled %s at %s", req, price)
		return base
	}
}

func (v *PaperVenue) reject(ev event.Account, orderID, reason string) event.Account {
	v.rejected.Add(1)
	ev.Type = event.AccountRejected
	ev.OrderID = orderID
	ev.Reason = reason
	logger.Debugf("PaperVenue: rejected order=%s: %s", orderID, reason)
	return ev
}

func (v *PaperVenue) nextOrderID() string {
	return fmt.Sprintf("paper-%d", v.seq.Add(1))
}

func (v *PaperVenue) BreakerState() circuit.State {
	return v.breaker.State()
}

// BreakerTrips counts how often the report breaker opened.
func (v *PaperVenue) BreakerTrips() int64 {
	return v.trips.Load()
}
