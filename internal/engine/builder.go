package engine

import (
	"log/slog"

	"tradeloop/internal/event"
	"tradeloop/internal/execution"
	"tradeloop/internal/instrument"
	"tradeloop/internal/logger"
	"tradeloop/internal/portfolio"
	"tradeloop/internal/strategy"

	"github.com/google/uuid"
)

// Builder collects the dependencies of one session. Build checks the
// required ones in a fixed order: feed, strategy, execution_tx,
// instruments, portfolio.
type Builder struct {
	feed        event.Feed
	strategy    strategy.Strategy
	tx          execution.Sender
	instruments instrument.Universe
	initialiser portfolio.Initialiser

	sessionID string
	log       *slog.Logger
	metrics   *Metrics
	stats     *Stats
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Feed(f event.Feed) *Builder {
	b.feed = f
	return b
}

func (b *Builder) Strategy(s strategy.Strategy) *Builder {
	b.strategy = s
	return b
}

func (b *Builder) ExecutionSender(tx execution.Sender) *Builder {
	b.tx = tx
	return b
}

// Instruments sets the universe handed to the portfolio initialiser as is.
func (b *Builder) Instruments(u instrument.Universe) *Builder {
	b.instruments = u
	return b
}

func (b *Builder) Portfolio(init portfolio.Initialiser) *Builder {
	b.initialiser = init
	return b
}

func (b *Builder) SessionID(id string) *Builder {
	b.sessionID = id
	return b
}

func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.log = l
	return b
}

func (b *Builder) Metrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

func (b *Builder) Stats(s *Stats) *Builder {
	b.stats = s
	return b
}

func (b *Builder) Build() (Initialise, error) {
	switch {
	case b.feed == nil:
		return Initialise{}, &BuilderIncompleteError{Field: "feed"}
	case b.strategy == nil:
		return Initialise{}, &BuilderIncompleteError{Field: "strategy"}
	case b.tx == nil:
		return Initialise{}, &BuilderIncompleteError{Field: "execution_tx"}
	case b.instruments == nil:
		return Initialise{}, &BuilderIncompleteError{Field: "instruments"}
	case b.initialiser == nil:
		return Initialise{}, &BuilderIncompleteError{Field: "portfolio"}
	}

	id := b.sessionID
	if id == "" {
		id = uuid.NewString()
	}
	log := b.log
	if log == nil {
		log = logger.With("component", "engine")
	}
	stats := b.stats
	if stats == nil {
		stats = NewStats()
	}
	sess := &session{
		id:       id,
		feed:     b.feed,
		strategy: b.strategy,
		tx:       b.tx,
		log:      log.With("session", id),
		metrics:  b.metrics,
		stats:    stats,
	}
	return Initialise{Trader: &Trader[InitialiseState]{
		sess: sess,
		state: InitialiseState{
			Instruments: b.instruments,
			initialiser: b.initialiser,
		},
	}}, nil
}
