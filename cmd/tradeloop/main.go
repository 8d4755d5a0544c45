package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradeloop/internal/config"
	"tradeloop/internal/engine"
	"tradeloop/internal/event"
	"tradeloop/internal/execution"
	"tradeloop/internal/instrument"
	"tradeloop/internal/logger"
	"tradeloop/internal/portfolio"
	"tradeloop/internal/session"
	"tradeloop/internal/strategy"
	livehttp "tradeloop/internal/transport/http/live"

	"github.com/natefinch/lumberjack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func main() {
	defaultPath := os.Getenv("TRADELOOP_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/tradeloop.yaml"
	}
	cfgPath := flag.String("config", defaultPath, "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	closeLog := setupLogOutput(cfg.App)
	defer closeLog()
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, strategy=%s, feed=%s)", cfg.App.Env, cfg.Strategy.Name, cfg.Feed.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Errorf("tradeloop: %v", err)
		closeLog()
		os.Exit(1)
	}
}

// setupLogOutput tees logs to stdout and a rotating file.
func setupLogOutput(app config.AppConfig) func() {
	path := strings.TrimSpace(app.LogPath)
	if path == "" {
		return func() {}
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    app.LogMaxSizeMB,
		MaxBackups: app.LogMaxBackups,
	}
	mw := io.MultiWriter(os.Stdout, rotator)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return func() { _ = rotator.Close() }
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	universe, err := cfg.Engine.Universe()
	if err != nil {
		return err
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i].Close())
		}
	}()

	feed := event.NewChannelFeed(cfg.Feed.Buffer)
	var engineFeed event.Feed = feed
	if store, err := openJournal(cfg.Feed); err != nil {
		return err
	} else if store != nil {
		closers = append(closers, store)
		engineFeed = event.NewJournalFeed(feed, store)
	}

	tx, rx := execution.NewQueue()
	venue := execution.NewPaperVenue(rx, feed, execution.PaperConfig{
		Exchange:         instrument.Exchange(cfg.Execution.Exchange),
		FeeRate:          cfg.Execution.FeeRate,
		BreakerThreshold: cfg.Execution.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Execution.BreakerCooldownSeconds) * time.Second,
	})

	registry := strategy.NewRegistry()
	registry.RegisterDefaults()
	strat, err := registry.Build(cfg.Strategy.Name, strategy.Params{
		ShortPeriod: cfg.Strategy.ShortPeriod,
		LongPeriod:  cfg.Strategy.LongPeriod,
		Quantity:    cfg.Strategy.Quantity,
		MaxHistory:  cfg.Strategy.MaxHistory,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)
	stats := engine.NewStats()

	var store *session.Store
	if cfg.Session.DBPath != "" {
		store, err = session.Open(cfg.Session.DBPath)
		if err != nil {
			return err
		}
		closers = append(closers, store)
	}

	initial, err := engine.NewBuilder().
		Feed(engineFeed).
		Strategy(strat).
		ExecutionSender(tx).
		Instruments(universe).
		Portfolio(portfolio.LedgerInitialiser{Balances: cfg.Engine.Balances}).
		Metrics(metrics).
		Stats(stats).
		Build()
	if err != nil {
		return err
	}
	sessionID := initial.Trader.SessionID()

	var replay *event.ReplayFeed
	if cfg.Feed.Mode == config.FeedModeReplay {
		replay, err = event.OpenReplay(cfg.Feed.ReplayPath)
		if err != nil {
			return err
		}
		closers = append(closers, replay)
	}

	var srv *livehttp.Server
	if cfg.App.HTTPAddr != "" {
		var lister livehttp.SessionLister
		if store != nil {
			lister = store
		}
		srv, err = livehttp.NewServer(livehttp.ServerConfig{
			Addr:     cfg.App.HTTPAddr,
			Commands: feed,
			Status: livehttp.StatusFunc(func() livehttp.Status {
				return livehttp.Status{
					SessionID:    sessionID,
					Engine:       stats.Snapshot(),
					Venue:        cfg.Execution.Venue,
					Breaker:      venue.BreakerState().String(),
					BreakerTrips: venue.BreakerTrips(),
					QueueDepth:   tx.Len(),
				}
			}),
			Sessions: lister,
			Gatherer: reg,
		})
		if err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return venue.Run(gctx) })
	if replay != nil {
		g.Go(func() error {
			err := event.Pump(gctx, replay, feed, venue.Observe)
			logger.Infof("replay finished (skipped=%d)", replay.Skipped())
			if err == nil {
				// queued behind the replayed events, so the engine drains them first
				err = feed.Publish(gctx, event.Shutdown{Reason: "replay finished"})
			}
			if errors.Is(err, event.ErrFeedClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if srv != nil {
		g.Go(func() error { return srv.Start(gctx) })
	}

	g.Go(func() error {
		term, runErr := engine.Run(gctx, initial)
		// stop the producers and the venue with the session
		feed.Close()
		tx.Close()
		cancel()

		report := session.NewReport(term, time.Now())
		session.Print(report)
		if store != nil {
			saveCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := store.Save(saveCtx, report); err != nil {
				runErr = multierr.Append(runErr, err)
			}
		}
		return runErr
	})

	return g.Wait()
}

func openJournal(cfg config.FeedConfig) (event.EventStore, error) {
	switch cfg.Journal {
	case config.JournalFile:
		return event.NewFileEventStore(cfg.JournalPath)
	case config.JournalSQLite:
		return event.NewSQLiteEventStore(cfg.JournalPath)
	default:
		return nil, nil
	}
}
