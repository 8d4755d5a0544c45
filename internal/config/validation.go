package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if len(e.Instruments) == 0 && strings.TrimSpace(e.InstrumentsPath) == "" {
		return fmt.Errorf("engine.instruments or engine.instruments_path is required")
	}
	for asset, amt := range e.Balances {
		if amt.IsNegative() {
			return fmt.Errorf("engine.balances.%s must be >= 0", asset)
		}
	}
	return nil
}

func (f *FeedConfig) validate() error {
	switch f.Mode {
	case FeedModeChannel:
	case FeedModeReplay:
		if strings.TrimSpace(f.ReplayPath) == "" {
			return fmt.Errorf("feed.replay_path is required when feed.mode=replay")
		}
	default:
		return fmt.Errorf("feed.mode must be channel or replay, got %q", f.Mode)
	}
	if f.Buffer < 0 {
		return fmt.Errorf("feed.buffer must be >= 0")
	}
	switch f.Journal {
	case JournalNone:
	case JournalFile, JournalSQLite:
		if strings.TrimSpace(f.JournalPath) == "" {
			return fmt.Errorf("feed.journal_path is required when feed.journal=%s", f.Journal)
		}
	default:
		return fmt.Errorf("feed.journal must be none, file or sqlite, got %q", f.Journal)
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if s.ShortPeriod < 0 || s.LongPeriod < 0 || s.MaxHistory < 0 {
		return fmt.Errorf("strategy periods must be >= 0")
	}
	if s.Quantity.IsNegative() {
		return fmt.Errorf("strategy.quantity must be >= 0")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.Venue != "paper" {
		return fmt.Errorf("execution.venue %q is not supported (only paper)", e.Venue)
	}
	if e.FeeRate.IsNegative() {
		return fmt.Errorf("execution.fee_rate must be >= 0")
	}
	if e.BreakerThreshold < 1 {
		return fmt.Errorf("execution.breaker_threshold must be >= 1")
	}
	if e.BreakerCooldownSeconds < 0 {
		return fmt.Errorf("execution.breaker_cooldown_seconds must be >= 0")
	}
	return nil
}
