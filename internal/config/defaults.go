package config

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogPath       = "logs/tradeloop.log"
	defaultAppLogMaxSizeMB  = 50
	defaultAppLogMaxBackups = 3
	defaultAppHTTPAddr      = ":9991"
	defaultFeedMode         = FeedModeChannel
	defaultFeedBuffer       = 1024
	defaultFeedJournal      = JournalNone
	defaultStrategyName     = "sma_cross"
	defaultStrategyShort    = 5
	defaultStrategyLong     = 20
	defaultStrategyQty      = "0.01"
	defaultExecutionVenue   = "paper"
	defaultExecutionFeeRate = "0.001"
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30
	defaultSessionDBPath    = "data/sessions.db"
)

// applyDefaults fills every key the file did not set.
func (c *Config) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &c.App.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &c.App.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &c.App.LogPath, defaultAppLogPath),
		intFieldDefault("app.log_max_size_mb", &c.App.LogMaxSizeMB, defaultAppLogMaxSizeMB),
		intFieldDefault("app.log_max_backups", &c.App.LogMaxBackups, defaultAppLogMaxBackups),
		stringFieldDefault("app.http_addr", &c.App.HTTPAddr, defaultAppHTTPAddr),

		stringFieldDefault("feed.mode", &c.Feed.Mode, defaultFeedMode),
		intFieldDefault("feed.buffer", &c.Feed.Buffer, defaultFeedBuffer),
		stringFieldDefault("feed.journal", &c.Feed.Journal, defaultFeedJournal),

		stringFieldDefault("strategy.name", &c.Strategy.Name, defaultStrategyName),
		intFieldDefault("strategy.short_period", &c.Strategy.ShortPeriod, defaultStrategyShort),
		intFieldDefault("strategy.long_period", &c.Strategy.LongPeriod, defaultStrategyLong),
		decimalFieldDefault("strategy.quantity", &c.Strategy.Quantity, defaultStrategyQty),

		stringFieldDefault("execution.venue", &c.Execution.Venue, defaultExecutionVenue),
		decimalFieldDefault("execution.fee_rate", &c.Execution.FeeRate, defaultExecutionFeeRate),
		intFieldDefault("execution.breaker_threshold", &c.Execution.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("execution.breaker_cooldown_seconds", &c.Execution.BreakerCooldownSeconds, defaultBreakerCooldown),

		stringFieldDefault("session.db_path", &c.Session.DBPath, defaultSessionDBPath),
	)
	c.Feed.Mode = strings.ToLower(strings.TrimSpace(c.Feed.Mode))
	c.Feed.Journal = strings.ToLower(strings.TrimSpace(c.Feed.Journal))
	c.Execution.Exchange = strings.ToLower(strings.TrimSpace(c.Execution.Exchange))
	// viper folds map keys to lower case; assets are upper case everywhere else.
	if len(c.Engine.Balances) > 0 {
		balances := make(map[string]decimal.Decimal, len(c.Engine.Balances))
		for asset, amt := range c.Engine.Balances {
			balances[strings.ToUpper(strings.TrimSpace(asset))] = amt
		}
		c.Engine.Balances = balances
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func decimalFieldDefault(key string, target *decimal.Decimal, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target.IsZero() },
		apply: func() { *target = decimal.RequireFromString(def) },
	}
}
