package config

import (
	"fmt"
	"strings"

	"tradeloop/internal/instrument"

	"github.com/shopspring/decimal"
)

// Config is the root of tradeloop's configuration file.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Session   SessionConfig   `mapstructure:"session"`
}

type AppConfig struct {
	Env           string `mapstructure:"env"`
	LogLevel      string `mapstructure:"log_level"`
	LogPath       string `mapstructure:"log_path"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	HTTPAddr      string `mapstructure:"http_addr"`
}

// EngineConfig names the instrument universe, inline or as a YAML file, and
// the opening balances of the ledger.
type EngineConfig struct {
	InstrumentsPath string                     `mapstructure:"instruments_path"`
	Instruments     map[string][]string        `mapstructure:"instruments"`
	Balances        map[string]decimal.Decimal `mapstructure:"balances"`
}

// Universe resolves the configured instruments; the inline list wins over
// the file.
func (e EngineConfig) Universe() (instrument.Universe, error) {
	if len(e.Instruments) > 0 {
		return instrument.ParseUniverse(e.Instruments)
	}
	if strings.TrimSpace(e.InstrumentsPath) == "" {
		return nil, fmt.Errorf("engine: no instruments configured")
	}
	return instrument.LoadUniverse(e.InstrumentsPath)
}

const (
	FeedModeChannel = "channel"
	FeedModeReplay  = "replay"

	JournalNone   = "none"
	JournalFile   = "file"
	JournalSQLite = "sqlite"
)

type FeedConfig struct {
	Mode        string `mapstructure:"mode"`
	ReplayPath  string `mapstructure:"replay_path"`
	Buffer      int    `mapstructure:"buffer"`
	Journal     string `mapstructure:"journal"`
	JournalPath string `mapstructure:"journal_path"`
}

type StrategyConfig struct {
	Name        string          `mapstructure:"name"`
	ShortPeriod int             `mapstructure:"short_period"`
	LongPeriod  int             `mapstructure:"long_period"`
	Quantity    decimal.Decimal `mapstructure:"quantity"`
	MaxHistory  int             `mapstructure:"max_history"`
}

type ExecutionConfig struct {
	Venue                  string          `mapstructure:"venue"`
	Exchange               string          `mapstructure:"exchange"`
	FeeRate                decimal.Decimal `mapstructure:"fee_rate"`
	BreakerThreshold       int             `mapstructure:"breaker_threshold"`
	BreakerCooldownSeconds int             `mapstructure:"breaker_cooldown_seconds"`
}

// SessionConfig controls where session reports go; an empty DBPath only
// prints them.
type SessionConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
