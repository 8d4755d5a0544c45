// Package instrument defines the identifiers the engine trades: exchanges,
// BASE/QUOTE instruments, order sides and the instrument universe handed to
// the portfolio at session start.
package instrument

import (
	"fmt"
	"strings"
)

// Exchange identifies a venue, e.g. "binance".
type Exchange string

func (e Exchange) String() string { return string(e) }

// Instrument is a tradable pair such as BTC/USDT.
type Instrument struct {
	Base  string
	Quote string
}

// String renders the internal BASE/QUOTE form; empty for an invalid pair.
func (i Instrument) String() string {
	if !i.Valid() {
		return ""
	}
	return i.Base + "/" + i.Quote
}

func (i Instrument) Valid() bool {
	return i.Base != "" && i.Quote != ""
}

func (i Instrument) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText leaves the zero Instrument for empty input so that events
// without an instrument (balance snapshots) round-trip.
func (i *Instrument) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		*i = Instrument{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

var knownQuotes = []string{"USDT", "BUSD", "USDC", "TUSD", "USD", "EUR", "BTC", "ETH", "BNB"}

// Parse normalises btcusdt, BTC-USDT, btc_usdt and BTC/USDT:USDT into BTC/USDT.
func Parse(raw string) (Instrument, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Instrument{}, fmt.Errorf("instrument: empty symbol")
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			inst := Instrument{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
			if !inst.Valid() {
				return Instrument{}, fmt.Errorf("instrument: malformed symbol %q", raw)
			}
			return inst, nil
		}
	}
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Instrument{Base: s[:len(s)-len(quote)], Quote: quote}, nil
		}
	}
	return Instrument{}, fmt.Errorf("instrument: cannot split %q into base/quote", raw)
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(raw string) Instrument {
	inst, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return inst
}

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

// ParseSide accepts buy/sell as well as long/short.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return SideBuy, nil
	case "sell", "short":
		return SideSell, nil
	default:
		return "", fmt.Errorf("instrument: unknown side %q", raw)
	}
}

// Key addresses one instrument on one exchange.
type Key struct {
	Exchange   Exchange
	Instrument Instrument
}

func (k Key) String() string {
	return string(k.Exchange) + ":" + k.Instrument.String()
}
