// Package event defines the items multiplexed on the engine's single inbound
// feed: market updates, account/execution feedback and operator commands.
package event

import (
	"time"

	"tradeloop/internal/instrument"

	"github.com/shopspring/decimal"
)

// Kind tags the three event families the engine routes on.
type Kind int

const (
	KindMarket Kind = iota
	KindAccount
	KindCommand
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindAccount:
		return "account"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Kinds lists every Kind; routing tables are checked against it.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Event is a closed union: only this package can add variants.
type Event interface {
	Kind() Kind
	isEvent()
}

// MarketKind distinguishes trade prints from candle closes.
type MarketKind string

const (
	MarketTrade  MarketKind = "trade"
	MarketCandle MarketKind = "candle"
)

// Market is one market-data observation.
type Market struct {
	ID         string                `json:"id,omitempty"`
	Exchange   instrument.Exchange   `json:"exchange"`
	Instrument instrument.Instrument `json:"instrument"`
	Type       MarketKind            `json:"kind"`
	Price      decimal.Decimal       `json:"price"`
	Volume     decimal.Decimal       `json:"volume"`
	Time       time.Time             `json:"time"`
}

func (Market) Kind() Kind { return KindMarket }
func (Market) isEvent()   {}

func (m Market) Key() instrument.Key {
	return instrument.Key{Exchange: m.Exchange, Instrument: m.Instrument}
}

// AccountKind distinguishes fills, order rejections and balance snapshots.
type AccountKind string

const (
	AccountFill     AccountKind = "fill"
	AccountRejected AccountKind = "rejected"
	AccountBalance  AccountKind = "balance"
)

// Account is execution feedback from a venue. Timestamp is an ordering key
// chosen by the producer; the engine never compares it against its own clock.
type Account struct {
	ID         string                `json:"id,omitempty"`
	Exchange   instrument.Exchange   `json:"exchange"`
	Type       AccountKind           `json:"kind"`
	OrderID    string                `json:"order_id,omitempty"`
	Instrument instrument.Instrument `json:"instrument,omitempty"`
	Side       instrument.Side       `json:"side,omitempty"`
	Quantity   decimal.Decimal       `json:"quantity"`
	Price      decimal.Decimal       `json:"price"`
	Fee        decimal.Decimal       `json:"fee"`
	Asset      string                `json:"asset,omitempty"`
	Balance    decimal.Decimal       `json:"balance"`
	Reason     string                `json:"reason,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

func (Account) Kind() Kind { return KindAccount }
func (Account) isEvent()   {}

func (a Account) Key() instrument.Key {
	return instrument.Key{Exchange: a.Exchange, Instrument: a.Instrument}
}
