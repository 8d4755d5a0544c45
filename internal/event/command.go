package event

import (
	"tradeloop/internal/instrument"

	"github.com/shopspring/decimal"
)

// CommandKind enumerates operator commands. New commands are new variants;
// existing ones never change meaning.
type CommandKind int

const (
	CommandManualOrder CommandKind = iota
	CommandClosePosition
	CommandCancelOrder
	CommandShutdown
	commandKindCount
)

func (k CommandKind) String() string {
	switch k {
	case CommandManualOrder:
		return "manual_order"
	case CommandClosePosition:
		return "close_position"
	case CommandCancelOrder:
		return "cancel_order"
	case CommandShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

func CommandKinds() []CommandKind {
	out := make([]CommandKind, 0, commandKindCount)
	for k := CommandKind(0); k < commandKindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Command is the operator sub-union of Event.
type Command interface {
	Event
	CommandKind() CommandKind
	isCommand()
}

// ManualOrder asks the engine to place an order on the operator's behalf.
type ManualOrder struct {
	ID         string                `json:"id,omitempty"`
	Exchange   instrument.Exchange   `json:"exchange"`
	Instrument instrument.Instrument `json:"instrument"`
	Side       instrument.Side       `json:"side"`
	Quantity   decimal.Decimal       `json:"quantity"`
	Price      decimal.Decimal       `json:"price"`
}

// ClosePosition flattens whatever the portfolio holds in one instrument.
type ClosePosition struct {
	ID         string                `json:"id,omitempty"`
	Exchange   instrument.Exchange   `json:"exchange"`
	Instrument instrument.Instrument `json:"instrument"`
}

// CancelOrder cancels a previously sent order by venue order ID.
type CancelOrder struct {
	ID       string              `json:"id,omitempty"`
	Exchange instrument.Exchange `json:"exchange"`
	OrderID  string              `json:"order_id"`
}

// Shutdown ends the session after the current transition.
type Shutdown struct {
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (ManualOrder) Kind() Kind   { return KindCommand }
func (ClosePosition) Kind() Kind { return KindCommand }
func (CancelOrder) Kind() Kind   { return KindCommand }
func (Shutdown) Kind() Kind      { return KindCommand }

func (ManualOrder) isEvent()   {}
func (ClosePosition) isEvent() {}
func (CancelOrder) isEvent()   {}
func (Shutdown) isEvent()      {}

func (ManualOrder) isCommand()   {}
func (ClosePosition) isCommand() {}
func (CancelOrder) isCommand()   {}
func (Shutdown) isCommand()      {}

func (ManualOrder) CommandKind() CommandKind   { return CommandManualOrder }
func (ClosePosition) CommandKind() CommandKind { return CommandClosePosition }
func (CancelOrder) CommandKind() CommandKind   { return CommandCancelOrder }
func (Shutdown) CommandKind() CommandKind      { return CommandShutdown }

func (m ManualOrder) Key() instrument.Key {
	return instrument.Key{Exchange: m.Exchange, Instrument: m.Instrument}
}

func (c ClosePosition) Key() instrument.Key {
	return instrument.Key{Exchange: c.Exchange, Instrument: c.Instrument}
}
