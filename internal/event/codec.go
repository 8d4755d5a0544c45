package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// Wire format: one JSON object per event with a flat "type" discriminator,
//
//	{"type":"market","exchange":"binance","instrument":"BTC/USDT","price":"101.5",...}
//	{"type":"shutdown","reason":"eod"}
//
// Journals write it and ReplayFeed reads it back.

const (
	typeMarket        = "market"
	typeAccount       = "account"
	typeManualOrder   = "manual_order"
	typeClosePosition = "close_position"
	typeCancelOrder   = "cancel_order"
	typeShutdown      = "shutdown"
)

var ErrUnknownType = errors.New("event: unknown type")

// TypeOf returns the wire discriminator for ev.
func TypeOf(ev Event) (string, error) {
	switch ev.(type) {
	case Market:
		return typeMarket, nil
	case Account:
		return typeAccount, nil
	case ManualOrder:
		return typeManualOrder, nil
	case ClosePosition:
		return typeClosePosition, nil
	case CancelOrder:
		return typeCancelOrder, nil
	case Shutdown:
		return typeShutdown, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownType, ev)
	}
}

// Encode renders ev in the wire format.
func Encode(ev Event) ([]byte, error) {
	tag, err := TypeOf(ev)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", tag, err)
	}
	head := `{"type":` + strconv.Quote(tag)
	if len(body) <= 2 {
		return []byte(head + "}"), nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, ',')
	return append(out, body[1:]...), nil
}

// Decode parses one wire-format object.
func Decode(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("event: invalid json")
	}
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return nil, fmt.Errorf("event: missing type field")
	}
	switch typ.String() {
	case typeMarket:
		return decodeInto[Market](data)
	case typeAccount:
		return decodeInto[Account](data)
	case typeManualOrder:
		return decodeInto[ManualOrder](data)
	case typeClosePosition:
		return decodeInto[ClosePosition](data)
	case typeCancelOrder:
		return decodeInto[CancelOrder](data)
	case typeShutdown:
		return decodeInto[Shutdown](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ.String())
	}
}

func decodeInto[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("event: decode %T: %w", ev, err)
	}
	return ev, nil
}

// IDOf returns the producer-assigned ID of ev, if any.
func IDOf(ev Event) string {
	switch e := ev.(type) {
	case Market:
		return e.ID
	case Account:
		return e.ID
	case ManualOrder:
		return e.ID
	case ClosePosition:
		return e.ID
	case CancelOrder:
		return e.ID
	case Shutdown:
		return e.ID
	default:
		return ""
	}
}
