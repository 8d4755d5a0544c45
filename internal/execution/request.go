// Package execution carries order actions out of the engine: the request
// type, the unbounded request queue and a paper venue that consumes it.
package execution

import (
	"errors"
	"fmt"
	"time"

	"tradeloop/internal/instrument"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidRequest = errors.New("execution: invalid request")

type Kind string

const (
	KindOpen   Kind = "open"
	KindClose  Kind = "close"
	KindCancel Kind = "cancel"
)

// Origin records which path produced a request.
type Origin string

const (
	OriginAlgorithmic Origin = "algorithmic"
	OriginManual      Origin = "manual"
)

// Request is immutable once sent; the queue takes ownership.
type Request struct {
	ID         uuid.UUID             `json:"id"`
	Kind       Kind                  `json:"kind"`
	Origin     Origin                `json:"origin"`
	Exchange   instrument.Exchange   `json:"exchange"`
	Instrument instrument.Instrument `json:"instrument,omitempty"`
	Side       instrument.Side       `json:"side,omitempty"`
	Quantity   decimal.Decimal       `json:"quantity"`
	// Price zero means "at market".
	Price     decimal.Decimal `json:"price"`
	OrderID   string          `json:"order_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewRequest(kind Kind, origin Origin) Request {
	return Request{
		ID:        uuid.New(),
		Kind:      kind,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
	}
}

func (r Request) Key() instrument.Key {
	return instrument.Key{Exchange: r.Exchange, Instrument: r.Instrument}
}

func (r Request) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidRequest)
	}
	if r.Exchange == "" {
		return fmt.Errorf("%w: missing exchange", ErrInvalidRequest)
	}
	switch r.Origin {
	case OriginAlgorithmic, OriginManual:
	default:
		return fmt.Errorf("%w: unknown origin %q", ErrInvalidRequest, r.Origin)
	}
	switch r.Kind {
	case KindOpen, KindClose:
		if !r.Instrument.Valid() {
			return fmt.Errorf("%w: missing instrument", ErrInvalidRequest)
		}
		if !r.Side.Valid() {
			return fmt.Errorf("%w: invalid side %q", ErrInvalidRequest, r.Side)
		}
		if !r.Quantity.IsPositive() {
			return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidRequest, r.Quantity)
		}
		if r.Price.IsNegative() {
			return fmt.Errorf("%w: negative price %s", ErrInvalidRequest, r.Price)
		}
	case KindCancel:
		if r.OrderID == "" {
			return fmt.Errorf("%w: cancel without order id", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	}
	return nil
}

func (r Request) String() string {
	if r.Kind == KindCancel {
		return fmt.Sprintf("%s %s %s order=%s", r.Origin, r.Kind, r.Exchange, r.OrderID)
	}
	return fmt.Sprintf("%s %s %s %s %s qty=%s px=%s", r.Origin, r.Kind, r.Exchange, r.Instrument, r.Side, r.Quantity, r.Price)
}
