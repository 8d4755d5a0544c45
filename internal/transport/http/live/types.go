package livehttp

import (
	"context"

	"tradeloop/internal/engine"
	"tradeloop/internal/session"
)

// StatusProvider reports what the running session is doing.
type StatusProvider interface {
	Status() Status
}

// StatusFunc adapts a plain function to StatusProvider.
type StatusFunc func() Status

func (f StatusFunc) Status() Status { return f() }

type Status struct {
	SessionID    string               `json:"session_id"`
	Engine       engine.StatsSnapshot `json:"engine"`
	Venue        string               `json:"venue"`
	Breaker      string               `json:"breaker"`
	BreakerTrips int64                `json:"breaker_trips"`
	QueueDepth   int                  `json:"queue_depth"`
}

// SessionLister is satisfied by *session.Store.
type SessionLister interface {
	List(ctx context.Context, limit int) ([]session.Report, error)
}

type manualOrderRequest struct {
	ID         string `json:"id"`
	Exchange   string `json:"exchange" binding:"required"`
	Instrument string `json:"instrument" binding:"required"`
	Side       string `json:"side" binding:"required"`
	Quantity   string `json:"quantity" binding:"required"`
	Price      string `json:"price"`
}

type closePositionRequest struct {
	ID         string `json:"id"`
	Exchange   string `json:"exchange" binding:"required"`
	Instrument string `json:"instrument" binding:"required"`
}

type cancelOrderRequest struct {
	Exchange string `json:"exchange" binding:"required"`
}

type shutdownRequest struct {
	Reason string `json:"reason"`
}

type acceptedResponse struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}
