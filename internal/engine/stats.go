package engine

import (
	"sync/atomic"
	"time"
)

// Stats are session counters readable from other goroutines while the
// engine runs.
type Stats struct {
	startedAt time.Time

	phase          atomic.Int32
	transitions    atomic.Int64
	events         atomic.Int64
	eventErrors    atomic.Int64
	requestsSent   atomic.Int64
	requestsFailed atomic.Int64
	dropped        atomic.Int64
}

type StatsSnapshot struct {
	Phase          string    `json:"phase"`
	StartedAt      time.Time `json:"started_at"`
	Transitions    int64     `json:"transitions"`
	Events         int64     `json:"events"`
	EventErrors    int64     `json:"event_errors"`
	RequestsSent   int64     `json:"requests_sent"`
	RequestsFailed int64     `json:"requests_failed"`
	Dropped        int64     `json:"dropped"`
}

func NewStats() *Stats {
	return &Stats{startedAt: time.Now().UTC()}
}

func (s *Stats) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Phase:          s.Phase().String(),
		StartedAt:      s.startedAt,
		Transitions:    s.transitions.Load(),
		Events:         s.events.Load(),
		EventErrors:    s.eventErrors.Load(),
		RequestsSent:   s.requestsSent.Load(),
		RequestsFailed: s.requestsFailed.Load(),
		Dropped:        s.dropped.Load(),
	}
}
