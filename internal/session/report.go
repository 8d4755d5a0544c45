// Package session turns a finished engine run into a report and persists it.
package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tradeloop/internal/engine"
	"tradeloop/internal/logger"
)

type PositionRow struct {
	Exchange    string `json:"exchange"`
	Instrument  string `json:"instrument"`
	Quantity    string `json:"quantity"`
	AvgPrice    string `json:"avg_price"`
	RealizedPnL string `json:"realized_pnl"`
}

// Report is the end-of-session summary.
type Report struct {
	SessionID string               `json:"session_id"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at"`
	Reason    string               `json:"reason"`
	Err       string               `json:"error,omitempty"`
	Stats     engine.StatsSnapshot `json:"stats"`
	Positions []PositionRow        `json:"positions"`
	Balances  map[string]string    `json:"balances"`
}

func (r Report) Failed() bool { return r.Err != "" }

// NewReport summarises term. A session that ended before the portfolio was
// built reports no positions or balances.
func NewReport(term engine.Terminate, endedAt time.Time) Report {
	r := Report{
		EndedAt:  endedAt.UTC(),
		Reason:   term.Reason(),
		Balances: map[string]string{},
	}
	if err := term.Err(); err != nil {
		r.Err = err.Error()
	}
	if term.Trader != nil {
		r.SessionID = term.Trader.SessionID()
		if stats := term.Trader.Stats(); stats != nil {
			r.Stats = stats.Snapshot()
			r.StartedAt = r.Stats.StartedAt
		}
	}
	if p := term.Portfolio(); p != nil {
		view := p.View()
		for _, pos := range view.Positions() {
			r.Positions = append(r.Positions, PositionRow{
				Exchange:    string(pos.Key.Exchange),
				Instrument:  pos.Key.Instrument.String(),
				Quantity:    pos.Quantity.String(),
				AvgPrice:    pos.AvgPrice.String(),
				RealizedPnL: pos.RealizedPnL.String(),
			})
		}
		for asset, amt := range view.Balances() {
			r.Balances[asset] = amt.String()
		}
	}
	return r
}

// Format renders r as a human-readable block.
func (r Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "==== session %s ====\n", r.SessionID)
	fmt.Fprintf(&b, "ended:       %s (%s)\n", r.Reason, r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Failed() {
		fmt.Fprintf(&b, "error:       %s\n", r.Err)
	}
	fmt.Fprintf(&b, "transitions: %d  events: %d  event errors: %d  dropped: %d\n",
		r.Stats.Transitions, r.Stats.Events, r.Stats.EventErrors, r.Stats.Dropped)
	fmt.Fprintf(&b, "requests:    sent %d  failed %d\n", r.Stats.RequestsSent, r.Stats.RequestsFailed)
	if len(r.Positions) == 0 {
		b.WriteString("positions:   none\n")
	}
	for _, p := range r.Positions {
		fmt.Fprintf(&b, "position:    %s:%s qty=%s avg=%s realized=%s\n", p.Exchange, p.Instrument, p.Quantity, p.AvgPrice, p.RealizedPnL)
	}
	assets := make([]string, 0, len(r.Balances))
	for a := range r.Balances {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	for _, a := range assets {
		fmt.Fprintf(&b, "balance:     %s %s\n", a, r.Balances[a])
	}
	return b.String()
}

// Print logs the report one line at a time.
func Print(r Report) {
	logger.InfoBlock(r.Format())
}
