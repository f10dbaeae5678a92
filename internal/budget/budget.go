// Package budget compares the usage ledger against configured dollar
// ceilings and produces a three-level circuit breaker per service and
// period, plus the explicit emergency-stop override.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clipforge/governor/internal/alert"
	"github.com/clipforge/governor/internal/ledger"
	"github.com/clipforge/governor/internal/service"
)

// Level classifies a service's budget consumption.
type Level string

const (
	LevelOK        Level = "ok"
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

func (l Level) rank() int {
	switch l {
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	case LevelEmergency:
		return 3
	default:
		return 0
	}
}

// worse returns the more severe of two levels.
func worse(a, b Level) Level {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Estimate is the projected cost of a request before it is made.
type Estimate struct {
	Cost             float64            `json:"cost"`
	Breakdown        map[string]float64 `json:"breakdown,omitempty"`
	WithinBudget     bool               `json:"within_budget"`
	RemainingDaily   float64            `json:"remaining_daily"`
	RemainingMonthly float64            `json:"remaining_monthly"`
}

// Status is the breaker state of one service.
type Status struct {
	Level Level `json:"level"`
	// Reason is set for any level above OK.
	Reason string `json:"reason,omitempty"`
	// BlockedUntil is set only at LevelEmergency: the instant the
	// containing period rolls over.
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
}

type stop struct {
	reason string
	at     time.Time
	dayKey string
}

// Governor evaluates budgets. It owns the manual emergency stops;
// cost counters live in the ledger.
type Governor struct {
	table service.Table
	book  *ledger.Ledger
	sink  alert.Sink
	now   func() time.Time

	mu    sync.Mutex
	stops map[service.Identity]*stop
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the governor's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

func New(table service.Table, book *ledger.Ledger, sink alert.Sink, opts ...Option) *Governor {
	g := &Governor{
		table: table,
		book:  book,
		sink:  sink,
		now:   time.Now,
		stops: make(map[service.Identity]*stop),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EstimateCost projects the cost of a request without touching the
// ledger. WithinBudget compares the projected daily total against the
// service's warning ceiling, the earliest line we do not want an
// estimated call to cross.
func (g *Governor) EstimateCost(id service.Identity, usage service.UsageDimensions) (Estimate, error) {
	cost, breakdown, err := ledger.Calculate(id, usage, g.table)
	if err != nil {
		return Estimate{}, err
	}

	th := g.table[id]
	counters := g.book.Peek(id)
	return Estimate{
		Cost:             cost,
		Breakdown:        breakdown,
		WithinBudget:     counters.DailyCost+cost < th.Daily.Warning,
		RemainingDaily:   max(0, th.Daily.Emergency-counters.DailyCost),
		RemainingMonthly: max(0, th.Monthly.Emergency-counters.MonthlyCost),
	}, nil
}

// Status evaluates the breaker for one service: the daily and monthly
// ceilings independently, worst level wins, with any active manual
// stop forcing EMERGENCY. A monthly EMERGENCY blocks for the remainder
// of the month even after the daily counter rolls over.
func (g *Governor) Status(id service.Identity) Status {
	th, ok := g.table[id]
	if !ok {
		return Status{Level: LevelEmergency, Reason: fmt.Sprintf("no threshold entry for service %s", id)}
	}

	now := g.now()
	counters := g.book.Peek(id)

	status := Status{Level: LevelOK}

	apply := func(period string, used float64, c service.Ceilings, until time.Time) {
		var level Level
		switch {
		case used >= c.Emergency:
			level = LevelEmergency
		case used >= c.Critical:
			level = LevelCritical
		case used >= c.Warning:
			level = LevelWarning
		default:
			return
		}
		if level.rank() > status.Level.rank() {
			status.Level = level
			status.Reason = fmt.Sprintf("%s spend $%.2f reached %s ceiling ($%.2f)",
				period, used, level, ceilingFor(level, c))
			if level == LevelEmergency {
				status.BlockedUntil = until
			} else {
				status.BlockedUntil = time.Time{}
			}
		}
	}

	apply("daily", counters.DailyCost, th.Daily, NextDailyRollover(now))
	apply("monthly", counters.MonthlyCost, th.Monthly, NextMonthlyRollover(now))

	g.mu.Lock()
	if s, active := g.stops[id]; active {
		if s.dayKey == now.Format("2006-01-02") {
			status = Status{
				Level:        LevelEmergency,
				Reason:       fmt.Sprintf("emergency stop: %s", s.reason),
				BlockedUntil: NextDailyRollover(now),
			}
		} else {
			// Period rolled over; the stop clears itself.
			delete(g.stops, id)
		}
	}
	g.mu.Unlock()

	return status
}

func ceilingFor(level Level, c service.Ceilings) float64 {
	switch level {
	case LevelEmergency:
		return c.Emergency
	case LevelCritical:
		return c.Critical
	default:
		return c.Warning
	}
}

// EvaluateCircuitBreaker runs the breaker over every configured
// service and collects human-readable alerts for everything above OK.
func (g *Governor) EvaluateCircuitBreaker() (map[service.Identity]Status, []string) {
	levels := make(map[service.Identity]Status, len(service.All()))
	var alerts []string
	for _, id := range service.All() {
		st := g.Status(id)
		levels[id] = st
		if st.Level != LevelOK {
			alerts = append(alerts, fmt.Sprintf("%s: %s", id, st.Reason))
		}
	}
	return levels, alerts
}

// EmergencyStop forces the breaker OPEN for a service regardless of
// cost. It is cleared only by ClearEmergencyStop or the next daily
// rollover; it never silently self-heals within the period. An alert
// goes out through the sink (delivery failure logged, not surfaced).
func (g *Governor) EmergencyStop(ctx context.Context, id service.Identity, reason string) {
	now := g.now()
	g.mu.Lock()
	g.stops[id] = &stop{reason: reason, at: now, dayKey: now.Format("2006-01-02")}
	g.mu.Unlock()

	alert.Notify(ctx, g.sink, alert.Event{
		Kind:      "emergency_stop",
		Service:   string(id),
		Message:   reason,
		Timestamp: now,
	})
}

// ClearEmergencyStop is the operator path out of a manual stop.
func (g *Governor) ClearEmergencyStop(id service.Identity) {
	g.mu.Lock()
	delete(g.stops, id)
	g.mu.Unlock()
}

// NextDailyRollover returns the next local midnight after now.
func NextDailyRollover(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// NextMonthlyRollover returns the first instant of the next month.
func NextMonthlyRollover(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
}
