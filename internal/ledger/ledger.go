// Package ledger keeps per-service cumulative cost and request
// counters for the current day and month, and owns the pure cost
// formula used for both pre-call estimation and post-call recording.
package ledger

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clipforge/governor/internal/service"
)

const (
	dayKeyLayout   = "2006-01-02"
	monthKeyLayout = "2006-01"
)

// Counters is a snapshot of one service's period accounting.
type Counters struct {
	DailyCost       float64 `json:"daily_cost"`
	MonthlyCost     float64 `json:"monthly_cost"`
	DailyRequests   int     `json:"daily_requests"`
	MonthlyRequests int     `json:"monthly_requests"`
	DayKey          string  `json:"day_key"`
	MonthKey        string  `json:"month_key"`
}

type counter struct {
	mu sync.Mutex
	Counters
}

// Ledger holds one counter per service. State is partitioned by
// service identity, so concurrent writes for different services never
// contend.
type Ledger struct {
	table    service.Table
	now      func() time.Time
	counters map[service.Identity]*counter
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the ledger's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(table service.Table, opts ...Option) *Ledger {
	l := &Ledger{
		table:    table,
		now:      time.Now,
		counters: make(map[service.Identity]*counter, len(service.All())),
	}
	for _, id := range service.All() {
		l.counters[id] = &counter{}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordCost adds amount to the service's daily and monthly counters
// and returns the updated snapshot. Crossing a period boundary resets
// the stale counter before adding, never after; adding first would
// double count the rollover instant. Negative amounts are clamped to
// zero and logged (clock skew or a bad caller must not shrink the
// ledger).
func (l *Ledger) RecordCost(id service.Identity, amount float64) Counters {
	c, ok := l.counters[id]
	if !ok {
		log.Printf("[ledger] recordCost for unknown service %q ignored", id)
		return Counters{}
	}
	if amount < 0 {
		log.Printf("[ledger] negative cost %.6f for %s clamped to 0", amount, id)
		amount = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	l.rollover(c)
	c.DailyCost += amount
	c.MonthlyCost += amount
	c.DailyRequests++
	c.MonthlyRequests++
	return c.Counters
}

// Peek returns the service's current counters without mutating them.
// Stale counters are reported as already rolled over so readers never
// see yesterday's spend as today's.
func (l *Ledger) Peek(id service.Identity) Counters {
	c, ok := l.counters[id]
	if !ok {
		return Counters{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.Counters
	now := l.now()
	if day := now.Format(dayKeyLayout); snap.DayKey != day {
		snap.DailyCost = 0
		snap.DailyRequests = 0
		snap.DayKey = day
	}
	if month := now.Format(monthKeyLayout); snap.MonthKey != month {
		snap.MonthlyCost = 0
		snap.MonthlyRequests = 0
		snap.MonthKey = month
	}
	return snap
}

// rollover zeroes any counter whose stored period key no longer
// matches the wall clock. Detected lazily on write; no background
// timer. Caller holds c.mu.
func (l *Ledger) rollover(c *counter) {
	now := l.now()
	if day := now.Format(dayKeyLayout); c.DayKey != day {
		c.DailyCost = 0
		c.DailyRequests = 0
		c.DayKey = day
	}
	if month := now.Format(monthKeyLayout); c.MonthKey != month {
		c.MonthlyCost = 0
		c.MonthlyRequests = 0
		c.MonthKey = month
	}
}

// Calculate is the pure cost formula: each usage dimension multiplied
// by its configured rate, summed. Exposed separately from RecordCost
// so estimation never touches the ledger. The breakdown names the
// dimensions that contributed.
func Calculate(id service.Identity, usage service.UsageDimensions, table service.Table) (float64, map[string]float64, error) {
	th, ok := table[id]
	if !ok {
		return 0, nil, fmt.Errorf("no threshold entry for service %s", id)
	}

	breakdown := make(map[string]float64)
	if usage.InputTokens > 0 && th.Rates.InputPer1K > 0 {
		breakdown["input_tokens"] = float64(usage.InputTokens) / 1000 * th.Rates.InputPer1K
	}
	if usage.OutputTokens > 0 && th.Rates.OutputPer1K > 0 {
		breakdown["output_tokens"] = float64(usage.OutputTokens) / 1000 * th.Rates.OutputPer1K
	}
	if usage.Characters > 0 && th.Rates.PerCharacter > 0 {
		breakdown["characters"] = float64(usage.Characters) * th.Rates.PerCharacter
	}
	if usage.AudioMinutes > 0 && th.Rates.PerAudioMinute > 0 {
		breakdown["audio_minutes"] = usage.AudioMinutes * th.Rates.PerAudioMinute
	}
	if usage.VideoMinutes > 0 && th.Rates.PerVideoMinute > 0 {
		breakdown["video_minutes"] = usage.VideoMinutes * th.Rates.PerVideoMinute
	}
	if usage.Images > 0 && th.Rates.PerImage > 0 {
		breakdown["images"] = float64(usage.Images) * th.Rates.PerImage
	}

	var total float64
	for _, v := range breakdown {
		total += v
	}
	return total, breakdown, nil
}
