// Package governor is the single entry point callers use to govern
// outbound calls to metered services: an admission check before the
// call and a recording step after it. The scanner, abuse monitor,
// budget governor, and ledger are internal collaborators it owns.
package governor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/clipforge/governor/internal/abuse"
	"github.com/clipforge/governor/internal/alert"
	"github.com/clipforge/governor/internal/budget"
	"github.com/clipforge/governor/internal/ledger"
	"github.com/clipforge/governor/internal/secscan"
	"github.com/clipforge/governor/internal/service"
)

// Decision is the admission verdict. Computed fresh per call, never
// persisted. Wait applies on the allowed path too: it is the pacing
// delay the caller sleeps before issuing the real request. The
// governor itself never blocks; abandoning the wait affects nothing.
type Decision struct {
	Allowed       bool          `json:"allowed"`
	Reason        string        `json:"reason,omitempty"`
	Wait          time.Duration `json:"-"`
	WaitMs        int64         `json:"wait_ms"`
	EstimatedCost *float64      `json:"estimated_cost,omitempty"`
	Alternatives  []string      `json:"alternatives,omitempty"`
}

// alternatives suggests a cheaper or substitutable service when a
// budget denial leaves the pipeline stuck.
var alternatives = map[service.Identity][]string{
	service.TextGeneration:    {string(service.TextGenerationAlt)},
	service.TextGenerationAlt: {string(service.TextGeneration)},
	service.AvatarVideo:       {string(service.SpeechSynthesis)},
}

// Governor wires the four governance components together. One per
// process, constructed explicitly and injected into callers; there is
// no package-level instance.
type Governor struct {
	table   service.Table
	scanner *secscan.Scanner
	monitor *abuse.Monitor
	budget  *budget.Governor
	book    *ledger.Ledger
	now     func() time.Time
}

// Config carries the pieces New assembles. Table must already be
// validated; New wires the monitor's third-ban-signal escalation into
// the budget governor's emergency stop.
type Config struct {
	Table    service.Table
	Sink     alert.Sink
	Patterns []secscan.Pattern
	Keys     map[service.Identity]string

	// Clock and Jitter are injectable for tests; nil means wall clock
	// and math/rand.
	Clock  func() time.Time
	Jitter func() float64
}

func New(cfg Config) *Governor {
	if cfg.Patterns == nil {
		cfg.Patterns = secscan.DefaultPatterns()
	}

	var ledgerOpts []ledger.Option
	var monitorOpts []abuse.Option
	var budgetOpts []budget.Option
	var scanOpts []secscan.Option
	if cfg.Clock != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithClock(cfg.Clock))
		monitorOpts = append(monitorOpts, abuse.WithClock(cfg.Clock))
		budgetOpts = append(budgetOpts, budget.WithClock(cfg.Clock))
		scanOpts = append(scanOpts, secscan.WithClock(cfg.Clock))
	}
	if cfg.Jitter != nil {
		monitorOpts = append(monitorOpts, abuse.WithJitter(cfg.Jitter))
	}

	book := ledger.New(cfg.Table, ledgerOpts...)
	budgetGov := budget.New(cfg.Table, book, cfg.Sink, budgetOpts...)

	monitorOpts = append(monitorOpts, abuse.WithEmergencyHook(func(id service.Identity, reason string) {
		budgetGov.EmergencyStop(context.Background(), id, reason)
	}))
	monitor := abuse.New(cfg.Table, monitorOpts...)

	scanner := secscan.New(cfg.Patterns, cfg.Sink, scanOpts...)
	if cfg.Keys != nil {
		scanner.RegisterKeys(cfg.Keys)
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Governor{
		table:   cfg.Table,
		scanner: scanner,
		monitor: monitor,
		budget:  budgetGov,
		book:    book,
		now:     now,
	}
}

// PreRequestCheck decides whether a call to id may proceed right now.
// Evaluation short-circuits on the first denial: key validity, abuse
// safety, estimated budget (when usage is supplied), breaker level.
// The budget and ban dimensions are independent and both must be
// favorable. On the allowed path Wait carries the human-like pacing
// delay.
func (g *Governor) PreRequestCheck(id service.Identity, usage *service.UsageDimensions) Decision {
	if !id.Valid() {
		return Decision{Reason: fmt.Sprintf("unknown service %s", id)}
	}

	// 1. Last-known key validity. No wait: a compromised or missing
	// key needs operator rotation, not a retry.
	if !g.scanner.KeyValid(id) {
		return Decision{Reason: "keys compromised or missing; rotate credentials"}
	}

	// 2. Abuse safety.
	if verdict := g.monitor.IsSafe(id); !verdict.Safe {
		return decision(Decision{Reason: verdict.Reason, Wait: verdict.Wait})
	}

	// 3. Projected budget, only when the caller can estimate usage.
	var estimated *float64
	if usage != nil {
		est, err := g.budget.EstimateCost(id, *usage)
		if err != nil {
			return Decision{Reason: err.Error()}
		}
		estimated = &est.Cost
		if !est.WithinBudget {
			return decision(Decision{
				Reason: fmt.Sprintf("projected cost $%.4f exceeds remaining daily budget ($%.2f left)",
					est.Cost, est.RemainingDaily),
				EstimatedCost: estimated,
				Alternatives:  alternatives[id],
			})
		}
	}

	// 4. Breaker level, estimated usage or not.
	if st := g.budget.Status(id); st.Level == budget.LevelEmergency {
		return decision(Decision{
			Reason:        st.Reason,
			Wait:          g.untilRollover(st.BlockedUntil),
			EstimatedCost: estimated,
			Alternatives:  alternatives[id],
		})
	}

	// 5. Allowed; pace like a human.
	return decision(Decision{
		Allowed:       true,
		Wait:          g.monitor.HumanDelay(id),
		EstimatedCost: estimated,
	})
}

// PostRequestRecord reports the outcome of an attempted call: the
// abuse monitor always, the ledger when realized usage is supplied.
// Must be called exactly once per attempt, success or failure, or the
// accounting under-counts. It never fails into the caller; it runs
// after the real call has already happened and must not mask the
// caller's own result. Returns the cost recorded, zero when none.
func (g *Governor) PostRequestRecord(id service.Identity, success bool, usage *service.UsageDimensions, statusCode int) float64 {
	if !id.Valid() {
		log.Printf("[governor] postRequestRecord for unknown service %q dropped", id)
		return 0
	}

	g.monitor.Record(id, service.RequestOutcome{
		Success:    success,
		StatusCode: statusCode,
	})

	if usage == nil {
		return 0
	}
	cost, _, err := ledger.Calculate(id, *usage, g.table)
	if err != nil {
		log.Printf("[governor] cost calculation failed for %s: %v", id, err)
		return 0
	}
	g.book.RecordCost(id, cost)
	return cost
}

// Scan exposes the secret scanner for text/config inspection.
func (g *Governor) Scan(ctx context.Context, text string) secscan.Report {
	return g.scanner.Scan(ctx, text)
}

// CheckBanIndicators exposes the monitor's ban evidence for a service.
func (g *Governor) CheckBanIndicators(id service.Identity) abuse.BanReport {
	return g.monitor.CheckBanIndicators(id)
}

// Report returns the per-service usage report for dashboards.
func (g *Governor) Report() budget.UsageReport {
	return g.budget.Report()
}

// EvaluateCircuitBreaker exposes the budget governor's full sweep.
func (g *Governor) EvaluateCircuitBreaker() (map[service.Identity]budget.Status, []string) {
	return g.budget.EvaluateCircuitBreaker()
}

// EmergencyStop is the operator override.
func (g *Governor) EmergencyStop(ctx context.Context, id service.Identity, reason string) {
	g.budget.EmergencyStop(ctx, id, reason)
}

// ClearEmergencyStop lifts an operator or monitor-tripped stop.
func (g *Governor) ClearEmergencyStop(id service.Identity) {
	g.budget.ClearEmergencyStop(id)
}

func decision(d Decision) Decision {
	d.WaitMs = d.Wait.Milliseconds()
	return d
}

func (g *Governor) untilRollover(blockedUntil time.Time) time.Duration {
	if blockedUntil.IsZero() {
		return 0
	}
	d := blockedUntil.Sub(g.now())
	if d < 0 {
		return 0
	}
	return d
}
