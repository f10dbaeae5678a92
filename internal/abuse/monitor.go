// Package abuse watches recent request outcomes per service, detects
// rate-limit and ban signals, and computes the human-like pacing delay
// inserted between outbound calls.
package abuse

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/clipforge/governor/internal/service"
)

const (
	banCooldown      = 24 * time.Hour
	retentionWindow  = 24 * time.Hour
	failureBurstMax  = 5
	failureBurstHold = 30 * time.Minute
	banSignalLimit   = 3
	failureStreakLen = 5
)

// banSignalCodes are the HTTP statuses characteristic of throttling or
// access revocation.
var banSignalCodes = map[int]bool{
	429: true,
	401: true,
	403: true,
	503: true,
}

// SafetyVerdict is the answer to "may I call this service right now?".
type SafetyVerdict struct {
	Safe      bool              `json:"safe"`
	Wait      time.Duration     `json:"wait"`
	Reason    string            `json:"reason,omitempty"`
	RiskLevel service.RiskLevel `json:"risk_level"`
}

// BanReport summarizes ban indicators for one service.
type BanReport struct {
	Banned     bool              `json:"banned"`
	Indicators []string          `json:"indicators,omitempty"`
	Severity   service.RiskLevel `json:"severity"`
}

type banState struct {
	lastBan time.Time
	count   int
}

type serviceState struct {
	mu       sync.Mutex
	outcomes []service.RequestOutcome
	ban      *banState
}

// Monitor tracks per-service outcome history and ban state. State is
// fully partitioned by service; each partition has its own lock.
type Monitor struct {
	table  service.Table
	now    func() time.Time
	jitter func() float64

	// onEmergency fires when a service accumulates three independent
	// ban signals, which indicates a systemic block rather than a
	// transient one.
	onEmergency func(id service.Identity, reason string)

	states map[service.Identity]*serviceState
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the monitor's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithJitter overrides the pacing jitter source, for tests. The
// function must return values in [0.75, 1.25).
func WithJitter(jitter func() float64) Option {
	return func(m *Monitor) { m.jitter = jitter }
}

// WithEmergencyHook sets the callback invoked on the third ban signal.
func WithEmergencyHook(fn func(id service.Identity, reason string)) Option {
	return func(m *Monitor) { m.onEmergency = fn }
}

func New(table service.Table, opts ...Option) *Monitor {
	m := &Monitor{
		table:  table,
		now:    time.Now,
		jitter: func() float64 { return 0.75 + rand.Float64()*0.5 },
		states: make(map[service.Identity]*serviceState, len(service.All())),
	}
	for _, id := range service.All() {
		m.states[id] = &serviceState{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsSafe evaluates the abuse conditions in fixed precedence order and
// returns on the first failing one: active ban cooldown, request
// ceiling, failure burst, minimum inter-request gap.
func (m *Monitor) IsSafe(id service.Identity) SafetyVerdict {
	st, ok := m.states[id]
	if !ok {
		return SafetyVerdict{Safe: false, Reason: fmt.Sprintf("unknown service %s", id), RiskLevel: service.RiskHigh}
	}
	th := m.table[id]
	now := m.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	// 1. Active ban cooldown.
	if st.ban != nil {
		if elapsed := clampElapsed(now.Sub(st.ban.lastBan)); elapsed < banCooldown {
			return SafetyVerdict{
				Safe:      false,
				Wait:      banCooldown - elapsed,
				Reason:    fmt.Sprintf("ban cooldown active (%d ban signals)", st.ban.count),
				RiskLevel: service.RiskHigh,
			}
		}
	}

	// 2. Request ceiling inside the trailing window.
	inWindow := outcomesSince(st.outcomes, now.Add(-th.CeilingWindow))
	if len(inWindow) >= th.RequestCeiling {
		oldest := inWindow[0].Timestamp
		return SafetyVerdict{
			Safe:      false,
			Wait:      clampElapsed(oldest.Add(th.CeilingWindow).Sub(now)),
			Reason:    fmt.Sprintf("request ceiling reached (%d in %s)", len(inWindow), th.CeilingWindow),
			RiskLevel: service.RiskWarning,
		}
	}

	// 3. Failure burst in the trailing hour.
	failures := 0
	for _, o := range outcomesSince(st.outcomes, now.Add(-time.Hour)) {
		if !o.Success {
			failures++
		}
	}
	if failures > failureBurstMax {
		return SafetyVerdict{
			Safe:      false,
			Wait:      failureBurstHold,
			Reason:    fmt.Sprintf("failure burst: %d failures in the last hour", failures),
			RiskLevel: service.RiskHigh,
		}
	}

	// 4. Minimum inter-request gap.
	if n := len(st.outcomes); n > 0 {
		if since := clampElapsed(now.Sub(st.outcomes[n-1].Timestamp)); since < th.MinGap {
			return SafetyVerdict{
				Safe:      false,
				Wait:      th.MinGap - since,
				Reason:    "minimum request gap not elapsed",
				RiskLevel: service.RiskLow,
			}
		}
	}

	return SafetyVerdict{Safe: true, RiskLevel: service.RiskNone}
}

// Record appends an outcome, prunes history older than 24h, and
// escalates the ban state when the outcome carries a ban-signal status
// code. The third ban signal trips the emergency hook.
func (m *Monitor) Record(id service.Identity, outcome service.RequestOutcome) {
	st, ok := m.states[id]
	if !ok {
		return
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = m.now()
	}

	var tripped bool
	var banCount int

	st.mu.Lock()
	st.outcomes = append(st.outcomes, outcome)
	st.outcomes = outcomesSince(st.outcomes, m.now().Add(-retentionWindow))

	if !outcome.Success && banSignalCodes[outcome.StatusCode] {
		if st.ban == nil {
			st.ban = &banState{}
		}
		// A run of ban-code failures inside one cooldown window is a
		// single signal: count independent episodes, not packets.
		if st.ban.count == 0 || clampElapsed(outcome.Timestamp.Sub(st.ban.lastBan)) >= banCooldown {
			st.ban.count++
			tripped = st.ban.count >= banSignalLimit
		}
		st.ban.lastBan = outcome.Timestamp
		banCount = st.ban.count
	}
	st.mu.Unlock()

	if tripped && m.onEmergency != nil {
		m.onEmergency(id, fmt.Sprintf("%d ban signals received (last status %d)", banCount, outcome.StatusCode))
	}
}

// BanSignals returns the number of independent ban episodes observed
// for a service since process start.
func (m *Monitor) BanSignals(id service.Identity) int {
	st, ok := m.states[id]
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ban == nil {
		return 0
	}
	return st.ban.count
}

// CheckBanIndicators computes ban evidence from two independent paths:
// the failure rate over the trailing hour and a streak of consecutive
// failures regardless of window. A repeat offender (more than two ban
// signals ever) is flagged even when current traffic looks clean.
func (m *Monitor) CheckBanIndicators(id service.Identity) BanReport {
	st, ok := m.states[id]
	if !ok {
		return BanReport{Severity: service.RiskNone}
	}
	now := m.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	report := BanReport{Severity: service.RiskNone}

	recent := outcomesSince(st.outcomes, now.Add(-time.Hour))
	if len(recent) > 0 {
		failures := 0
		for _, o := range recent {
			if !o.Success {
				failures++
			}
		}
		rate := float64(failures) / float64(len(recent))
		if rate > 0.8 {
			report.Banned = true
			report.Severity = service.RiskCritical
			report.Indicators = append(report.Indicators,
				fmt.Sprintf("failure rate %.0f%% over the last hour", rate*100))
		} else if rate > 0.5 {
			report.Severity = service.RiskWarning
			report.Indicators = append(report.Indicators,
				fmt.Sprintf("elevated failure rate %.0f%% over the last hour", rate*100))
		}
	}

	if n := len(st.outcomes); n >= failureStreakLen {
		streak := true
		for _, o := range st.outcomes[n-failureStreakLen:] {
			if o.Success {
				streak = false
				break
			}
		}
		if streak {
			report.Banned = true
			report.Severity = service.RiskCritical
			report.Indicators = append(report.Indicators,
				fmt.Sprintf("last %d requests all failed", failureStreakLen))
		}
	}

	if st.ban != nil && st.ban.count > 2 {
		if report.Severity == service.RiskNone {
			report.Severity = service.RiskWarning
		}
		report.Indicators = append(report.Indicators,
			fmt.Sprintf("%d historical ban signals; rotate network egress", st.ban.count))
	}

	return report
}

// HumanDelay returns the pacing delay for a service: the configured
// base cooldown multiplied by random jitter in [0.75, 1.25) and a
// time-of-day factor. Deliberately non-deterministic; assert ranges in
// tests, not exact values.
func (m *Monitor) HumanDelay(id service.Identity) time.Duration {
	th, ok := m.table[id]
	if !ok {
		return 0
	}
	factor := m.jitter() * timeOfDayFactor(m.now())
	return time.Duration(float64(th.BaseDelay) * factor)
}

// timeOfDayFactor slows the pipeline down outside business hours, when
// human-driven traffic would be sparse: quiet hours get double the
// base delay.
func timeOfDayFactor(now time.Time) float64 {
	switch h := now.Hour(); {
	case h >= 2 && h < 6:
		return 2.0
	case h >= 9 && h < 17:
		return 1.0
	case h >= 18 && h < 22:
		return 1.2
	default:
		return 1.5
	}
}

// outcomesSince returns the suffix of outcomes at or after cutoff.
// Outcomes are appended in chronological order, so a single scan from
// the back suffices.
func outcomesSince(outcomes []service.RequestOutcome, cutoff time.Time) []service.RequestOutcome {
	i := len(outcomes)
	for i > 0 && !outcomes[i-1].Timestamp.Before(cutoff) {
		i--
	}
	return outcomes[i:]
}

// clampElapsed guards period math against clock skew: a negative
// duration becomes zero rather than poisoning wait-time arithmetic.
func clampElapsed(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
