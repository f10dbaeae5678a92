package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clipforge/governor/internal/alert"
	"github.com/clipforge/governor/internal/ledger"
	"github.com/clipforge/governor/internal/service"
)

// Mock alert sink
type mockSink struct {
	mu     sync.Mutex
	events []alert.Event
}

func (m *mockSink) Send(_ context.Context, ev alert.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func setupGovernor(now *time.Time) (*Governor, *ledger.Ledger, *mockSink) {
	clock := func() time.Time { return *now }
	table := service.DefaultTable()
	book := ledger.New(table, ledger.WithClock(clock))
	sink := &mockSink{}
	return New(table, book, sink, WithClock(clock)), book, sink
}

func TestEstimateCost_WithinBudget(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, _, _ := setupGovernor(&now)

	est, err := g.EstimateCost(service.TextGeneration, service.UsageDimensions{InputTokens: 1000, OutputTokens: 1000})
	if err != nil {
		t.Fatalf("EstimateCost failed: %v", err)
	}

	if !est.WithinBudget {
		t.Errorf("Expected small request within budget, got %+v", est)
	}
	if est.Cost <= 0 {
		t.Errorf("Expected positive cost, got %v", est.Cost)
	}
}

func TestEstimateCost_ProjectionAgainstWarningCeiling(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, book, _ := setupGovernor(&now)

	// Spend right up to the warning ceiling, then project past it.
	warning := service.DefaultTable()[service.SpeechSynthesis].Daily.Warning
	book.RecordCost(service.SpeechSynthesis, warning-0.01)

	est, err := g.EstimateCost(service.SpeechSynthesis, service.UsageDimensions{Characters: 100000})
	if err != nil {
		t.Fatalf("EstimateCost failed: %v", err)
	}
	if est.WithinBudget {
		t.Errorf("Expected projection past warning ceiling to be out of budget")
	}
}

func TestEstimateCost_Idempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, book, _ := setupGovernor(&now)

	before := book.Peek(service.AvatarVideo)
	usage := service.UsageDimensions{VideoMinutes: 1.5}
	first, _ := g.EstimateCost(service.AvatarVideo, usage)
	second, _ := g.EstimateCost(service.AvatarVideo, usage)
	after := book.Peek(service.AvatarVideo)

	if first.Cost != second.Cost {
		t.Errorf("Expected identical estimates, got %v then %v", first.Cost, second.Cost)
	}
	if before != after {
		t.Errorf("Expected ledger untouched by estimation")
	}
}

func TestStatus_ThreeLevels(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, book, _ := setupGovernor(&now)

	c := service.DefaultTable()[service.SpeechToText].Daily

	if st := g.Status(service.SpeechToText); st.Level != LevelOK {
		t.Errorf("Expected ok with no spend, got %s", st.Level)
	}

	book.RecordCost(service.SpeechToText, c.Warning)
	if st := g.Status(service.SpeechToText); st.Level != LevelWarning {
		t.Errorf("Expected warning at warning ceiling, got %s", st.Level)
	}

	book.RecordCost(service.SpeechToText, c.Critical-c.Warning)
	if st := g.Status(service.SpeechToText); st.Level != LevelCritical {
		t.Errorf("Expected critical at critical ceiling, got %s", st.Level)
	}

	book.RecordCost(service.SpeechToText, c.Emergency-c.Critical)
	st := g.Status(service.SpeechToText)
	if st.Level != LevelEmergency {
		t.Errorf("Expected emergency at emergency ceiling, got %s", st.Level)
	}
	if st.BlockedUntil != NextDailyRollover(now) {
		t.Errorf("Expected blocked until next midnight, got %v", st.BlockedUntil)
	}
}

func TestStatus_DailyEmergencyClearsOnRollover(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, book, _ := setupGovernor(&now)

	book.RecordCost(service.SpeechSynthesis, service.DefaultTable()[service.SpeechSynthesis].Daily.Emergency)
	if st := g.Status(service.SpeechSynthesis); st.Level != LevelEmergency {
		t.Fatalf("Expected emergency, got %s", st.Level)
	}

	now = now.Add(24 * time.Hour)
	if st := g.Status(service.SpeechSynthesis); st.Level != LevelOK {
		t.Errorf("Expected ok after daily rollover, got %s (%s)", st.Level, st.Reason)
	}
}

func TestStatus_MonthlyEmergencyOutlivesDailyRollover(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, book, _ := setupGovernor(&now)

	book.RecordCost(service.TextGenerationAlt, service.DefaultTable()[service.TextGenerationAlt].Monthly.Emergency)

	now = now.Add(48 * time.Hour) // two daily rollovers, same month
	st := g.Status(service.TextGenerationAlt)
	if st.Level != LevelEmergency {
		t.Fatalf("Expected monthly emergency to persist across daily rollover, got %s", st.Level)
	}
	if st.BlockedUntil != NextMonthlyRollover(now) {
		t.Errorf("Expected blocked until next month, got %v", st.BlockedUntil)
	}

	now = time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	if st := g.Status(service.TextGenerationAlt); st.Level != LevelOK {
		t.Errorf("Expected ok in the next month, got %s", st.Level)
	}
}

func TestEmergencyStop_ForcesOpenAndAlerts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, _, sink := setupGovernor(&now)

	g.EmergencyStop(context.Background(), service.AvatarVideo, "render service responded 403 three times")

	st := g.Status(service.AvatarVideo)
	if st.Level != LevelEmergency {
		t.Fatalf("Expected emergency after manual stop, got %s", st.Level)
	}
	if sink.count() != 1 {
		t.Errorf("Expected one alert, got %d", sink.count())
	}
}

func TestEmergencyStop_ClearedByOperator(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, _, _ := setupGovernor(&now)

	g.EmergencyStop(context.Background(), service.AvatarVideo, "manual stop")
	g.ClearEmergencyStop(service.AvatarVideo)

	if st := g.Status(service.AvatarVideo); st.Level != LevelOK {
		t.Errorf("Expected ok after operator clear, got %s", st.Level)
	}
}

func TestEmergencyStop_ClearedByRollover(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, _, _ := setupGovernor(&now)

	g.EmergencyStop(context.Background(), service.AvatarVideo, "manual stop")

	// Still stopped an hour later, no self-healing within the period.
	now = now.Add(time.Hour)
	if st := g.Status(service.AvatarVideo); st.Level != LevelEmergency {
		t.Fatalf("Expected stop to hold within the period, got %s", st.Level)
	}

	now = now.Add(24 * time.Hour)
	if st := g.Status(service.AvatarVideo); st.Level != LevelOK {
		t.Errorf("Expected stop cleared by rollover, got %s", st.Level)
	}
}

func TestEvaluateCircuitBreaker_CollectsAlerts(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, book, _ := setupGovernor(&now)

	book.RecordCost(service.TextGeneration, service.DefaultTable()[service.TextGeneration].Daily.Critical)

	levels, alerts := g.EvaluateCircuitBreaker()
	if levels[service.TextGeneration].Level != LevelCritical {
		t.Errorf("Expected critical for text-generation, got %s", levels[service.TextGeneration].Level)
	}
	if len(alerts) != 1 {
		t.Errorf("Expected one alert line, got %v", alerts)
	}
	if levels[service.SpeechToText].Level != LevelOK {
		t.Errorf("Expected untouched service at ok, got %s", levels[service.SpeechToText].Level)
	}
}

func TestReport_PercentagesAndTotals(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	g, book, _ := setupGovernor(&now)

	book.RecordCost(service.SpeechSynthesis, 10) // daily emergency is 20
	book.RecordCost(service.TextGeneration, 3)

	report := g.Report()

	tts := report.Services[service.SpeechSynthesis]
	if tts.Daily.Percentage != 50 {
		t.Errorf("Expected 50%% daily usage, got %v", tts.Daily.Percentage)
	}
	if tts.Daily.Requests != 1 {
		t.Errorf("Expected 1 daily request, got %d", tts.Daily.Requests)
	}
	if report.TotalCost.Daily != 13 {
		t.Errorf("Expected daily total 13, got %v", report.TotalCost.Daily)
	}
	if len(report.Services) != len(service.All()) {
		t.Errorf("Expected every service in report, got %d", len(report.Services))
	}
}
