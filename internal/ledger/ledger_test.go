package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/clipforge/governor/internal/service"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRecordCost_AccumulatesWithinDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(service.DefaultTable(), WithClock(fixedClock(now)))

	amounts := []float64{1.5, 0.25, 3.0, 0.05}
	var sum float64
	var got Counters
	for _, a := range amounts {
		got = l.RecordCost(service.TextGeneration, a)
		sum += a
	}

	if !almostEqual(got.DailyCost, sum) {
		t.Errorf("Expected daily cost %v, got %v", sum, got.DailyCost)
	}
	if !almostEqual(got.MonthlyCost, sum) {
		t.Errorf("Expected monthly cost %v, got %v", sum, got.MonthlyCost)
	}
	if got.DailyRequests != len(amounts) {
		t.Errorf("Expected %d daily requests, got %d", len(amounts), got.DailyRequests)
	}
}

func TestRecordCost_DayBoundaryResetsBeforeAdding(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	l := New(service.DefaultTable(), WithClock(func() time.Time { return now }))

	l.RecordCost(service.SpeechSynthesis, 7)

	// Cross midnight; same month.
	now = time.Date(2026, 3, 11, 0, 1, 0, 0, time.UTC)
	got := l.RecordCost(service.SpeechSynthesis, 2)

	if !almostEqual(got.DailyCost, 2) {
		t.Errorf("Expected daily cost reset to 2, got %v", got.DailyCost)
	}
	if !almostEqual(got.MonthlyCost, 9) {
		t.Errorf("Expected monthly cost 9, got %v", got.MonthlyCost)
	}
	if got.DailyRequests != 1 {
		t.Errorf("Expected 1 daily request after rollover, got %d", got.DailyRequests)
	}
}

func TestRecordCost_MonthBoundaryResetsBothCounters(t *testing.T) {
	now := time.Date(2026, 3, 31, 22, 0, 0, 0, time.UTC)
	l := New(service.DefaultTable(), WithClock(func() time.Time { return now }))

	l.RecordCost(service.AvatarVideo, 12)

	now = time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC)
	got := l.RecordCost(service.AvatarVideo, 4)

	if !almostEqual(got.DailyCost, 4) {
		t.Errorf("Expected daily cost 4 after month rollover, got %v", got.DailyCost)
	}
	if !almostEqual(got.MonthlyCost, 4) {
		t.Errorf("Expected monthly cost 4 after month rollover, got %v", got.MonthlyCost)
	}
}

func TestRecordCost_NegativeAmountClamped(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(service.DefaultTable(), WithClock(fixedClock(now)))

	l.RecordCost(service.TextGeneration, 5)
	got := l.RecordCost(service.TextGeneration, -3)

	if !almostEqual(got.DailyCost, 5) {
		t.Errorf("Expected negative amount clamped, daily cost 5, got %v", got.DailyCost)
	}
}

func TestPeek_DoesNotMutate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(service.DefaultTable(), WithClock(fixedClock(now)))

	l.RecordCost(service.SpeechToText, 1.25)

	first := l.Peek(service.SpeechToText)
	second := l.Peek(service.SpeechToText)

	if first != second {
		t.Errorf("Expected identical snapshots, got %+v then %+v", first, second)
	}
	if !almostEqual(first.DailyCost, 1.25) {
		t.Errorf("Expected daily cost 1.25, got %v", first.DailyCost)
	}
}

func TestPeek_ReportsStaleCountersAsRolledOver(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := New(service.DefaultTable(), WithClock(func() time.Time { return now }))

	l.RecordCost(service.TextGeneration, 8)

	now = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	got := l.Peek(service.TextGeneration)

	if got.DailyCost != 0 {
		t.Errorf("Expected stale daily cost reported as 0, got %v", got.DailyCost)
	}
	if !almostEqual(got.MonthlyCost, 8) {
		t.Errorf("Expected monthly cost still 8, got %v", got.MonthlyCost)
	}
}

func TestCalculate_TokenFormula(t *testing.T) {
	table := service.DefaultTable()
	usage := service.UsageDimensions{InputTokens: 2000, OutputTokens: 500}

	cost, breakdown, err := Calculate(service.TextGeneration, usage, table)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	rates := table[service.TextGeneration].Rates
	want := 2.0*rates.InputPer1K + 0.5*rates.OutputPer1K
	if !almostEqual(cost, want) {
		t.Errorf("Expected cost %v, got %v", want, cost)
	}
	if len(breakdown) != 2 {
		t.Errorf("Expected 2 breakdown entries, got %d", len(breakdown))
	}
}

func TestCalculate_CharacterFormula(t *testing.T) {
	table := service.DefaultTable()
	usage := service.UsageDimensions{Characters: 10000}

	cost, _, err := Calculate(service.SpeechSynthesis, usage, table)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	want := 10000 * table[service.SpeechSynthesis].Rates.PerCharacter
	if !almostEqual(cost, want) {
		t.Errorf("Expected cost %v, got %v", want, cost)
	}
}

func TestCalculate_UnknownService(t *testing.T) {
	_, _, err := Calculate(service.Identity("fax-machine"), service.UsageDimensions{}, service.DefaultTable())
	if err == nil {
		t.Errorf("Expected error for unknown service")
	}
}

func TestCalculate_IsSideEffectFree(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	table := service.DefaultTable()
	l := New(table, WithClock(fixedClock(now)))

	before := l.Peek(service.AvatarVideo)
	usage := service.UsageDimensions{VideoMinutes: 2}
	Calculate(service.AvatarVideo, usage, table)
	Calculate(service.AvatarVideo, usage, table)
	after := l.Peek(service.AvatarVideo)

	if before != after {
		t.Errorf("Expected ledger untouched by Calculate, got %+v then %+v", before, after)
	}
}
