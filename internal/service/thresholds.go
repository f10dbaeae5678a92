package service

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Rates holds the per-unit prices used by the cost formula. All values
// are USD. Unused dimensions for a service are simply zero.
type Rates struct {
	InputPer1K     float64 `json:"input_per_1k"`
	OutputPer1K    float64 `json:"output_per_1k"`
	PerCharacter   float64 `json:"per_character"`
	PerAudioMinute float64 `json:"per_audio_minute"`
	PerVideoMinute float64 `json:"per_video_minute"`
	PerImage       float64 `json:"per_image"`
}

// Ceilings is a three-level set of dollar limits for one period.
type Ceilings struct {
	Warning   float64 `json:"warning"`
	Critical  float64 `json:"critical"`
	Emergency float64 `json:"emergency"`
}

// Thresholds is the static per-service configuration: unit prices,
// budget ceilings, and pacing parameters. Read-only at runtime.
type Thresholds struct {
	Rates   Rates    `json:"rates"`
	Daily   Ceilings `json:"daily"`
	Monthly Ceilings `json:"monthly"`

	// RequestCeiling is the maximum number of requests allowed inside
	// CeilingWindow (per-hour for slow services, per-minute for chatty
	// ones).
	RequestCeiling int           `json:"request_ceiling"`
	CeilingWindow  time.Duration `json:"ceiling_window"`

	// MinGap is the minimum spacing between two consecutive requests.
	MinGap time.Duration `json:"min_gap"`

	// BaseDelay seeds the randomized human-like pacing delay.
	BaseDelay time.Duration `json:"base_delay"`
}

// Table maps every governed service to its thresholds.
type Table map[Identity]Thresholds

// DefaultTable returns the built-in threshold table. Prices are USD
// and deliberately conservative; override with a JSON file via
// LoadTable for production tuning.
func DefaultTable() Table {
	return Table{
		TextGeneration: {
			Rates:          Rates{InputPer1K: 0.003, OutputPer1K: 0.015},
			Daily:          Ceilings{Warning: 10, Critical: 20, Emergency: 30},
			Monthly:        Ceilings{Warning: 150, Critical: 300, Emergency: 450},
			RequestCeiling: 100,
			CeilingWindow:  time.Hour,
			MinGap:         2 * time.Second,
			BaseDelay:      3 * time.Second,
		},
		TextGenerationAlt: {
			Rates:          Rates{InputPer1K: 0.00015, OutputPer1K: 0.0006},
			Daily:          Ceilings{Warning: 5, Critical: 10, Emergency: 15},
			Monthly:        Ceilings{Warning: 75, Critical: 150, Emergency: 225},
			RequestCeiling: 200,
			CeilingWindow:  time.Hour,
			MinGap:         time.Second,
			BaseDelay:      2 * time.Second,
		},
		SpeechSynthesis: {
			Rates:          Rates{PerCharacter: 0.00003},
			Daily:          Ceilings{Warning: 8, Critical: 15, Emergency: 20},
			Monthly:        Ceilings{Warning: 100, Critical: 200, Emergency: 300},
			RequestCeiling: 60,
			CeilingWindow:  time.Hour,
			MinGap:         3 * time.Second,
			BaseDelay:      5 * time.Second,
		},
		AvatarVideo: {
			Rates:          Rates{PerVideoMinute: 3.0},
			Daily:          Ceilings{Warning: 15, Critical: 30, Emergency: 50},
			Monthly:        Ceilings{Warning: 200, Critical: 400, Emergency: 600},
			RequestCeiling: 10,
			CeilingWindow:  time.Hour,
			MinGap:         30 * time.Second,
			BaseDelay:      time.Minute,
		},
		SpeechToText: {
			Rates:          Rates{PerAudioMinute: 0.006},
			Daily:          Ceilings{Warning: 5, Critical: 10, Emergency: 15},
			Monthly:        Ceilings{Warning: 60, Critical: 120, Emergency: 180},
			RequestCeiling: 100,
			CeilingWindow:  time.Hour,
			MinGap:         time.Second,
			BaseDelay:      2 * time.Second,
		},
	}
}

// LoadTable reads a JSON threshold table from path and merges it over
// the defaults, so an override file only needs the services it wants
// to change. Durations are given in seconds in the file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold table: %w", err)
	}

	var raw map[Identity]struct {
		Rates          Rates    `json:"rates"`
		Daily          Ceilings `json:"daily"`
		Monthly        Ceilings `json:"monthly"`
		RequestCeiling int      `json:"request_ceiling"`
		CeilingWindowS int      `json:"ceiling_window_seconds"`
		MinGapS        float64  `json:"min_gap_seconds"`
		BaseDelayS     float64  `json:"base_delay_seconds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse threshold table: %w", err)
	}

	table := DefaultTable()
	for id, entry := range raw {
		if !id.Valid() {
			return nil, fmt.Errorf("unknown service %q in threshold table", id)
		}
		table[id] = Thresholds{
			Rates:          entry.Rates,
			Daily:          entry.Daily,
			Monthly:        entry.Monthly,
			RequestCeiling: entry.RequestCeiling,
			CeilingWindow:  time.Duration(entry.CeilingWindowS) * time.Second,
			MinGap:         time.Duration(entry.MinGapS * float64(time.Second)),
			BaseDelay:      time.Duration(entry.BaseDelayS * float64(time.Second)),
		}
	}
	return table, nil
}

// Validate checks the table for every known service. Called once at
// startup; a bad table is fatal there rather than per-call.
func (t Table) Validate() error {
	for _, id := range All() {
		th, ok := t[id]
		if !ok {
			return fmt.Errorf("missing threshold entry for service %s", id)
		}
		for period, c := range map[string]Ceilings{"daily": th.Daily, "monthly": th.Monthly} {
			if c.Warning <= 0 || c.Critical <= 0 || c.Emergency <= 0 {
				return fmt.Errorf("service %s: %s ceilings must be positive", id, period)
			}
			if c.Warning > c.Critical || c.Critical > c.Emergency {
				return fmt.Errorf("service %s: %s ceilings must be ordered warning <= critical <= emergency", id, period)
			}
		}
		if th.RequestCeiling <= 0 {
			return fmt.Errorf("service %s: request ceiling must be positive", id)
		}
		if th.CeilingWindow <= 0 || th.MinGap < 0 || th.BaseDelay <= 0 {
			return fmt.Errorf("service %s: pacing durations must be positive", id)
		}
	}
	return nil
}
