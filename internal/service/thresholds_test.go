package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultTable_Validates(t *testing.T) {
	if err := DefaultTable().Validate(); err != nil {
		t.Fatalf("Default table should validate, got %v", err)
	}
}

func TestValidate_MissingService(t *testing.T) {
	table := DefaultTable()
	delete(table, AvatarVideo)

	err := table.Validate()
	if err == nil || !strings.Contains(err.Error(), "missing threshold entry") {
		t.Errorf("Expected missing-entry error, got %v", err)
	}
}

func TestValidate_UnorderedCeilings(t *testing.T) {
	table := DefaultTable()
	th := table[SpeechSynthesis]
	th.Daily = Ceilings{Warning: 20, Critical: 10, Emergency: 30}
	table[SpeechSynthesis] = th

	err := table.Validate()
	if err == nil || !strings.Contains(err.Error(), "must be ordered") {
		t.Errorf("Expected ordering error, got %v", err)
	}
}

func TestValidate_NonPositiveCeiling(t *testing.T) {
	table := DefaultTable()
	th := table[TextGeneration]
	th.Monthly.Warning = 0
	table[TextGeneration] = th

	err := table.Validate()
	if err == nil || !strings.Contains(err.Error(), "must be positive") {
		t.Errorf("Expected positivity error, got %v", err)
	}
}

func TestLoadTable_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.json")
	data := `{
		"speech-synthesis": {
			"rates": {"per_character": 0.00005},
			"daily": {"warning": 12, "critical": 24, "emergency": 36},
			"monthly": {"warning": 120, "critical": 240, "emergency": 360},
			"request_ceiling": 30,
			"ceiling_window_seconds": 3600,
			"min_gap_seconds": 4,
			"base_delay_seconds": 6
		}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable failed: %v", err)
	}

	th := table[SpeechSynthesis]
	if th.Rates.PerCharacter != 0.00005 {
		t.Errorf("Expected overridden rate, got %v", th.Rates.PerCharacter)
	}
	if th.MinGap != 4*time.Second || th.BaseDelay != 6*time.Second {
		t.Errorf("Expected durations from file, got %v / %v", th.MinGap, th.BaseDelay)
	}

	// Untouched services keep their defaults.
	if table[TextGeneration].Rates.InputPer1K != 0.003 {
		t.Errorf("Expected default text-generation rates to survive the merge")
	}
	if err := table.Validate(); err != nil {
		t.Errorf("Merged table should validate, got %v", err)
	}
}

func TestLoadTable_UnknownService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.json")
	if err := os.WriteFile(path, []byte(`{"fax-machine": {}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadTable(path); err == nil || !strings.Contains(err.Error(), "unknown service") {
		t.Errorf("Expected unknown-service error, got %v", err)
	}
}

func TestLoadTable_MissingFile(t *testing.T) {
	if _, err := LoadTable(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}
