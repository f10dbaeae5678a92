// Package service defines the identities of the metered external
// services the content pipeline calls, plus the small value types
// shared by the governance packages.
package service

import "time"

// Identity names a metered external service. All governance state is
// partitioned by Identity; there is no cross-service sharing.
type Identity string

const (
	TextGeneration    Identity = "text-generation"
	TextGenerationAlt Identity = "text-generation-alt"
	SpeechSynthesis   Identity = "speech-synthesis"
	AvatarVideo       Identity = "avatar-video"
	SpeechToText      Identity = "speech-to-text"
)

// All returns every known service identity.
func All() []Identity {
	return []Identity{
		TextGeneration,
		TextGenerationAlt,
		SpeechSynthesis,
		AvatarVideo,
		SpeechToText,
	}
}

// Valid reports whether id is one of the known identities.
func (id Identity) Valid() bool {
	for _, s := range All() {
		if s == id {
			return true
		}
	}
	return false
}

// UsageDimensions describes the billable units of a single request.
// Only the dimensions relevant to a service need to be set; the cost
// formula ignores zero dimensions.
type UsageDimensions struct {
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Characters   int     `json:"characters,omitempty"`
	AudioMinutes float64 `json:"audio_minutes,omitempty"`
	VideoMinutes float64 `json:"video_minutes,omitempty"`
	Images       int     `json:"images,omitempty"`
}

// RequestOutcome records the result of one attempted external call.
// Immutable once created; StatusCode 0 means no HTTP status was
// observed (e.g. transport error).
type RequestOutcome struct {
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
}

// RiskLevel grades how worried the governance layer is about a
// finding or condition.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskWarning  RiskLevel = "warning"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)
