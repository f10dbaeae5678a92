// Package secscan inspects arbitrary text and configuration for leaked
// service credentials. Detection is a pure function over an injectable
// pattern table; the only side effect is an alert when something is
// found.
package secscan

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/clipforge/governor/internal/alert"
	"github.com/clipforge/governor/internal/service"
)

// Pattern describes the credential shape of one service. Shapes change
// per provider, so the table is injected rather than hard-coded.
type Pattern struct {
	Service service.Identity
	Regexp  *regexp.Regexp
}

// DefaultPatterns covers the key shapes of the services the pipeline
// currently uses.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{service.TextGeneration, regexp.MustCompile(`sk-ant-[A-Za-z0-9\-_]{20,}`)},
		{service.TextGenerationAlt, regexp.MustCompile(`sk-[A-Za-z0-9]{20}T3BlbkFJ[A-Za-z0-9]{20}`)},
		{service.SpeechSynthesis, regexp.MustCompile(`\bxi-[a-f0-9]{32}\b`)},
		{service.AvatarVideo, regexp.MustCompile(`\bhg_[A-Za-z0-9]{24,}\b`)},
		{service.SpeechToText, regexp.MustCompile(`\bwsp_[A-Za-z0-9]{32,}\b`)},
	}
}

// Match is one detected credential, masked for safe logging.
type Match struct {
	Service      service.Identity `json:"service"`
	MaskedValue  string           `json:"masked_value"`
	LocationHint string           `json:"location_hint"`
}

// Report is the outcome of a scan.
type Report struct {
	HasExposedKeys bool              `json:"has_exposed_keys"`
	Matches        []Match           `json:"matches,omitempty"`
	RiskLevel      service.RiskLevel `json:"risk_level"`
}

// Scanner matches text against the pattern table and tracks the
// last-known validity of each service's configured key. The admission
// path consults KeyValid before anything else.
type Scanner struct {
	patterns []Pattern
	sink     alert.Sink
	now      func() time.Time

	mu       sync.RWMutex
	keyValid map[service.Identity]bool
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithClock overrides the scanner's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

func New(patterns []Pattern, sink alert.Sink, opts ...Option) *Scanner {
	s := &Scanner{
		patterns: patterns,
		sink:     sink,
		now:      time.Now,
		keyValid: make(map[service.Identity]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterKeys records whether each service's configured key is
// format-valid and non-empty. A key that later shows up in scanned
// text is demoted to invalid until an operator rotates it.
func (s *Scanner) RegisterKeys(keys map[service.Identity]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, key := range keys {
		s.keyValid[id] = s.formatValid(id, key)
	}
}

func (s *Scanner) formatValid(id service.Identity, key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	for _, p := range s.patterns {
		if p.Service == id {
			return p.Regexp.MatchString(key)
		}
	}
	// No known shape for this service; non-empty is the best we can do.
	return true
}

// KeyValid reports the last-known validity of a service's key.
// Services never registered are treated as invalid: the pipeline must
// not call a service it has no credential for.
func (s *Scanner) KeyValid(id service.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyValid[id]
}

// Scan inspects text for exposed credentials. Finding a credential for
// a registered service marks that service's key compromised.
func (s *Scanner) Scan(ctx context.Context, text string) Report {
	var matches []Match
	for _, p := range s.patterns {
		for _, loc := range p.Regexp.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{
				Service:      p.Service,
				MaskedValue:  mask(text[loc[0]:loc[1]]),
				LocationHint: locationHint(text, loc[0]),
			})
		}
	}

	if len(matches) == 0 {
		return Report{RiskLevel: service.RiskNone}
	}

	report := Report{
		HasExposedKeys: true,
		Matches:        matches,
		RiskLevel:      contextRisk(text),
	}

	s.mu.Lock()
	for _, m := range matches {
		if _, registered := s.keyValid[m.Service]; registered {
			s.keyValid[m.Service] = false
		}
	}
	s.mu.Unlock()

	var services, masked []string
	for _, m := range matches {
		services = append(services, string(m.Service))
		masked = append(masked, m.MaskedValue)
	}
	alert.Notify(ctx, s.sink, alert.Event{
		Kind:      "exposed_keys",
		Message:   fmt.Sprintf("exposed credentials detected for: %s", strings.Join(services, ", ")),
		Details:   masked,
		Timestamp: s.now(),
	})

	return report
}

// mask keeps the first and last four characters of a credential and
// replaces the interior.
func mask(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "****" + value[len(value)-4:]
}

// contextRisk grades the surrounding text: source-control hosts or the
// word "public" suggest the credential is already out in the open;
// log/error markers suggest it leaked into diagnostics.
func contextRisk(text string) service.RiskLevel {
	lower := strings.ToLower(text)
	for _, marker := range []string{"github.com", "gitlab.com", "bitbucket.org", "public"} {
		if strings.Contains(lower, marker) {
			return service.RiskCritical
		}
	}
	for _, marker := range []string{"log", "error", "stack trace", "traceback"} {
		if strings.Contains(lower, marker) {
			return service.RiskHigh
		}
	}
	return service.RiskLow
}

// locationHint returns the 1-based line number of an offset, which is
// all a human needs to find the leak in a config file or log dump.
func locationHint(text string, offset int) string {
	line := 1 + strings.Count(text[:offset], "\n")
	return fmt.Sprintf("line %d", line)
}
