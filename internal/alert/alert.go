// Package alert delivers governance notifications (budget emergencies,
// exposed credentials, ban escalations) to an external sink. Delivery
// failures are logged and swallowed; an alert must never block or fail
// the call it was raised about.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Event is one notification. Fields beyond Kind and Message are
// optional context for the receiver.
type Event struct {
	Kind      string    `json:"kind"` // "exposed_keys", "emergency_stop", "ban_escalation", "budget"
	Service   string    `json:"service,omitempty"`
	Message   string    `json:"message"`
	Details   []string  `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events. Implementations must be safe for concurrent
// use. Send errors are advisory; callers log and move on.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// WebhookSink POSTs events as JSON to a fixed URL. A circuit breaker
// stops the sink from hammering a dead endpoint: after three
// consecutive delivery failures, sends fail fast for thirty seconds.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewWebhookSink(url string) *WebhookSink {
	settings := gobreaker.Settings{
		Name:        "alert-webhook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *WebhookSink) Send(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("alert webhook returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to deliver alert: %w", err)
	}
	return nil
}

// LogSink writes events to the process log. Used when no webhook URL
// is configured, and as the fallback target in tests.
type LogSink struct{}

func (LogSink) Send(_ context.Context, ev Event) error {
	log.Printf("[alert] %s service=%s: %s", ev.Kind, ev.Service, ev.Message)
	return nil
}

// Notify sends through sink and logs the error if delivery fails.
// This is the form every governance package uses; none of them treat
// delivery failure as their own failure.
func Notify(ctx context.Context, sink Sink, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Send(ctx, ev); err != nil {
		log.Printf("[alert] delivery failed (%s): %v", ev.Kind, err)
	}
}
