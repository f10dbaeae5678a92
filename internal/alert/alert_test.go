package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestWebhookSink_Delivers(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), Event{Kind: "emergency_stop", Service: "avatar-video", Message: "stopped"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if received.Kind != "emergency_stop" {
		t.Errorf("Expected emergency_stop, got %s", received.Kind)
	}
	if received.Timestamp.IsZero() {
		t.Errorf("Expected timestamp filled in")
	}
}

func TestWebhookSink_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	if err := sink.Send(context.Background(), Event{Kind: "budget", Message: "x"}); err == nil {
		t.Errorf("Expected error on 500 response")
	}
}

func TestWebhookSink_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	for i := 0; i < 6; i++ {
		_ = sink.Send(context.Background(), Event{Kind: "budget", Message: "x"})
	}

	// The breaker trips after three consecutive failures; later sends
	// fail fast without reaching the endpoint.
	if got := atomic.LoadInt64(&hits); got != 3 {
		t.Errorf("Expected 3 webhook hits before breaker opened, got %d", got)
	}
}

func TestNotify_SwallowsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Must not panic; the error is logged, not returned.
	Notify(context.Background(), NewWebhookSink(srv.URL), Event{Kind: "budget", Message: "x"})
	Notify(context.Background(), nil, Event{Kind: "budget", Message: "x"})
}

func TestLogSink_NeverFails(t *testing.T) {
	if err := (LogSink{}).Send(context.Background(), Event{Kind: "ban_escalation", Message: "x"}); err != nil {
		t.Errorf("LogSink should not fail, got %v", err)
	}
}
