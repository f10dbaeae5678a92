// Package audit persists an append-only trail of governance decisions
// and recorded outcomes. The in-memory ledger stays authoritative for
// admission; the trail exists for dashboards and postmortems.
package audit

import (
	"context"
	"time"
)

// Event discriminates trail entries.
const (
	EventAdmission = "admission"
	EventOutcome   = "outcome"
)

// Record is one governance event.
type Record struct {
	ID         string    `json:"id"`
	WorkerID   string    `json:"worker_id"`
	RequestID  string    `json:"request_id"`
	Service    string    `json:"service"`
	Event      string    `json:"event"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	CostUSD    float64   `json:"cost_usd"`
	WaitMs     int64     `json:"wait_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store interface {
	Log(ctx context.Context, rec *Record) error
	ListByService(ctx context.Context, svc string, from, to time.Time) ([]*Record, error)
	TotalCostByService(ctx context.Context, svc string, from, to time.Time) (float64, error)
}
