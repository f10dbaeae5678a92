// Package httpapi is the HTTP surface pipeline workers call before and
// after every outbound service request.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clipforge/governor/internal/audit"
	"github.com/clipforge/governor/internal/auth"
	"github.com/clipforge/governor/internal/governor"
	"github.com/clipforge/governor/internal/service"
	"github.com/clipforge/governor/pkg/ratelimit"
)

type Handler struct {
	gov     *governor.Governor
	trail   audit.Store
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
}

func NewHandler(gov *governor.Governor, trail audit.Store, limiter *ratelimit.Limiter, tracer trace.Tracer) *Handler {
	return &Handler{
		gov:     gov,
		trail:   trail,
		limiter: limiter,
		tracer:  tracer,
	}
}

type admissionRequest struct {
	Service service.Identity         `json:"service"`
	Usage   *service.UsageDimensions `json:"usage,omitempty"`
}

type outcomeRequest struct {
	Service    service.Identity         `json:"service"`
	Success    bool                     `json:"success"`
	StatusCode int                      `json:"status_code,omitempty"`
	Usage      *service.UsageDimensions `json:"usage,omitempty"`
}

type scanRequest struct {
	Text string `json:"text"`
}

type stopRequest struct {
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleAdmission is the pre-call check. The response's wait_ms is the
// caller's to sleep out; the governance layer never blocks.
func (h *Handler) HandleAdmission(w http.ResponseWriter, r *http.Request) {
	workerID, requestID, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var req admissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Service.Valid() {
		writeError(w, http.StatusBadRequest, "unknown service")
		return
	}

	_, span := h.tracer.Start(r.Context(), "governor.admission")
	defer span.End()
	span.SetAttributes(
		attribute.String("worker_id", workerID),
		attribute.String("request_id", requestID),
		attribute.String("service", string(req.Service)),
	)

	decision := h.gov.PreRequestCheck(req.Service, req.Usage)
	span.SetAttributes(attribute.Bool("allowed", decision.Allowed))

	go func() {
		rec := &audit.Record{
			WorkerID:  workerID,
			RequestID: requestID,
			Service:   string(req.Service),
			Event:     audit.EventAdmission,
			Allowed:   decision.Allowed,
			Reason:    decision.Reason,
			WaitMs:    decision.WaitMs,
		}
		if decision.EstimatedCost != nil {
			rec.CostUSD = *decision.EstimatedCost
		}
		_ = h.trail.Log(context.Background(), rec)
	}()

	writeJSON(w, http.StatusOK, decision)
}

// HandleOutcome records the result of an attempted call. Always 202:
// recording never fails into the caller, which has its own result to
// report upstream.
func (h *Handler) HandleOutcome(w http.ResponseWriter, r *http.Request) {
	workerID, requestID, ok := h.prepare(w, r)
	if !ok {
		return
	}

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Service.Valid() {
		writeError(w, http.StatusBadRequest, "unknown service")
		return
	}

	cost := h.gov.PostRequestRecord(req.Service, req.Success, req.Usage, req.StatusCode)

	go func() {
		_ = h.trail.Log(context.Background(), &audit.Record{
			WorkerID:   workerID,
			RequestID:  requestID,
			Service:    string(req.Service),
			Event:      audit.EventOutcome,
			Allowed:    req.Success,
			StatusCode: req.StatusCode,
			CostUSD:    cost,
		})
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"recorded": true,
		"cost_usd": cost,
	})
}

// HandleUsage returns the dashboard usage report, optionally with the
// audit history for one service over a date range.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if auth.GetWorkerID(r.Context()) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	resp := map[string]interface{}{
		"report": h.gov.Report(),
	}

	if svc := r.URL.Query().Get("service"); svc != "" {
		now := time.Now()
		from := now.AddDate(0, 0, -30) // Default: last 30 days
		to := now

		if fromStr := r.URL.Query().Get("from"); fromStr != "" {
			var err error
			from, err = time.Parse(time.RFC3339, fromStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
				return
			}
		}
		if toStr := r.URL.Query().Get("to"); toStr != "" {
			var err error
			to, err = time.Parse(time.RFC3339, toStr)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
				return
			}
		}

		history, err := h.trail.ListByService(r.Context(), svc, from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		total, err := h.trail.TotalCostByService(r.Context(), svc, from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["history"] = history
		resp["history_total_cost_usd"] = total
		resp["from"] = from
		resp["to"] = to
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleScan inspects submitted text for exposed credentials.
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	if auth.GetWorkerID(r.Context()) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, h.gov.Scan(r.Context(), req.Text))
}

// HandleBanIndicators reports ban evidence for one service.
func (h *Handler) HandleBanIndicators(w http.ResponseWriter, r *http.Request) {
	if auth.GetWorkerID(r.Context()) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := service.Identity(chi.URLParam(r, "service"))
	if !id.Valid() {
		writeError(w, http.StatusBadRequest, "unknown service")
		return
	}

	writeJSON(w, http.StatusOK, h.gov.CheckBanIndicators(id))
}

// HandleEmergencyStop is the operator override: force a service's
// breaker open until cleared or the next rollover.
func (h *Handler) HandleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	workerID := auth.GetWorkerID(r.Context())
	if workerID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := service.Identity(chi.URLParam(r, "service"))
	if !id.Valid() {
		writeError(w, http.StatusBadRequest, "unknown service")
		return
	}

	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	h.gov.EmergencyStop(r.Context(), id, req.Reason+" (by "+workerID+")")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "service": string(id)})
}

// HandleClearEmergencyStop lifts a stop.
func (h *Handler) HandleClearEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if auth.GetWorkerID(r.Context()) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := service.Identity(chi.URLParam(r, "service"))
	if !id.Valid() {
		writeError(w, http.StatusBadRequest, "unknown service")
		return
	}

	h.gov.ClearEmergencyStop(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "service": string(id)})
}

// prepare runs the checks shared by the two hot endpoints: worker
// identity and the admission-endpoint rate limit.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (workerID, requestID string, ok bool) {
	ctx := r.Context()
	workerID = auth.GetWorkerID(ctx)
	if workerID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}

	requestID = auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	allowed, err := h.limiter.Allow(ctx, workerID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return "", "", false
	}

	return workerID, requestID, true
}
