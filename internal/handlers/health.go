package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

// check pings p and reports whether it passed. A missing optional
// dependency is reported but does not fail the check.
func check(ctx context.Context, p pinger, optional bool) (Check, bool) {
	if p == nil {
		if optional {
			return Check{Status: "pass", Message: "not configured"}, true
		}
		return Check{Status: "fail", Message: "not configured"}, false
	}
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Check{Status: "fail", Message: "connection failed"}, false
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}, true
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	var data pinger
	if h.data != nil {
		data = h.data
	}
	c, ok := check(ctx, data, false)
	checks["store"] = c
	allHealthy = allHealthy && ok

	var redis pinger
	if h.redis != nil {
		redis = h.redis
	}
	c, ok = check(ctx, redis, true)
	checks["redis"] = c
	allHealthy = allHealthy && ok

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Root reports that the relay is up.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"message": "Encrypted Messaging API is running."})
}
