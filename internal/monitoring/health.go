package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker tracks liveness of the workflow service
type HealthChecker struct {
	mu         sync.RWMutex
	lastStep   time.Time
	lastStepID string
	storeOK    bool
	errors     []string
	maxErrors  int
}

type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	LastStep  time.Time `json:"last_step,omitempty"`
	StepName  string    `json:"step_name,omitempty"`
	StoreOK   bool      `json:"store_ok"`
	Uptime    string    `json:"uptime"`
	Errors    []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		storeOK:   true,
		errors:    make([]string, 0),
		maxErrors: 20,
	}
}

// MarkStep records the most recent step execution
func (h *HealthChecker) MarkStep(step string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastStep = time.Now()
	h.lastStepID = step
}

// SetStoreOK records whether the state store is usable
func (h *HealthChecker) SetStoreOK(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storeOK = ok
}

// AddError keeps the most recent errors for the health report
func (h *HealthChecker) AddError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > h.maxErrors {
		h.errors = h.errors[len(h.errors)-h.maxErrors:]
	}
}

// Snapshot returns the current health report
func (h *HealthChecker) Snapshot() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.storeOK {
		status = "unhealthy"
	} else if len(h.errors) > 0 {
		status = "degraded"
	}

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		LastStep:  h.lastStep,
		StepName:  h.lastStepID,
		StoreOK:   h.storeOK,
		Uptime:    time.Since(startTime).String(),
		Errors:    append([]string(nil), h.errors...),
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}
