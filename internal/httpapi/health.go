package httpapi

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker reports whether one dependency is usable.
type Checker func(ctx context.Context) error

type healthStatus string

const (
	statusUp   healthStatus = "up"
	statusDown healthStatus = "down"
)

type healthResponse struct {
	Status    healthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status healthStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// Health serves liveness and readiness probes.
type Health struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewHealth(timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Health{timeout: timeout, checkers: make(map[string]Checker)}
}

func (h *Health) Register(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = c
}

// Live is 200 whenever the process can serve HTTP.
func (h *Health) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: statusUp, Timestamp: time.Now().UTC()})
}

// Ready runs every checker concurrently and answers 503 if any fails.
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	checkers := make([]Checker, len(names))
	sort.Strings(names)
	for i, name := range names {
		checkers[i] = h.checkers[name]
	}
	h.mu.RUnlock()

	results := make([]checkResult, len(names))
	var wg sync.WaitGroup
	for i := range checkers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := checkers[i](ctx); err != nil {
				results[i] = checkResult{Status: statusDown, Error: err.Error()}
				return
			}
			results[i] = checkResult{Status: statusUp}
		}(i)
	}
	wg.Wait()

	resp := healthResponse{
		Status:    statusUp,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]checkResult, len(names)),
	}
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i].Status == statusDown {
			resp.Status = statusDown
		}
	}

	status := http.StatusOK
	if resp.Status == statusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
