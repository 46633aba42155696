package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// Pinger is implemented by tiers that can report reachability (object store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker probes the configured storage tiers. Any tier may be nil when
// unconfigured; missing tiers are simply not reported.
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	objects Pinger
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, objects Pinger) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redisClient,
		objects: objects,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always 200 while serving).
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness checks all configured tiers. The memory tier always exists, so a
// down durable tier degrades rather than fails the process.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check performs a health check against every configured tier.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		status.Dependencies["database"] = h.probe(ctx, func(ctx context.Context) error {
			return h.db.PingContext(ctx)
		})
	}
	if h.redis != nil {
		status.Dependencies["redis"] = h.probe(ctx, func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		})
	}
	if h.objects != nil {
		status.Dependencies["object_store"] = h.probe(ctx, h.objects.Ping)
	}

	for _, dep := range status.Dependencies {
		if dep.Status != StatusHealthy {
			// The in-process memory tier always works, so the core keeps
			// serving with degraded durability.
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) probe(ctx context.Context, ping func(context.Context) error) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}

	if err := ping(ctx); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	dep.Latency = time.Since(start) / time.Millisecond

	return dep
}
