package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe checks one dependency. A failing critical probe makes the service
// unhealthy; any other failing probe only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// DatabaseProbe runs a trivial query. An exhausted pool degrades readiness
// without failing it.
func DatabaseProbe(db *sql.DB) Probe {
	return Probe{
		Name:     "database",
		Critical: true,
		Check: func(ctx context.Context) error {
			var one int
			if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
				return err
			}
			if s := db.Stats(); s.MaxOpenConnections > 0 && s.InUse >= s.MaxOpenConnections {
				return errPoolExhausted
			}
			return nil
		},
	}
}

// RedisProbe pings the session and permission cache store. Sessions cannot
// be validated without it, so it is critical.
func RedisProbe(client *redis.Client) Probe {
	return Probe{
		Name:     "redis",
		Critical: true,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

var errPoolExhausted = errors.New("connection pool exhausted")

// HealthStatus is the readiness report
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one probe
type DependencyStatus struct {
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// HealthChecker runs probes concurrently for the readiness endpoint
type HealthChecker struct {
	version string
	timeout time.Duration
	probes  []Probe
}

// NewHealthChecker creates a checker reporting version and running probes
func NewHealthChecker(version string, probes ...Probe) *HealthChecker {
	return &HealthChecker{version: version, timeout: 5 * time.Second, probes: probes}
}

// Check runs every probe and folds the results into one status
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]DependencyStatus, len(h.probes))
	var g errgroup.Group
	for i, p := range h.probes {
		g.Go(func() error {
			results[i] = runProbe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
	if len(h.probes) > 0 {
		report.Dependencies = make(map[string]DependencyStatus, len(h.probes))
	}
	for i, p := range h.probes {
		res := results[i]
		report.Dependencies[p.Name] = res
		switch {
		case res.Status == StatusUnhealthy && p.Critical:
			report.Status = StatusUnhealthy
		case res.Status != StatusHealthy && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func runProbe(ctx context.Context, p Probe) DependencyStatus {
	start := time.Now()
	err := p.Check(ctx)
	res := DependencyStatus{
		Status:    StatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	switch {
	case errors.Is(err, errPoolExhausted):
		res.Status, res.Message = StatusDegraded, err.Error()
	case err != nil:
		res.Status, res.Message = StatusUnhealthy, err.Error()
	}
	return res
}

func (h *HealthChecker) live(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now().UTC(), Version: h.version})
}

func (h *HealthChecker) ready(w http.ResponseWriter, r *http.Request) {
	report := h.Check(r.Context())
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, report)
}

func writeHealth(w http.ResponseWriter, code int, report HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// RegisterHealthRoutes mounts /health/live and /health/ready. Bare /health
// is an alias for readiness.
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health/live", checker.live).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.ready).Methods(http.MethodGet)
	router.HandleFunc("/health", checker.ready).Methods(http.MethodGet)
}
