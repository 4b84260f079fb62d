package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is the result of probing one dependency of the agent
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// HealthReport aggregates every registered check
type HealthReport struct {
	Status    HealthStatus   `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Checks    []HealthCheck  `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// HealthChecker probes a single dependency
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
}

// CheckFunc adapts a plain function to HealthChecker
type CheckFunc func(ctx context.Context) HealthCheck

// Check calls f
func (f CheckFunc) Check(ctx context.Context) HealthCheck { return f(ctx) }

// HealthManager runs the registered checkers
type HealthManager struct {
	serviceName    string
	serviceVersion string

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealthManager creates a health manager with a 30s per-check timeout
func NewHealthManager(serviceName, serviceVersion string) *HealthManager {
	return &HealthManager{
		serviceName:    serviceName,
		serviceVersion: serviceVersion,
		checkers:       make(map[string]HealthChecker),
		timeout:        30 * time.Second,
	}
}

// RegisterChecker registers or replaces the checker under name
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// SetTimeout bounds each individual check
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.timeout = timeout
}

// CheckHealth runs every check concurrently. The overall status is the
// worst individual status.
func (hm *HealthManager) CheckHealth(ctx context.Context) *HealthReport {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	checkers := make([]HealthChecker, len(names))
	sort.Strings(names)
	for i, name := range names {
		checkers[i] = hm.checkers[name]
	}
	timeout := hm.timeout
	hm.mu.RUnlock()

	checks := make([]HealthCheck, len(names))
	var g errgroup.Group
	for i := range checkers {
		i := i
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			check := checkers[i].Check(checkCtx)
			check.Name = names[i]
			check.LastChecked = start
			check.Duration = time.Since(start)
			checks[i] = check
			return nil
		})
	}
	_ = g.Wait()

	report := &HealthReport{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Service:   hm.serviceName,
		Version:   hm.serviceVersion,
		Checks:    checks,
		Summary:   make(map[string]int),
	}
	for _, check := range checks {
		report.Summary[string(check.Status)]++
		switch {
		case check.Status == HealthStatusUnhealthy:
			report.Status = HealthStatusUnhealthy
		case check.Status == HealthStatusDegraded && report.Status == HealthStatusHealthy:
			report.Status = HealthStatusDegraded
		}
	}
	return report
}

// HTTPHandler serves the report; only an unhealthy agent answers 503
func (hm *HealthManager) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hm.CheckHealth(r.Context())

		code := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	}
}

// DatabaseHealthChecker checks the record store connection pool
type DatabaseHealthChecker struct {
	db *sql.DB
}

// NewDatabaseHealthChecker creates a new database health checker
func NewDatabaseHealthChecker(db *sql.DB) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{db: db}
}

// Check pings the database and reports pool saturation as degraded
func (dhc *DatabaseHealthChecker) Check(ctx context.Context) HealthCheck {
	if err := dhc.db.PingContext(ctx); err != nil {
		return HealthCheck{
			Status:  HealthStatusUnhealthy,
			Message: fmt.Sprintf("record store unreachable: %v", err),
		}
	}

	stats := dhc.db.Stats()
	check := HealthCheck{
		Status:  HealthStatusHealthy,
		Message: "record store reachable",
		Details: map[string]interface{}{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"wait_count":       stats.WaitCount,
		},
	}
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		check.Status = HealthStatusDegraded
		check.Message = "record store connection pool exhausted"
	}
	return check
}

// PingHealthChecker adapts a ping function (Redis, state store) to a health check
type PingHealthChecker struct {
	ping     func(ctx context.Context) error
	critical bool
}

// NewPingHealthChecker creates a checker reporting unhealthy (critical) or degraded when ping fails
func NewPingHealthChecker(ping func(ctx context.Context) error, critical bool) *PingHealthChecker {
	return &PingHealthChecker{ping: ping, critical: critical}
}

// Check performs the ping
func (p *PingHealthChecker) Check(ctx context.Context) HealthCheck {
	if err := p.ping(ctx); err != nil {
		status := HealthStatusDegraded
		if p.critical {
			status = HealthStatusUnhealthy
		}
		return HealthCheck{Status: status, Message: err.Error()}
	}
	return HealthCheck{Status: HealthStatusHealthy, Message: "ok"}
}
