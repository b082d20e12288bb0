// Package health publishes recorder health over the standard gRPC health service
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported next to the overall ("") status
const (
	ServiceUpload = "acro.recorder.Upload"
	ServiceAgent  = "acro.recorder.Agent"
)

// DefaultInterval is how often checks are re-evaluated
const DefaultInterval = 5 * time.Second

// Check reports whether a component is healthy
type Check func(ctx context.Context) (bool, error)

type namedCheck struct {
	service  string
	check    Check
	critical bool // Critical checks decide the overall status
}

// Reporter runs checks and mirrors their results into a grpc health server
type Reporter struct {
	server   *health.Server
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	checks []namedCheck
	last   map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewReporter creates a reporter. Everything starts as SERVING until the first refresh.
func NewReporter(interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		server:   health.NewServer(),
		interval: interval,
		logger:   logger,
		last:     make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
}

// AddCheck registers a check under a service name. Critical checks also drive the overall status.
func (r *Reporter) AddCheck(service string, check Check, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, namedCheck{service: service, check: check, critical: critical})
	r.server.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
}

// Register adds the health service to a grpc server
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Server exposes the underlying health server
func (r *Reporter) Server() healthpb.HealthServer {
	return r.server
}

// Refresh evaluates every check once and publishes the results
func (r *Reporter) Refresh(ctx context.Context) {
	r.mu.Lock()
	checks := make([]namedCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.Unlock()

	overall := healthpb.HealthCheckResponse_SERVING
	for _, c := range checks {
		status := healthpb.HealthCheckResponse_SERVING
		ok, err := c.check(ctx)
		if err != nil {
			r.logger.Warn("Health check failed", "service", c.service, "error", err)
		}
		if err != nil || !ok {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if c.critical {
				overall = healthpb.HealthCheckResponse_NOT_SERVING
			}
		}
		r.publish(c.service, status)
	}
	r.publish("", overall)
}

func (r *Reporter) publish(service string, status healthpb.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	prev, seen := r.last[service]
	r.last[service] = status
	r.mu.Unlock()

	if seen && prev == status {
		return
	}
	if seen {
		r.logger.Info("Health status changed", "service", service, "status", status.String())
	}
	r.server.SetServingStatus(service, status)
}

// Run refreshes on the configured interval until ctx is done
func (r *Reporter) Run(ctx context.Context) {
	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown marks every service NOT_SERVING
func (r *Reporter) Shutdown() {
	r.server.Shutdown()
}

// FailureCounter is satisfied by the upload pipeline
type FailureCounter interface {
	FailedSteps(ctx context.Context) (int, error)
}

// NoFailedSteps is healthy while no step is failed-permanent
func NoFailedSteps(counter FailureCounter) Check {
	return func(ctx context.Context) (bool, error) {
		n, err := counter.FailedSteps(ctx)
		if err != nil {
			return false, err
		}
		return n == 0, nil
	}
}

// Connected adapts a connectivity probe such as the agent bridge
func Connected(probe func() bool) Check {
	return func(ctx context.Context) (bool, error) {
		return probe(), nil
	}
}
