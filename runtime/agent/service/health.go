package service

import (
	"context"
	"time"

	"github.com/helioai/lio-agent/runtime/agent/engine"
	"github.com/helioai/lio-agent/runtime/agent/telemetry"
	"github.com/helioai/lio-agent/runtime/agent/tools"
)

type (
	// Metrics is a snapshot of service activity.
	Metrics struct {
		TotalRequests       int                    `json:"totalRequests"`
		SuccessfulRequests  int                    `json:"successfulRequests"`
		FailedRequests      int                    `json:"failedRequests"`
		AverageResponseTime time.Duration          `json:"averageResponseTime"`
		TotalResponseTime   time.Duration          `json:"totalResponseTime"`
		Engine              engine.Metrics         `json:"engine"`
		Tools               map[string]tools.Stats `json:"tools"`
		Sessions            SessionTotals          `json:"sessions"`
	}

	// SessionTotals counts engine sessions.
	SessionTotals struct {
		Total  int `json:"total"`
		Active int `json:"active"`
	}

	// Health is the advisory health status of the service.
	Health struct {
		Status  HealthStatus  `json:"status"`
		Details HealthDetails `json:"details"`
	}

	// HealthDetails explains a Health status.
	HealthDetails struct {
		ErrorRate      float64        `json:"errorRate"`
		ActiveSessions int            `json:"activeSessions"`
		MaxSessions    int            `json:"maxSessions"`
		TotalTools     int            `json:"totalTools"`
		Engine         engine.Metrics `json:"engineStatus"`
	}

	// HealthStatus is healthy, degraded or unhealthy.
	HealthStatus string
)

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health thresholds on the engine error rate and on session saturation.
const (
	degradedErrorRate  = 0.1
	unhealthyErrorRate = 0.3
	degradedSaturation = 0.8
)

// Metrics returns a snapshot of request counters, engine metrics, tool
// statistics and session totals.
func (s *Service) Metrics() Metrics {
	em := s.engine.Metrics()
	s.mu.Lock()
	req := s.requests
	s.mu.Unlock()
	m := Metrics{
		TotalRequests:      req.total,
		SuccessfulRequests: req.successful,
		FailedRequests:     req.failed,
		TotalResponseTime:  req.responseTime,
		Engine:             em,
		Tools:              s.tools.Stats(),
		Sessions:           SessionTotals{Total: em.TotalSessions, Active: em.ActiveSessions},
	}
	if req.total > 0 {
		m.AverageResponseTime = req.responseTime / time.Duration(req.total)
	}
	return m
}

// Health derives the service status from the engine error rate and the
// number of active sessions relative to MaxSessions.
func (s *Service) Health() Health {
	em := s.engine.Metrics()
	status := StatusHealthy
	if em.ErrorRate > degradedErrorRate || float64(em.ActiveSessions) > float64(s.maxSessions)*degradedSaturation {
		status = StatusDegraded
	}
	if em.ErrorRate > unhealthyErrorRate || em.ActiveSessions >= s.maxSessions {
		status = StatusUnhealthy
	}
	return Health{
		Status: status,
		Details: HealthDetails{
			ErrorRate:      em.ErrorRate,
			ActiveSessions: em.ActiveSessions,
			MaxSessions:    s.maxSessions,
			TotalTools:     len(s.tools.Names()),
			Engine:         em,
		},
	}
}

// Monitor logs a metrics snapshot and records the session and error rate
// gauges every MetricsInterval until ctx is done.
func (s *Service) Monitor(ctx context.Context) {
	ticker := time.NewTicker(s.metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.report(ctx)
		}
	}
}

func (s *Service) report(ctx context.Context) {
	m := s.Metrics()
	successRate := 0.0
	if m.TotalRequests > 0 {
		successRate = float64(m.SuccessfulRequests) / float64(m.TotalRequests) * 100
	}
	s.metrics.RecordGauge(telemetry.MetricActiveSessions, float64(m.Sessions.Active))
	s.metrics.RecordGauge(telemetry.MetricErrorRate, m.Engine.ErrorRate)
	s.logger.Info(ctx, "agent metrics",
		"total_requests", m.TotalRequests,
		"success_rate", successRate,
		"average_response_time", m.AverageResponseTime.String(),
		"active_sessions", m.Sessions.Active,
		"total_tools", len(m.Tools))
}
