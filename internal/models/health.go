package models

import "time"

// HealthState is the aggregate gateway view of backend availability.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// ServiceHealth is the probe result for a single backend.
type ServiceHealth struct {
	Name      string        `json:"name"`
	Target    string        `json:"target"`
	Up        bool          `json:"up"`
	LatencyMs int64         `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"-"`
}

// HealthReport aggregates all backend probes.
type HealthReport struct {
	Status    HealthState     `json:"status"`
	Services  []ServiceHealth `json:"services"`
	CheckedAt time.Time       `json:"checked_at"`
}
