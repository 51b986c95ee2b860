// Package capability defines the contracts the avatar session core consumes:
// rendering, speech, dialogue, face detection and the video frame source.
// Real providers live behind these interfaces; the package also ships mock
// implementations used in local mode and tests.
package capability

import "context"

// HealthStatus reports one provider's view of its own health.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// Health is the result of a provider health query.
type Health struct {
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// HealthReporter is implemented by every provider that exposes a health query.
type HealthReporter interface {
	ServiceHealth(ctx context.Context) (Health, error)
}

// Fault is an asynchronous provider-level error, delivered outside any
// session operation (dropped stream, upstream disconnect, quota trip).
type Fault struct {
	Provider  string
	Code      string
	Detail    string
	Retryable bool
}

// FaultNotifier is optionally implemented by providers that surface
// asynchronous faults. The session manager forwards these as service-error
// signals tagged with the provider name.
type FaultNotifier interface {
	ServiceFaults() <-chan Fault
}
