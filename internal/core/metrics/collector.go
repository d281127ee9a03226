package metrics

import (
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
)

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
	RecordWebSocketConnection(action string)

	PlanStarted()
	PlanFinished(status testplan.Status)
	UseCaseFinished(status testplan.Status)
	StepFinished(protocol connection.Protocol, stepType string, status testplan.Status, elapsed time.Duration)
}

// MetricsConfig contains configuration for metrics collection
type MetricsConfig struct {
	Enabled bool
	Prefix  string
}
