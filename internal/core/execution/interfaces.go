package execution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
)

// EventStepResult is the event name every progress update is broadcast under.
const EventStepResult = "testStepResult"

// Update kinds. Device status updates use the protocol name as kind.
const (
	KindPlan    = "plan"
	KindScheme  = "scheme"
	KindUseCase = "usecase"
	KindStep    = "step"
)

// Broadcaster pushes progress to observers. Implementations must not block.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// ResultStore persists step outcomes.
type ResultStore interface {
	Create(ctx context.Context, rec *testplan.ResultRecord) error
}

// Recorder receives execution metrics.
type Recorder interface {
	PlanStarted()
	PlanFinished(status testplan.Status)
	UseCaseFinished(status testplan.Status)
	StepFinished(protocol connection.Protocol, stepType string, status testplan.Status, elapsed time.Duration)
}

// Event is the payload of a testStepResult broadcast.
type Event struct {
	PlanID string `json:"plan_id"`
	Data   Update `json:"data"`
}

// Update carries a JSON snapshot of the node that changed.
type Update struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, interface{}) {}

type nopRecorder struct{}

func (nopRecorder) PlanStarted()                    {}
func (nopRecorder) PlanFinished(testplan.Status)    {}
func (nopRecorder) UseCaseFinished(testplan.Status) {}
func (nopRecorder) StepFinished(connection.Protocol, string, testplan.Status, time.Duration) {
}
