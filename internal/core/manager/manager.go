// Package manager runs test plans in the background, one executor per
// execution id, and keeps their execution records up to date.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/execution"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/registry"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrPlanAlreadyRunning = errors.New("test plan is already running")
	ErrPlanNotFound       = errors.New("test plan is not running")
	ErrTooManyRuns        = errors.New("too many test plans running")
)

// ExecRecordStore persists execution records.
type ExecRecordStore interface {
	Create(ctx context.Context, rec *testplan.ExecRecord) error
	UpdateStatus(ctx context.Context, id string, status testplan.ExecStatus) error
}

// DeviceStore flags devices that are under test.
type DeviceStore interface {
	SetTesting(ctx context.Context, id string, testing bool) error
}

// Deps are the collaborators shared by every run.
type Deps struct {
	Records     ExecRecordStore
	Devices     DeviceStore
	Results     execution.ResultStore
	Broadcaster execution.Broadcaster
	Recorder    execution.Recorder
	// Factory overrides the adapter factory of every run.
	Factory registry.Factory
	Config  config.ExecutionConfig
	Logger  *logrus.Logger
}

// Snapshot describes a running execution.
type Snapshot struct {
	ID         string          `json:"id"`
	PlanID     string          `json:"plan_id"`
	PlanName   string          `json:"plan_name"`
	Status     string          `json:"status"`
	PlanStatus testplan.Status `json:"plan_status"`
	StartedAt  time.Time       `json:"started_at"`
}

// StartResult is returned by Start.
type StartResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

type run struct {
	id        string
	plan      *testplan.Plan
	executor  *execution.Executor
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

type Manager struct {
	deps   Deps
	logger *logrus.Logger
	base   context.Context
	stop   context.CancelFunc

	mu   sync.Mutex
	runs map[string]*run
}

func New(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		deps:   deps,
		logger: deps.Logger,
		base:   base,
		stop:   stop,
		runs:   make(map[string]*run),
	}
}

// Start records a new execution and runs plan in the background. An empty
// execID gets a generated one. ctx only bounds the bookkeeping; the run
// itself lives until it finishes or is stopped.
func (m *Manager) Start(ctx context.Context, execID string, plan *testplan.Plan, scheme *testplan.PlanScheme) (*StartResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: no plan", testplan.ErrInvalidPlan)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if execID == "" {
		execID = uuid.New().String()
	}

	m.mu.Lock()
	if _, ok := m.runs[execID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPlanAlreadyRunning, execID)
	}
	if max := m.deps.Config.MaxConcurrent; max > 0 && len(m.runs) >= max {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManyRuns, max)
	}
	runCtx, cancel := context.WithCancel(m.base)
	r := &run{
		id:        execID,
		plan:      plan,
		cancel:    cancel,
		done:      make(chan struct{}),
		executor:  execution.New(plan, m.executorOptions(execID)...),
		startedAt: time.Now(),
	}
	m.runs[execID] = r
	m.mu.Unlock()

	if err := m.createRecord(ctx, execID, plan, scheme, r.startedAt); err != nil {
		m.remove(r)
		cancel()
		return nil, err
	}

	log := m.logger.WithFields(logrus.Fields{"exec_id": execID, "plan_id": plan.ID})
	log.Info("Test plan execution scheduled")

	go m.execute(runCtx, r, log)
	return &StartResult{ID: execID, Success: true}, nil
}

func (m *Manager) executorOptions(execID string) []execution.Option {
	cfg := m.deps.Config
	opts := []execution.Option{
		execution.WithExecID(execID),
		execution.WithLogger(m.logger),
		execution.WithSettleDelay(cfg.SettleDelay),
		execution.WithDefaultTimeout(cfg.DefaultTimeout),
		execution.WithResultWorkers(cfg.ResultWorkers),
	}
	if cfg.AttachmentsDir != "" {
		opts = append(opts, execution.WithAttachmentsDir(cfg.AttachmentsDir))
	}
	if m.deps.Broadcaster != nil {
		opts = append(opts, execution.WithBroadcaster(m.deps.Broadcaster))
	}
	if m.deps.Results != nil {
		opts = append(opts, execution.WithResultStore(m.deps.Results))
	}
	if m.deps.Recorder != nil {
		opts = append(opts, execution.WithRecorder(m.deps.Recorder))
	}
	if m.deps.Factory != nil {
		opts = append(opts, execution.WithFactory(m.deps.Factory))
	}
	return opts
}

func (m *Manager) createRecord(ctx context.Context, execID string, plan *testplan.Plan, scheme *testplan.PlanScheme, at time.Time) error {
	if m.deps.Records == nil {
		return nil
	}
	data, err := json.Marshal(struct {
		PlanScheme *testplan.PlanScheme `json:"planscheme"`
		Plan       *testplan.Plan       `json:"plan"`
	}{scheme, plan})
	if err != nil {
		return fmt.Errorf("failed to encode execution record: %w", err)
	}
	rec := &testplan.ExecRecord{
		ID:        execID,
		PlanID:    plan.ID,
		Data:      data,
		Status:    testplan.ExecProgress,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := m.deps.Records.Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to create execution record: %w", err)
	}
	return nil
}

func (m *Manager) execute(ctx context.Context, r *run, log *logrus.Entry) {
	defer close(r.done)
	defer m.remove(r)
	defer r.cancel()

	// Bookkeeping must happen even when the run was stopped.
	bg := context.WithoutCancel(ctx)
	deviceID := r.plan.DeviceInfo.ID

	m.setTesting(bg, deviceID, true, log)
	ok := r.executor.Run(ctx)
	m.setTesting(bg, deviceID, false, log)

	status := testplan.ExecFailure
	switch {
	case ctx.Err() != nil:
		status = testplan.ExecStopped
	case ok:
		status = testplan.ExecSuccess
	}

	if m.deps.Records != nil {
		if err := m.deps.Records.UpdateStatus(bg, r.id, status); err != nil {
			log.WithError(err).Error("Failed to update execution record")
		}
	}
	log.WithField("status", status).Info("Test plan execution finished")
}

func (m *Manager) setTesting(ctx context.Context, deviceID string, testing bool, log *logrus.Entry) {
	if m.deps.Devices == nil || deviceID == "" {
		return
	}
	if err := m.deps.Devices.SetTesting(ctx, deviceID, testing); err != nil {
		log.WithError(err).WithField("device_id", deviceID).Warn("Failed to update device testing flag")
	}
}

func (m *Manager) remove(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[r.id] == r {
		delete(m.runs, r.id)
	}
}

// Stop asks a running execution to stop after its current step.
func (m *Manager) Stop(execID string) error {
	m.mu.Lock()
	r, ok := m.runs[execID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, execID)
	}
	m.logger.WithField("exec_id", execID).Info("Stopping test plan")
	r.cancel()
	return nil
}

// Status returns a snapshot of a running execution.
func (m *Manager) Status(execID string) (*Snapshot, error) {
	m.mu.Lock()
	r, ok := m.runs[execID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, execID)
	}
	s := r.snapshot()
	return &s, nil
}

// List returns every running execution, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Done returns a channel closed when the execution finishes, or nil when it
// is not running.
func (m *Manager) Done(execID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[execID]; ok {
		return r.done
	}
	return nil
}

// Shutdown stops every run and waits for them to finish or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()

	m.mu.Lock()
	pending := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		pending = append(pending, r)
	}
	m.mu.Unlock()

	for _, r := range pending {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *run) snapshot() Snapshot {
	s := Snapshot{
		ID:         r.id,
		PlanID:     r.plan.ID,
		PlanName:   r.plan.Name,
		Status:     "running",
		StartedAt:  r.startedAt,
		PlanStatus: r.executor.Status(),
	}
	return s
}
