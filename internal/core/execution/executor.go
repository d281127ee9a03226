// Package execution drives a test plan through its schemes, use cases and
// steps against live device connections.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/registry"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	apperrors "github.com/frostdev-ops/devtest-backend-go/pkg/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSettleDelay    = time.Second
	defaultStepTimeout    = 10 * time.Second
	defaultResultWorkers  = 4
	defaultAttachmentsDir = "./plans"
)

// Executor runs one plan once. The plan tree is owned by the goroutine that
// calls Run; observers only ever see JSON snapshots of it.
type Executor struct {
	execID         string
	plan           *testplan.Plan
	registry       *registry.Registry
	factory        registry.Factory
	broadcaster    Broadcaster
	results        ResultStore
	recorder       Recorder
	logger         *logrus.Logger
	settleDelay    time.Duration
	defaultTimeout time.Duration
	attachmentsDir string
	resultWorkers  int
	now            func() time.Time

	status atomic.Value

	// Set per scheme and inherited by its steps.
	schemeProtocol connection.Protocol
	schemeTimeout  time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithExecID sets the execution id used in broadcasts and result rows.
func WithExecID(id string) Option {
	return func(e *Executor) { e.execID = id }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(e *Executor) { e.broadcaster = b }
}

func WithResultStore(s ResultStore) Option {
	return func(e *Executor) { e.results = s }
}

func WithRecorder(r Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithFactory replaces the adapter factory of the executor's registry.
func WithFactory(f registry.Factory) Option {
	return func(e *Executor) { e.factory = f }
}

func WithLogger(l *logrus.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithSettleDelay sets the pause after each directly executed step.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Executor) { e.settleDelay = d }
}

// WithDefaultTimeout sets the step timeout used when neither the step nor its
// scheme defines one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// WithAttachmentsDir sets the root that upload payloads are resolved against.
func WithAttachmentsDir(dir string) Option {
	return func(e *Executor) { e.attachmentsDir = dir }
}

// WithResultWorkers bounds how many result rows are written concurrently.
func WithResultWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.resultWorkers = n
		}
	}
}

// New creates an executor for plan. The executor owns its own connection
// registry, so connections are never shared between runs.
func New(plan *testplan.Plan, opts ...Option) *Executor {
	e := &Executor{
		plan:           plan,
		broadcaster:    nopBroadcaster{},
		recorder:       nopRecorder{},
		settleDelay:    defaultSettleDelay,
		defaultTimeout: defaultStepTimeout,
		attachmentsDir: defaultAttachmentsDir,
		resultWorkers:  defaultResultWorkers,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.execID == "" {
		e.execID = plan.ID
	}

	var regOpts []registry.Option
	if e.factory != nil {
		regOpts = append(regOpts, registry.WithFactory(e.factory))
	}
	e.registry = registry.New(e.logger, regOpts...)
	e.status.Store(testplan.StatusUnknown)
	return e
}

// ExecID returns the execution id.
func (e *Executor) ExecID() string {
	return e.execID
}

// Status returns the plan status. It is safe to call while Run is active.
func (e *Executor) Status() testplan.Status {
	return e.status.Load().(testplan.Status)
}

// Run executes every scheme in order and reports whether all of them
// succeeded. Cancelling ctx stops the run between steps; the plan then ends
// as failed.
func (e *Executor) Run(ctx context.Context) bool {
	log := e.logger.WithFields(logrus.Fields{"exec_id": e.execID, "plan_id": e.plan.ID})
	log.Info("Starting test plan")
	e.recorder.PlanStarted()

	e.setPlanStatus(testplan.StatusProgress)

	ok := true
	for _, scheme := range e.plan.Schemes {
		if ctx.Err() != nil {
			ok = false
			break
		}
		if !e.runScheme(ctx, scheme) {
			ok = false
		}
	}

	if err := e.registry.DisconnectAll(); err != nil {
		log.WithError(err).Warn("Failed to close some connections")
	}
	protocols := make([]connection.Protocol, 0, len(e.plan.DeviceInfo.Status))
	for p := range e.plan.DeviceInfo.Status {
		protocols = append(protocols, p)
	}
	slices.Sort(protocols)
	for _, p := range protocols {
		e.plan.DeviceInfo.SetStatus(p, testplan.ConnectionDisconnected)
		e.publish(string(p), &e.plan.DeviceInfo)
	}

	if ctx.Err() != nil {
		log.WithError(ctx.Err()).Warn("Test plan stopped")
		ok = false
	}

	status := testplan.FromBool(ok)
	e.setPlanStatus(status)
	e.recorder.PlanFinished(status)
	log.WithField("status", status).Info("Test plan finished")
	return ok
}

func (e *Executor) setPlanStatus(s testplan.Status) {
	e.plan.Status = s
	e.status.Store(s)
	e.publish(KindPlan, e.plan)
}

func (e *Executor) runScheme(ctx context.Context, scheme *testplan.Scheme) bool {
	log := e.logger.WithFields(logrus.Fields{
		"exec_id":   e.execID,
		"scheme_id": scheme.ID,
		"protocol":  scheme.Default.Port,
	})

	scheme.Status = testplan.StatusProgress
	e.publish(KindScheme, scheme)

	if err := e.ensureConnection(ctx, scheme.Default.Port); err != nil {
		log.WithError(err).Error("Scheme connection failed")
		scheme.Status = testplan.StatusFailure
		e.publish(KindScheme, scheme)
		return false
	}

	e.schemeProtocol = scheme.Default.Port
	e.schemeTimeout = e.defaultTimeout
	if scheme.Default.Timeout > 0 {
		e.schemeTimeout = time.Duration(scheme.Default.Timeout) * time.Second
	}

	ok := true
	for _, uc := range scheme.UseCases {
		if ctx.Err() != nil {
			ok = false
			break
		}
		if !uc.IsSelected() {
			log.WithField("usecase_id", uc.ID).Debug("Skipping unselected use case")
			continue
		}

		uc.Status = testplan.StatusProgress
		e.publish(KindUseCase, uc)

		passed := e.runUseCase(ctx, scheme, uc)
		uc.Status = testplan.FromBool(passed)
		e.publish(KindUseCase, uc)
		e.recorder.UseCaseFinished(uc.Status)
		if !passed {
			ok = false
		}
	}

	scheme.Status = testplan.FromBool(ok)
	e.publish(KindScheme, scheme)
	return ok
}

// runUseCase walks the steps in order. Listen steps pull their related
// listeners and dependents into a group; every step runs at most once.
func (e *Executor) runUseCase(ctx context.Context, scheme *testplan.Scheme, uc *testplan.UseCase) bool {
	consumed := make(map[string]struct{}, len(uc.Steps))

	ok := true
	for i, step := range uc.Steps {
		if ctx.Err() != nil {
			ok = false
			break
		}
		if _, done := consumed[step.ID]; done {
			continue
		}

		if step.Type == testplan.StepTypeListen {
			g := e.buildGroup(uc.Steps[i:], consumed)
			for _, l := range g.listeners {
				consumed[l.step.ID] = struct{}{}
			}
			for _, d := range g.dependents {
				consumed[d.ID] = struct{}{}
			}
			if !e.runGroup(ctx, g) {
				ok = false
			}
			continue
		}

		consumed[step.ID] = struct{}{}
		if !e.runStep(ctx, step) {
			ok = false
		}
	}

	e.saveResults(ctx, scheme, uc)
	return ok
}

// ensureConnection opens the connection for p unless the registry already
// holds one, recording the outcome in the device status.
func (e *Executor) ensureConnection(ctx context.Context, p connection.Protocol) error {
	if e.registry.Exists(p) {
		return nil
	}

	cfg, ok := e.plan.DeviceInfo.Config.For(p)
	if !ok {
		return fmt.Errorf("%w for %q", ErrMissingParameters, p)
	}

	policy := apperrors.DefaultRetryPolicy()
	policy.MaxAttempts = e.plan.DeviceInfo.Config.Retry + 1
	policy.Retryable = func(err error) bool { return errors.Is(err, connection.ErrConnectFailure) }

	err := apperrors.Retry(ctx, policy, e.logger, "connect "+string(p), func() error {
		return e.registry.AddConnection(ctx, p, cfg)
	})
	if err != nil {
		e.plan.DeviceInfo.SetStatus(p, testplan.ConnectionDisconnected)
	} else {
		e.plan.DeviceInfo.SetStatus(p, testplan.ConnectionConnected)
	}
	e.publish(string(p), &e.plan.DeviceInfo)
	return err
}

// saveResults persists one row per step of uc, including steps that never
// ran. Rows are written even when the run was cancelled.
func (e *Executor) saveResults(ctx context.Context, scheme *testplan.Scheme, uc *testplan.UseCase) {
	if e.results == nil {
		return
	}

	now := e.now()
	bg := context.WithoutCancel(ctx)
	errs := make([]error, len(uc.Steps))

	var g errgroup.Group
	g.SetLimit(e.resultWorkers)

	for i, step := range uc.Steps {
		rec := &testplan.ResultRecord{
			ID:         uuid.New().String(),
			ExecID:     e.execID,
			PlanID:     e.plan.ID,
			SchemeID:   scheme.ID,
			UseCaseID:  uc.ID,
			StepID:     step.ID,
			Result:     testplan.EmptyResult(now),
			ExecutedAt: now,
		}
		if step.TestResult != nil {
			rec.Result = *step.TestResult
		}
		i := i
		// A failed row must not stop the others.
		g.Go(func() error {
			if err := e.results.Create(bg, rec); err != nil {
				errs[i] = fmt.Errorf("step %s: %w", rec.StepID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"exec_id":    e.execID,
			"usecase_id": uc.ID,
		}).Error("Failed to save step results")
	}
}

// publish broadcasts a snapshot of v. The snapshot is taken here, on the
// executing goroutine, so later mutations never reach observers.
func (e *Executor) publish(kind string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.WithError(err).WithField("kind", kind).Error("Failed to encode progress update")
		return
	}
	e.broadcaster.Broadcast(EventStepResult, Event{
		PlanID: e.execID,
		Data:   Update{Type: kind, Data: data},
	})
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
