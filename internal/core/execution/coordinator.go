package execution

import (
	"context"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/verify"
	"github.com/sirupsen/logrus"
)

// listener tracks one armed listen step. Only the executing goroutine reads
// or writes its fields; adapter callbacks talk to it through inbox.
type listener struct {
	step     *testplan.Step
	protocol connection.Protocol
	timeout  time.Duration
	inbox    chan []byte
	armed    bool
	data     []byte
	done     bool
	failed   bool
}

// group is a set of listeners resolved together with the steps that trigger
// them.
type group struct {
	listeners  []*listener
	dependents []*testplan.Step
}

// buildGroup collects the listeners and dependents related to steps[0], a
// listen step. Later listeners join when one of their dependencies is
// already tracked, and their dependencies are tracked from then on. The scan
// runs forward once. Steps in consumed are never pulled in.
func (e *Executor) buildGroup(steps []*testplan.Step, consumed map[string]struct{}) *group {
	first := steps[0]
	tracked := make(map[string]struct{}, len(first.Dependencies))
	for _, dep := range first.Dependencies {
		tracked[dep] = struct{}{}
	}

	g := &group{listeners: []*listener{e.newListener(first)}}
	inGroup := map[string]struct{}{first.ID: {}}

	for _, s := range steps[1:] {
		if s.Type != testplan.StepTypeListen {
			continue
		}
		if _, done := consumed[s.ID]; done {
			continue
		}
		if !s.DependsOn(tracked) {
			continue
		}
		g.listeners = append(g.listeners, e.newListener(s))
		inGroup[s.ID] = struct{}{}
		for _, dep := range s.Dependencies {
			tracked[dep] = struct{}{}
		}
	}

	for _, s := range steps {
		if s.StepID == "" {
			continue
		}
		if _, ok := inGroup[s.ID]; ok {
			continue
		}
		if _, done := consumed[s.ID]; done {
			continue
		}
		if _, ok := tracked[s.StepID]; ok {
			g.dependents = append(g.dependents, s)
		}
	}
	return g
}

func (e *Executor) newListener(step *testplan.Step) *listener {
	return &listener{
		step:     step,
		protocol: step.EffectiveProtocol(e.schemeProtocol),
		timeout:  step.EffectiveTimeout(e.schemeTimeout),
		inbox:    make(chan []byte, 1),
	}
}

// maxTimeout is the longest timeout among the group's listeners.
func (g *group) maxTimeout() time.Duration {
	var d time.Duration
	for _, l := range g.listeners {
		d = max(d, l.timeout)
	}
	return d
}

func (g *group) complete() bool {
	for _, l := range g.listeners {
		if !l.done {
			return false
		}
	}
	return true
}

// runGroup arms every listener, runs the dependents, waits for the listeners
// and verifies what they received. Registrations are always removed.
func (e *Executor) runGroup(ctx context.Context, g *group) bool {
	log := e.logger.WithField("exec_id", e.execID)
	signal := make(chan struct{}, 1)

	defer func() {
		for _, l := range g.listeners {
			e.disarm(l)
		}
	}()

	ok := true
	for _, l := range g.listeners {
		if err := e.arm(ctx, l, signal); err != nil {
			log.WithError(err).WithField("step_id", l.step.ID).Error("Failed to set up listener")
			e.failListener(l, noDataMessage)
			ok = false
		}
	}

	for _, step := range g.dependents {
		if ctx.Err() != nil {
			ok = false
			break
		}
		if !e.runStep(ctx, step) {
			ok = false
		}
	}

	timedOut := e.await(ctx, g, signal)
	if timedOut {
		log.Warn("Timeout reached without all listeners completing")
	}

	for _, l := range g.listeners {
		if l.failed {
			continue
		}
		if !e.resolveListener(l, timedOut) {
			ok = false
		}
	}
	return ok
}

// arm registers l with its connection. The callback only forwards the first
// message; it never touches the plan.
func (e *Executor) arm(ctx context.Context, l *listener, signal chan<- struct{}) error {
	l.step.Status = testplan.StatusProgress
	start := e.now()
	l.step.StartTime = &start
	e.publish(KindStep, l.step)

	if err := e.ensureConnection(ctx, l.protocol); err != nil {
		return err
	}

	inbox := l.inbox
	cb := func(id string, data []byte) {
		select {
		case inbox <- data:
		default:
		}
		select {
		case signal <- struct{}{}:
		default:
		}
	}

	if _, err := e.registry.Listen(ctx, l.protocol, l.step.ID, l.step.Result.Result, l.timeout, cb); err != nil {
		return err
	}
	l.armed = true
	return nil
}

func (e *Executor) disarm(l *listener) {
	if !l.armed {
		return
	}
	l.armed = false
	if err := e.registry.Unlisten(l.protocol, l.step.ID); err != nil {
		e.logger.WithError(err).WithField("step_id", l.step.ID).Debug("Failed to remove listener")
	}
}

// await blocks until every listener has data, the group timeout elapses or
// ctx is done. It reports whether the timeout fired.
func (e *Executor) await(ctx context.Context, g *group, signal <-chan struct{}) bool {
	timer := time.NewTimer(g.maxTimeout())
	defer timer.Stop()

	for {
		e.collect(g)
		if g.complete() {
			return false
		}
		select {
		case <-signal:
		case <-timer.C:
			e.collect(g)
			return !g.complete()
		case <-ctx.Done():
			return false
		}
	}
}

// collect moves delivered messages from the inboxes into the listeners.
func (e *Executor) collect(g *group) {
	for _, l := range g.listeners {
		if l.done {
			continue
		}
		select {
		case data := <-l.inbox:
			l.data = data
			l.done = true
			e.disarm(l)
		default:
		}
	}
}

// resolveListener verifies what l received and records the step result.
func (e *Executor) resolveListener(l *listener, timedOut bool) bool {
	res := testplan.StepResult{
		ReceiveData:  string(l.data),
		ExpectedData: l.step.Result.Result,
		Time:         e.now().UTC().Format(time.RFC3339Nano),
		Port:         string(l.protocol),
		Type:         string(testplan.StepTypeListen),
		Status:       testplan.StatusFailure,
	}
	if l.protocol == connection.ProtocolMQTT {
		res.ExpectedData = verify.Normalize(res.ExpectedData)
	}

	if l.data == nil {
		cause := ErrNoDataReceived
		if timedOut {
			cause = ErrListenTimeout
		}
		e.logger.WithError(cause).WithField("step_id", l.step.ID).Warn("Listener received no data")
		res.ErrMsg = noDataMessage
	} else {
		outcome := verify.Response(l.protocol, l.data, l.step.Result.Result)
		res.Status = testplan.FromBool(outcome.Passed)
		res.ErrMsg = outcome.Message
	}

	e.finishListener(l, res)
	return res.Status == testplan.StatusSuccess
}

// failListener marks l failed without verifying anything.
func (e *Executor) failListener(l *listener, msg string) {
	res := testplan.StepResult{
		ExpectedData: l.step.Result.Result,
		ErrMsg:       msg,
		Time:         e.now().UTC().Format(time.RFC3339Nano),
		Port:         string(l.protocol),
		Type:         string(testplan.StepTypeListen),
		Status:       testplan.StatusFailure,
	}
	if l.protocol == connection.ProtocolMQTT {
		res.ExpectedData = verify.Normalize(res.ExpectedData)
	}
	l.done = true
	l.failed = true
	e.finishListener(l, res)
}

func (e *Executor) finishListener(l *listener, res testplan.StepResult) {
	end := e.now()
	l.step.TestResult = &res
	l.step.Status = res.Status
	l.step.EndTime = &end
	e.publish(KindStep, l.step)

	var elapsed time.Duration
	if l.step.StartTime != nil {
		elapsed = end.Sub(*l.step.StartTime)
	}
	e.recorder.StepFinished(l.protocol, res.Type, res.Status, elapsed)

	e.logger.WithFields(logrus.Fields{
		"exec_id": e.execID,
		"step_id": l.step.ID,
		"status":  res.Status,
	}).Debug("Listener resolved")
}
