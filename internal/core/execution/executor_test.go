package execution

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/registry"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn implements every capability. respond answers SendAndReceive and
// Execute.
type fakeConn struct {
	mu        sync.Mutex
	respond   func(ctx context.Context, f *fakeConn, payload string) ([]byte, error)
	calls     []string
	callbacks map[string]connection.ListenCallback
	listenErr error
	transfers []string
	closed    bool
}

func newFakeConn(respond func(ctx context.Context, f *fakeConn, payload string) ([]byte, error)) *fakeConn {
	return &fakeConn{respond: respond, callbacks: make(map[string]connection.ListenCallback)}
}

func reply(s string) func(context.Context, *fakeConn, string) ([]byte, error) {
	return func(context.Context, *fakeConn, string) ([]byte, error) { return []byte(s), nil }
}

func (f *fakeConn) Connect(ctx context.Context) error { return nil }

func (f *fakeConn) Disconnect() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Send(ctx context.Context, data []byte) error { return nil }

func (f *fakeConn) Receive(ctx context.Context) ([]byte, error) { return nil, nil }

func (f *fakeConn) SendAndReceive(ctx context.Context, payload string, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, payload)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return nil, connection.ErrTimeout
	}
	return respond(ctx, f, payload)
}

func (f *fakeConn) Execute(ctx context.Context, command string) ([]byte, error) {
	return f.SendAndReceive(ctx, command, 0)
}

func (f *fakeConn) Upload(ctx context.Context, local, remote string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, "up "+local+" "+remote)
	return nil
}

func (f *fakeConn) Download(ctx context.Context, remote, local string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, "down "+remote+" "+local)
	return nil
}

func (f *fakeConn) Listen(ctx context.Context, id, expected string, timeout time.Duration, cb connection.ListenCallback) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	f.callbacks[id] = cb
	return []byte(`{"status":"listening"}`), nil
}

func (f *fakeConn) Unlisten(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.callbacks, id)
	return nil
}

func (f *fakeConn) deliver(id string, data string) {
	f.mu.Lock()
	cb := f.callbacks[id]
	f.mu.Unlock()
	if cb != nil {
		cb(id, []byte(data))
	}
}

func (f *fakeConn) listening() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

func (f *fakeConn) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fakeFactory(conns map[connection.Protocol]*fakeConn) registry.Factory {
	return func(p connection.Protocol, cfg connection.Config) (connection.Connection, error) {
		c, ok := conns[p]
		if !ok {
			return nil, connection.ConnectError(p, errors.New("unreachable"))
		}
		return c, nil
	}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBroadcaster) Broadcast(event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, payload.(Event))
}

// statuses lists the status of every broadcast update of kind.
func (b *recordingBroadcaster) statuses(kind string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events {
		if ev.Data.Type != kind {
			continue
		}
		var v struct {
			Status string `json:"status"`
		}
		json.Unmarshal(ev.Data.Data, &v)
		out = append(out, v.Status)
	}
	return out
}

type memStore struct {
	mu   sync.Mutex
	rows []*testplan.ResultRecord
	// failStep rejects the row of one step.
	failStep string
}

// Create behaves like a database driver: it gives up on a done context.
func (s *memStore) Create(ctx context.Context, rec *testplan.ResultRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.StepID == s.failStep {
		return errors.New("constraint failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rec)
	return nil
}

func (s *memStore) byStep() map[string]*testplan.ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*testplan.ResultRecord, len(s.rows))
	for _, r := range s.rows {
		out[r.StepID] = r
	}
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func device() testplan.DeviceInfo {
	ssh := &connection.SSHConfig{IP: "10.0.0.2", Port: 22, Username: "root"}
	return testplan.DeviceInfo{
		ID:   "dev-1",
		Name: "bench",
		Config: testplan.DeviceConfig{
			TCP:  &connection.TCPConfig{IP: "10.0.0.2", Port: 5000},
			MQTT: &connection.MQTTConfig{IP: "10.0.0.3", Port: 1883},
			SSH:  ssh,
			SFTP: ssh,
		},
	}
}

func scheme(port connection.Protocol, useCases ...*testplan.UseCase) *testplan.Scheme {
	return &testplan.Scheme{Name: string(port), Default: testplan.Defaults{Port: port}, UseCases: useCases}
}

func useCase(steps ...*testplan.Step) *testplan.UseCase {
	return &testplan.UseCase{Name: "uc", Steps: steps}
}

func plan(schemes ...*testplan.Scheme) *testplan.Plan {
	p := &testplan.Plan{ID: "plan-1", Name: "bench plan", DeviceInfo: device(), Schemes: schemes}
	p.AssignIDs()
	p.Reset()
	return p
}

type harness struct {
	broadcaster *recordingBroadcaster
	store       *memStore
}

func newExecutor(p *testplan.Plan, conns map[connection.Protocol]*fakeConn, opts ...Option) (*Executor, *harness) {
	h := &harness{broadcaster: &recordingBroadcaster{}, store: &memStore{}}
	base := []Option{
		WithExecID("exec-1"),
		WithFactory(fakeFactory(conns)),
		WithBroadcaster(h.broadcaster),
		WithResultStore(h.store),
		WithLogger(quietLogger()),
		WithSettleDelay(0),
	}
	return New(p, append(base, opts...)...), h
}

func TestRunPingPong(t *testing.T) {
	p := plan(scheme(connection.ProtocolTCP, useCase(&testplan.Step{
		Name:    "ping",
		Content: testplan.Content{Content: "PING"},
		Result:  testplan.Expectation{Result: "PONG"},
	})))
	tcp := newFakeConn(reply("PONG"))
	e, h := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolTCP: tcp})

	assert.True(t, e.Run(context.Background()))

	step := p.Schemes[0].UseCases[0].Steps[0]
	assert.Equal(t, testplan.StatusSuccess, step.Status)
	assert.Equal(t, testplan.StatusSuccess, p.Schemes[0].UseCases[0].Status)
	assert.Equal(t, testplan.StatusSuccess, p.Schemes[0].Status)
	assert.Equal(t, testplan.StatusSuccess, p.Status)
	assert.Equal(t, testplan.StatusSuccess, e.Status())

	require.NotNil(t, step.TestResult)
	assert.Equal(t, "PING", step.TestResult.SendData)
	assert.Equal(t, "PONG", step.TestResult.ReceiveData)
	assert.Equal(t, "tcp", step.TestResult.Port)
	assert.Empty(t, step.TestResult.ErrMsg)

	rows := h.store.byStep()
	require.Len(t, rows, 1)
	assert.Equal(t, "exec-1", rows["0-0-0"].ExecID)
	assert.Equal(t, "plan-1", rows["0-0-0"].PlanID)
	assert.Equal(t, testplan.StatusSuccess, rows["0-0-0"].Result.Status)

	assert.Equal(t, []string{"progress", "success"}, h.broadcaster.statuses(KindPlan))
	assert.Equal(t, []string{"progress", "success"}, h.broadcaster.statuses(KindStep))
	assert.True(t, tcp.closed)
	assert.Equal(t, testplan.ConnectionDisconnected, p.DeviceInfo.Status[connection.ProtocolTCP])
}

func TestRunValueMismatch(t *testing.T) {
	p := plan(scheme(connection.ProtocolTCP, useCase(&testplan.Step{
		Content: testplan.Content{Content: "PING"},
		Result:  testplan.Expectation{Result: "PONG"},
	})))
	e, _ := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolTCP: newFakeConn(reply("PANG"))})

	assert.False(t, e.Run(context.Background()))

	step := p.Schemes[0].UseCases[0].Steps[0]
	assert.Equal(t, testplan.StatusFailure, step.Status)
	assert.True(t, strings.HasPrefix(step.TestResult.ErrMsg, "Value mismatch"), step.TestResult.ErrMsg)
	assert.Equal(t, testplan.StatusFailure, p.Schemes[0].UseCases[0].Status)
	assert.Equal(t, testplan.StatusFailure, p.Schemes[0].Status)
	assert.Equal(t, testplan.StatusFailure, p.Status)
}

func TestRunStepErrorIsRecorded(t *testing.T) {
	p := plan(scheme(connection.ProtocolTCP,
		useCase(
			&testplan.Step{Content: testplan.Content{Content: "A"}, Result: testplan.Expectation{Result: "B"}},
			&testplan.Step{Content: testplan.Content{Content: "C"}, Result: testplan.Expectation{Result: "D"}},
		)))
	e, _ := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolTCP: newFakeConn(nil)})

	assert.False(t, e.Run(context.Background()))

	steps := p.Schemes[0].UseCases[0].Steps
	for _, s := range steps {
		assert.Equal(t, testplan.StatusFailure, s.Status)
		assert.Contains(t, s.TestResult.ErrMsg, connection.ErrTimeout.Error())
	}
}

func TestListenerResolvesBeforeTimeout(t *testing.T) {
	listen := &testplan.Step{
		Type:         testplan.StepTypeListen,
		Timeout:      2,
		Dependencies: []string{"d1"},
		Result:       testplan.Expectation{Result: `{"topic":"t/1/2","payload":{"token":5}}`},
	}
	trigger := &testplan.Step{
		StepID:  "d1",
		Content: testplan.Content{Content: `{"topic":"t/1/2","payload":{"token":5}}`},
		Result:  testplan.Expectation{Result: `{"topic":"#","payload":{"token":5}}`},
	}
	p := plan(scheme(connection.ProtocolMQTT, useCase(listen, trigger)))

	mqtt := newFakeConn(func(ctx context.Context, f *fakeConn, payload string) ([]byte, error) {
		msg := `{"topic":"t/2/1","payload":{"token":5}}`
		f.deliver(listen.ID, msg)
		return []byte(msg), nil
	})
	e, h := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolMQTT: mqtt})

	start := time.Now()
	assert.True(t, e.Run(context.Background()))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, testplan.StatusSuccess, listen.Status)
	assert.Equal(t, "listen", listen.TestResult.Type)
	assert.JSONEq(t, `{"topic":"t/2/1","payload":{"token":5}}`, listen.TestResult.ReceiveData)
	assert.Equal(t, testplan.StatusSuccess, trigger.Status)
	assert.Equal(t, 1, mqtt.callCount())
	assert.Zero(t, mqtt.listening(), "listener is removed once resolved")
	assert.Len(t, h.store.byStep(), 2)
}

func TestListenerTimesOut(t *testing.T) {
	listen := &testplan.Step{
		Type:         testplan.StepTypeListen,
		Timeout:      1,
		Dependencies: []string{"d1"},
		Result:       testplan.Expectation{Result: `{"topic":"t/1/2","payload":{"token":5}}`},
	}
	trigger := &testplan.Step{
		StepID:  "d1",
		Content: testplan.Content{Content: "go"},
		Result:  testplan.Expectation{Result: `{"topic":"#","payload":"#"}`},
	}
	p := plan(scheme(connection.ProtocolMQTT, useCase(listen, trigger)))
	mqtt := newFakeConn(reply(`{"topic":"r","payload":{}}`))
	e, _ := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolMQTT: mqtt})

	start := time.Now()
	assert.False(t, e.Run(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, testplan.StatusFailure, listen.Status)
	assert.Equal(t, "No data received", listen.TestResult.ErrMsg)
	assert.Equal(t, testplan.StatusSuccess, trigger.Status)
	assert.Equal(t, testplan.StatusFailure, p.Status)
	assert.Zero(t, mqtt.listening())
}

func TestListenerSetupFailureStillRunsDependents(t *testing.T) {
	l1 := &testplan.Step{Type: testplan.StepTypeListen, Dependencies: []string{"d"}, Result: testplan.Expectation{Result: `{"topic":"a"}`}}
	l2 := &testplan.Step{Type: testplan.StepTypeListen, Dependencies: []string{"d"}, Result: testplan.Expectation{Result: `{"topic":"b"}`}}
	dep := &testplan.Step{
		StepID:  "d",
		Content: testplan.Content{Content: `{"cmd":"ping"}`},
		Result:  testplan.Expectation{Result: `{"payload":{"ok":true}}`},
	}
	p := plan(scheme(connection.ProtocolMQTT, useCase(l1, l2, dep)))

	mqtt := newFakeConn(reply(`{"topic":"dev/reply","payload":{"ok":true}}`))
	mqtt.listenErr = errors.New("subscribe refused")
	e, h := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolMQTT: mqtt})

	start := time.Now()
	assert.False(t, e.Run(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second, "no wait when nothing is armed")

	assert.Equal(t, testplan.StatusFailure, l1.Status)
	assert.Equal(t, testplan.StatusFailure, l2.Status)
	assert.Equal(t, "No data received", l1.TestResult.ErrMsg)
	assert.Equal(t, "No data received", l2.TestResult.ErrMsg)

	assert.Equal(t, 1, mqtt.callCount())
	assert.Equal(t, testplan.StatusSuccess, dep.Status)
	require.NotNil(t, dep.TestResult)
	assert.Empty(t, dep.TestResult.ErrMsg)
	assert.Contains(t, h.broadcaster.statuses(KindStep), "success")

	rows := h.store.byStep()
	require.Len(t, rows, 3)
	assert.Equal(t, testplan.StatusSuccess, rows[dep.ID].Result.Status)
}

func TestFailedResultRowDoesNotDropOthers(t *testing.T) {
	steps := make([]*testplan.Step, 10)
	for i := range steps {
		steps[i] = &testplan.Step{Content: testplan.Content{Content: "PING"}, Result: testplan.Expectation{Result: "PONG"}}
	}
	p := plan(scheme(connection.ProtocolTCP, useCase(steps...)))
	e, h := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolTCP: newFakeConn(reply("PONG"))},
		WithResultWorkers(2))
	h.store.failStep = "0-0-0"

	assert.True(t, e.Run(context.Background()))

	rows := h.store.byStep()
	assert.Len(t, rows, 9)
	assert.NotContains(t, rows, "0-0-0")
	for _, s := range steps[1:] {
		require.Contains(t, rows, s.ID)
		assert.Equal(t, testplan.StatusSuccess, rows[s.ID].Result.Status)
	}
}

func TestSchemeConnectionFailureIsIsolated(t *testing.T) {
	p := plan(
		scheme(connection.ProtocolUDP, useCase(&testplan.Step{Content: testplan.Content{Content: "x"}})),
		scheme(connection.ProtocolTCP, useCase(&testplan.Step{
			Content: testplan.Content{Content: "PING"},
			Result:  testplan.Expectation{Result: "PONG"},
		})),
	)
	e, h := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolTCP: newFakeConn(reply("PONG"))})

	assert.False(t, e.Run(context.Background()))
	assert.Equal(t, testplan.StatusFailure, p.Schemes[0].Status)
	assert.Equal(t, testplan.StatusUnknown, p.Schemes[0].UseCases[0].Status)
	assert.Equal(t, testplan.StatusSuccess, p.Schemes[1].Status)
	assert.Equal(t, testplan.StatusFailure, p.Status)
	assert.Equal(t, []string{"progress", "failure", "progress", "success"}, h.broadcaster.statuses(KindScheme))
}

func TestSchemeConnectFailureMarksDevice(t *testing.T) {
	p := plan(scheme(connection.ProtocolTCP, useCase(&testplan.Step{Content: testplan.Content{Content: "x"}})))
	e, _ := newExecutor(p, map[connection.Protocol]*fakeConn{})

	assert.False(t, e.Run(context.Background()))
	assert.Equal(t, testplan.StatusFailure, p.Schemes[0].Status)
	assert.Equal(t, testplan.ConnectionDisconnected, p.DeviceInfo.Status[connection.ProtocolTCP])
}

func TestUploadDefaultsToTmp(t *testing.T) {
	dir := t.TempDir()
	upload := &testplan.Step{Type: testplan.StepTypeUpload, Content: testplan.Content{Content: "firmware.bin"}}
	placed := &testplan.Step{Type: testplan.StepTypeUpload, Content: testplan.Content{Content: "cfg.json"}, Destination: "/etc/app/cfg.json"}
	download := &testplan.Step{
		Type:    testplan.StepTypeDownload,
		Content: testplan.Content{Content: "/var/log/app.log"},
		Result:  testplan.Expectation{Result: "/srv/logs/app.log"},
	}
	p := plan(scheme(connection.ProtocolSFTP, useCase(upload, placed, download)))
	sftp := newFakeConn(nil)
	e, _ := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolSFTP: sftp}, WithAttachmentsDir(dir))

	assert.True(t, e.Run(context.Background()))

	local := filepath.Join(dir, "plan-1", "attachments", "firmware.bin")
	assert.Equal(t, []string{
		"up " + local + " /tmp/firmware.bin",
		"up " + filepath.Join(dir, "plan-1", "attachments", "cfg.json") + " /etc/app/cfg.json",
		"down /var/log/app.log /srv/logs/app.log",
	}, sftp.transfers)
	assert.Equal(t, "firmware.bin /tmp/firmware.bin", upload.TestResult.SendData)
}

func TestShellStepMatchesSubstring(t *testing.T) {
	step := &testplan.Step{
		Port:    connection.ProtocolSSH,
		Content: testplan.Content{Content: "cat /etc/os-release"},
		Result:  testplan.Expectation{Result: "VERSION_ID=12"},
	}
	p := plan(scheme(connection.ProtocolTCP, useCase(step)))
	ssh := newFakeConn(reply("NAME=Debian\nVERSION_ID=12\n"))
	e, _ := newExecutor(p, map[connection.Protocol]*fakeConn{
		connection.ProtocolTCP: newFakeConn(nil),
		connection.ProtocolSSH: ssh,
	})

	assert.True(t, e.Run(context.Background()))
	assert.Equal(t, "ssh", step.TestResult.Port)
	assert.Equal(t, []string{"cat /etc/os-release"}, ssh.calls)
	assert.Equal(t, testplan.ConnectionDisconnected, p.DeviceInfo.Status[connection.ProtocolSSH])
}

func TestWaitStep(t *testing.T) {
	step := &testplan.Step{Type: testplan.StepTypeWait, Timeout: 1}
	p := plan(scheme(connection.ProtocolTCP, useCase(step)))
	tcp := newFakeConn(nil)
	e, _ := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolTCP: tcp})

	start := time.Now()
	assert.True(t, e.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, testplan.StatusSuccess, step.Status)
	assert.Zero(t, tcp.callCount())
}

func TestUnselectedUseCaseIsSkipped(t *testing.T) {
	off := false
	skipped := useCase(&testplan.Step{Content: testplan.Content{Content: "x"}})
	skipped.Selected = &off
	ran := useCase(&testplan.Step{Content: testplan.Content{Content: "PING"}, Result: testplan.Expectation{Result: "PONG"}})

	p := plan(scheme(connection.ProtocolTCP, skipped, ran))
	tcp := newFakeConn(reply("PONG"))
	e, h := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolTCP: tcp})

	assert.True(t, e.Run(context.Background()))
	assert.Equal(t, testplan.StatusUnknown, skipped.Status)
	assert.Equal(t, testplan.StatusSuccess, ran.Status)
	assert.Equal(t, []string{"PING"}, tcp.calls)
	assert.Len(t, h.store.byStep(), 1)
}

func TestCancelStopsBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &testplan.Step{Content: testplan.Content{Content: "1"}, Result: testplan.Expectation{Result: "ok"}}
	second := &testplan.Step{Content: testplan.Content{Content: "2"}, Result: testplan.Expectation{Result: "ok"}}
	later := useCase(&testplan.Step{Content: testplan.Content{Content: "3"}})
	p := plan(scheme(connection.ProtocolTCP, useCase(first, second), later))

	tcp := newFakeConn(func(context.Context, *fakeConn, string) ([]byte, error) {
		cancel()
		return []byte("ok"), nil
	})
	e, h := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolTCP: tcp})

	assert.False(t, e.Run(ctx))
	assert.Equal(t, testplan.StatusSuccess, first.Status)
	assert.Equal(t, testplan.StatusUnknown, second.Status)
	assert.Equal(t, testplan.StatusUnknown, later.Status)
	assert.Equal(t, testplan.StatusFailure, p.Status)
	assert.Equal(t, testplan.StatusFailure, e.Status())
	assert.Equal(t, []string{"1"}, tcp.calls)

	rows := h.store.byStep()
	require.Len(t, rows, 2, "rows of the interrupted use case are kept")
	assert.Equal(t, testplan.StatusSuccess, rows[first.ID].Result.Status)
	assert.Empty(t, rows[second.ID].Result.SendData)
}

func TestCancelUnlistensActiveListeners(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listen := &testplan.Step{
		Type:         testplan.StepTypeListen,
		Timeout:      30,
		Dependencies: []string{"d1"},
		Result:       testplan.Expectation{Result: `{"topic":"t","payload":{}}`},
	}
	trigger := &testplan.Step{StepID: "d1", Content: testplan.Content{Content: "go"}, Result: testplan.Expectation{Result: `{"payload":"#"}`}}
	p := plan(scheme(connection.ProtocolMQTT, useCase(listen, trigger)))

	mqtt := newFakeConn(func(context.Context, *fakeConn, string) ([]byte, error) {
		cancel()
		return []byte(`"ok"`), nil
	})
	e, _ := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolMQTT: mqtt})

	start := time.Now()
	assert.False(t, e.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Zero(t, mqtt.listening())
	assert.Equal(t, testplan.StatusFailure, listen.Status)
}

func TestForwardGroupingRunsEveryStepOnce(t *testing.T) {
	expect := testplan.Expectation{Result: `{"topic":"t","payload":{"n":1}}`}
	l1 := &testplan.Step{Type: testplan.StepTypeListen, Timeout: 1, Dependencies: []string{"d1"}, Result: expect}
	// l2 is scanned before l3 brings d2 into the first group, so it forms
	// its own group later and finds d2 already executed.
	l2 := &testplan.Step{Type: testplan.StepTypeListen, Timeout: 1, Dependencies: []string{"d2"}, Result: expect}
	l3 := &testplan.Step{Type: testplan.StepTypeListen, Timeout: 1, Dependencies: []string{"d1", "d2"}, Result: expect}
	d1 := &testplan.Step{StepID: "d1", Content: testplan.Content{Content: "one"}, Result: testplan.Expectation{Result: `{"topic":"#","payload":"#"}`}}
	d2 := &testplan.Step{StepID: "d2", Content: testplan.Content{Content: "two"}, Result: testplan.Expectation{Result: `{"topic":"#","payload":"#"}`}}
	p := plan(scheme(connection.ProtocolMQTT, useCase(l1, l2, l3, d1, d2)))

	mqtt := newFakeConn(func(ctx context.Context, f *fakeConn, payload string) ([]byte, error) {
		msg := `{"topic":"t","payload":{"n":1}}`
		for _, l := range []*testplan.Step{l1, l2, l3} {
			f.deliver(l.ID, msg)
		}
		return []byte(msg), nil
	})
	e, h := newExecutor(p, map[connection.Protocol]*fakeConn{connection.ProtocolMQTT: mqtt})

	assert.False(t, e.Run(context.Background()))
	assert.Equal(t, []string{"one", "two"}, mqtt.calls)
	assert.Equal(t, testplan.StatusSuccess, l1.Status)
	assert.Equal(t, testplan.StatusSuccess, l3.Status)
	assert.Equal(t, testplan.StatusSuccess, d1.Status)
	assert.Equal(t, testplan.StatusSuccess, d2.Status)
	assert.Equal(t, testplan.StatusFailure, l2.Status)
	assert.Equal(t, "No data received", l2.TestResult.ErrMsg)
	assert.Len(t, h.store.byStep(), 5)
}

func TestBuildGroup(t *testing.T) {
	listen := func(deps ...string) *testplan.Step {
		return &testplan.Step{Type: testplan.StepTypeListen, Dependencies: deps}
	}
	l1, l2, l3, l4 := listen("a"), listen("b"), listen("a", "b"), listen("c")
	da := &testplan.Step{StepID: "a"}
	db := &testplan.Step{StepID: "b"}
	dc := &testplan.Step{StepID: "c"}
	plain := &testplan.Step{}
	p := plan(scheme(connection.ProtocolMQTT, useCase(l1, da, l2, plain, l3, db, l4, dc)))
	steps := p.Schemes[0].UseCases[0].Steps

	e, _ := newExecutor(p, nil)
	e.schemeProtocol = connection.ProtocolMQTT
	e.schemeTimeout = 3 * time.Second

	g := e.buildGroup(steps, map[string]struct{}{})
	var ids []string
	for _, l := range g.listeners {
		ids = append(ids, l.step.ID)
		assert.Equal(t, connection.ProtocolMQTT, l.protocol)
		assert.Equal(t, 3*time.Second, l.timeout)
	}
	assert.Equal(t, []string{l1.ID, l3.ID}, ids)
	assert.Equal(t, []*testplan.Step{da, db}, g.dependents)

	g = e.buildGroup(steps[2:], map[string]struct{}{l3.ID: {}, db.ID: {}})
	require.Len(t, g.listeners, 1)
	assert.Equal(t, l2.ID, g.listeners[0].step.ID)
	assert.Empty(t, g.dependents)
}

func TestGroupMaxTimeout(t *testing.T) {
	g := &group{listeners: []*listener{{timeout: time.Second}, {timeout: 5 * time.Second}, {timeout: 2 * time.Second}}}
	assert.Equal(t, 5*time.Second, g.maxTimeout())
}

func TestConnectRetriesPerDeviceConfig(t *testing.T) {
	tests := []struct {
		name     string
		retry    int
		failures int
		want     bool
		attempts int
	}{
		{name: "no retry", retry: 0, failures: 1, want: false, attempts: 1},
		{name: "recovers", retry: 2, failures: 2, want: true, attempts: 3},
		{name: "exhausted", retry: 1, failures: 5, want: false, attempts: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := plan(scheme(connection.ProtocolTCP, useCase(&testplan.Step{
				Content: testplan.Content{Content: "PING"},
				Result:  testplan.Expectation{Result: "PONG"},
			})))
			p.DeviceInfo.Config.Retry = tt.retry

			tcp := newFakeConn(reply("PONG"))
			attempts := 0
			flaky := func(proto connection.Protocol, cfg connection.Config) (connection.Connection, error) {
				attempts++
				if attempts <= tt.failures {
					return nil, connection.ConnectError(proto, errors.New("refused"))
				}
				return tcp, nil
			}
			e, _ := newExecutor(p, nil, WithFactory(flaky))

			assert.Equal(t, tt.want, e.Run(context.Background()))
			assert.Equal(t, tt.attempts, attempts)
		})
	}
}
