package execution

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/verify"
	"github.com/sirupsen/logrus"
)

// defaultUploadDir receives uploads whose step has no destination.
const defaultUploadDir = "/tmp"

// runStep executes a step directly, records its result and applies the
// settle delay.
func (e *Executor) runStep(ctx context.Context, step *testplan.Step) bool {
	start := e.now()
	step.Status = testplan.StatusProgress
	step.StartTime = &start
	e.publish(KindStep, step)

	p := step.EffectiveProtocol(e.schemeProtocol)
	res := e.execute(ctx, step, p)

	end := e.now()
	step.TestResult = &res
	step.Status = res.Status
	step.EndTime = &end
	e.publish(KindStep, step)
	e.recorder.StepFinished(p, res.Type, res.Status, end.Sub(start))

	if res.Status == testplan.StatusFailure {
		e.logger.WithFields(logrus.Fields{
			"exec_id":  e.execID,
			"step_id":  step.ID,
			"protocol": p,
			"error":    res.ErrMsg,
		}).Warn("Step failed")
	}

	sleep(ctx, e.settleDelay)
	return res.Status == testplan.StatusSuccess
}

// execute performs the step's command. Failures are captured in the result,
// never returned.
func (e *Executor) execute(ctx context.Context, step *testplan.Step, p connection.Protocol) testplan.StepResult {
	timeout := step.EffectiveTimeout(e.schemeTimeout)
	payload := step.Content.Content
	expected := step.Result.Result

	res := testplan.StepResult{
		SendData:     payload,
		ExpectedData: expected,
		Time:         e.now().UTC().Format(time.RFC3339Nano),
		Port:         string(p),
		Type:         string(step.Type),
		Status:       testplan.StatusFailure,
	}
	if res.Type == "" {
		res.Type = string(p)
	}
	if p == connection.ProtocolMQTT {
		res.SendData = verify.Normalize(res.SendData)
		res.ExpectedData = verify.Normalize(res.ExpectedData)
	}

	if step.Type == testplan.StepTypeWait {
		if err := sleep(ctx, timeout); err != nil {
			res.ErrMsg = err.Error()
			return res
		}
		res.Status = testplan.StatusSuccess
		return res
	}

	if err := e.ensureConnection(ctx, p); err != nil {
		res.ErrMsg = err.Error()
		return res
	}

	var (
		response []byte
		outcome  verify.Result
		err      error
	)
	switch {
	case p == connection.ProtocolSFTP && step.Type == testplan.StepTypeDownload:
		err = e.registry.Download(ctx, p, payload, expected)
		outcome.Passed = err == nil
	case p == connection.ProtocolSFTP && step.Type == testplan.StepTypeUpload:
		local, remote := e.uploadPaths(step)
		res.SendData = payload + " " + remote
		err = e.registry.Upload(ctx, p, local, remote)
		outcome.Passed = err == nil
	case p == connection.ProtocolSSH:
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		response, err = e.registry.Execute(cmdCtx, p, payload)
		cancel()
		if err == nil {
			outcome = verify.Response(p, response, expected)
		}
	default:
		response, err = e.registry.SendAndReceive(ctx, p, payload, timeout)
		if err == nil {
			outcome = verify.Response(p, response, expected)
		}
	}
	if err != nil {
		res.ErrMsg = err.Error()
		return res
	}

	res.ReceiveData = string(response)
	if p == connection.ProtocolMQTT {
		res.ReceiveData = verify.Normalize(res.ReceiveData)
	}
	res.ErrMsg = outcome.Message
	res.Status = testplan.FromBool(outcome.Passed)
	return res
}

// uploadPaths resolves the local attachment and the remote destination of an
// upload step.
func (e *Executor) uploadPaths(step *testplan.Step) (local, remote string) {
	local = filepath.Join(e.attachmentsDir, e.plan.ID, "attachments", step.Content.Content)
	remote = step.Destination
	if remote == "" {
		remote = path.Join(defaultUploadDir, filepath.Base(local))
	}
	return local, remote
}
