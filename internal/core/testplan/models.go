package testplan

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
)

// Status is the progress of any node in the plan tree.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusProgress Status = "progress"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
)

// FromBool maps an outcome to success or failure.
func FromBool(ok bool) Status {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}

// StepType selects how a step is executed. The zero value is a plain
// send/receive step.
type StepType string

const (
	StepTypeDefault  StepType = ""
	StepTypeListen   StepType = "listen"
	StepTypeWait     StepType = "wait"
	StepTypeUpload   StepType = "upload"
	StepTypeDownload StepType = "download"
)

// PlanScheme describes the set of scheme files a plan was built from.
type PlanScheme struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	FilePath    []string  `json:"filepath,omitempty" yaml:"filepath,omitempty"`
	Attachments []string  `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// Plan is the root aggregate handed to the executor.
type Plan struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	DeviceInfo DeviceInfo `json:"deviceinfo" yaml:"deviceinfo"`
	Schemes    []*Scheme  `json:"schemes" yaml:"schemes"`
	Status     Status     `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAt  time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt  time.Time  `json:"updatedAt" yaml:"-"`
}

// Defaults are inherited by every step of a scheme that leaves them unset.
type Defaults struct {
	Type     string              `json:"type,omitempty" yaml:"type,omitempty"`
	Port     connection.Protocol `json:"port" yaml:"port"`
	SLoop    int                 `json:"sloop,omitempty" yaml:"sloop,omitempty"`
	Timeout  int                 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Format   string              `json:"format,omitempty" yaml:"format,omitempty"`
	Relation string              `json:"relation,omitempty" yaml:"relation,omitempty"`
	ULoop    int                 `json:"uloop,omitempty" yaml:"uloop,omitempty"`
	Check    string              `json:"check,omitempty" yaml:"check,omitempty"`
}

type Scheme struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	FilePath  string     `json:"filepath,omitempty" yaml:"filepath,omitempty"`
	Default   Defaults   `json:"default" yaml:"default"`
	UseCases  []*UseCase `json:"usecases" yaml:"usecases"`
	Status    Status     `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAt time.Time  `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"-"`
}

type UseCase struct {
	ID       string  `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Steps    []*Step `json:"steps" yaml:"steps"`
	Selected *bool   `json:"selected,omitempty" yaml:"selected,omitempty"`
	Status   Status  `json:"status,omitempty" yaml:"status,omitempty"`
}

// IsSelected reports whether the use case should run. Unset means selected.
func (u *UseCase) IsSelected() bool {
	return u.Selected == nil || *u.Selected
}

// Content is what a step sends.
type Content struct {
	Type    string              `json:"type,omitempty" yaml:"type,omitempty"`
	Port    connection.Protocol `json:"port,omitempty" yaml:"port,omitempty"`
	Content string              `json:"content" yaml:"content"`
}

// Expectation is the response pattern a step is verified against.
type Expectation struct {
	Type   string              `json:"type,omitempty" yaml:"type,omitempty"`
	Port   connection.Protocol `json:"port,omitempty" yaml:"port,omitempty"`
	Result string              `json:"result" yaml:"result"`
}

type Step struct {
	// ID is the composite "{scheme}-{usecase}-{step}" index.
	ID string `json:"id" yaml:"id"`
	// StepID is the author assigned id used by Dependencies.
	StepID       string              `json:"stepid,omitempty" yaml:"stepid,omitempty"`
	Dependencies []string            `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Name         string              `json:"name" yaml:"name"`
	Timeout      int                 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Content      Content             `json:"content" yaml:"content"`
	Result       Expectation         `json:"result" yaml:"result"`
	Type         StepType            `json:"type,omitempty" yaml:"type,omitempty"`
	Port         connection.Protocol `json:"port,omitempty" yaml:"port,omitempty"`
	Destination  string              `json:"destination,omitempty" yaml:"destination,omitempty"`
	Selected     *bool               `json:"selected,omitempty" yaml:"selected,omitempty"`
	Status       Status              `json:"status,omitempty" yaml:"status,omitempty"`
	TestResult   *StepResult         `json:"testresult,omitempty" yaml:"testresult,omitempty"`
	StartTime    *time.Time          `json:"starttime,omitempty" yaml:"-"`
	EndTime      *time.Time          `json:"endtime,omitempty" yaml:"-"`
}

// StepResult is what was observed when a step ran.
type StepResult struct {
	SendData     string `json:"senddata"`
	ReceiveData  string `json:"receivedata"`
	ExpectedData string `json:"expecteddata"`
	ErrMsg       string `json:"errmsg,omitempty"`
	Time         string `json:"time"`
	Port         string `json:"port"`
	Type         string `json:"type"`
	Status       Status `json:"status,omitempty"`
}

// EmptyResult is persisted for steps that never produced a result.
func EmptyResult(now time.Time) StepResult {
	return StepResult{Time: now.UTC().Format(time.RFC3339Nano)}
}

// ResultRecord is one persisted step outcome of an execution.
type ResultRecord struct {
	ID         string     `json:"id" db:"id"`
	ExecID     string     `json:"exec_id" db:"exec_id"`
	PlanID     string     `json:"test_plan_id" db:"test_plan_id"`
	SchemeID   string     `json:"test_scheme_id" db:"test_scheme_id"`
	UseCaseID  string     `json:"use_case_id" db:"use_case_id"`
	StepID     string     `json:"step_id" db:"step_id"`
	Result     StepResult `json:"result" db:"-"`
	ExecutedAt time.Time  `json:"executed_at" db:"executed_at"`
}

// ExecStatus is the lifecycle state of one execution record.
type ExecStatus string

const (
	ExecProgress ExecStatus = "progress"
	ExecSuccess  ExecStatus = "success"
	ExecFailure  ExecStatus = "failure"
	ExecStopped  ExecStatus = "stopped"
)

// ExecRecord tracks one run of a plan across process restarts. Data holds
// the {planscheme, plan} pair the run was started with.
type ExecRecord struct {
	ID        string          `json:"id" db:"id"`
	PlanID    string          `json:"plan_id" db:"plan_id"`
	Data      json.RawMessage `json:"data" db:"data"`
	Status    ExecStatus      `json:"status" db:"status"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}
