package models

import "github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"

// Device is a stored device under test. Testing is set while a plan runs
// against it.
type Device struct {
	testplan.DeviceInfo
	Testing bool `json:"testing"`
}

// ExecFilter narrows execution record listings.
type ExecFilter struct {
	PlanID string
	Status string
	Limit  int
	Offset int
}
