package repositories

import (
	"context"
	"errors"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// ResultRepository stores per-step execution results
type ResultRepository interface {
	Create(ctx context.Context, rec *testplan.ResultRecord) error
	ListByExec(ctx context.Context, execID string) ([]*testplan.ResultRecord, error)
}

// ExecRecordRepository stores one record per plan execution
type ExecRecordRepository interface {
	Create(ctx context.Context, rec *testplan.ExecRecord) error
	Update(ctx context.Context, rec *testplan.ExecRecord) error
	UpdateStatus(ctx context.Context, id string, status testplan.ExecStatus) error
	Get(ctx context.Context, id string) (*testplan.ExecRecord, error)
	List(ctx context.Context, filter models.ExecFilter) ([]*testplan.ExecRecord, error)
}

// DeviceRepository defines device data access methods
type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	Get(ctx context.Context, id string) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
	Update(ctx context.Context, device *models.Device) error
	Delete(ctx context.Context, id string) error
	SetTesting(ctx context.Context, id string, testing bool) error
}
