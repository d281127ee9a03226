package database

import (
	"github.com/frostdev-ops/devtest-backend-go/internal/database/repositories"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/sqlite"
	"github.com/jmoiron/sqlx"
)

// Repositories holds all repository instances
type Repositories struct {
	Results     repositories.ResultRepository
	ExecRecords repositories.ExecRecordRepository
	Devices     repositories.DeviceRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		Results:     sqlite.NewResultRepository(db),
		ExecRecords: sqlite.NewExecRecordRepository(db),
		Devices:     sqlite.NewDeviceRepository(db),
	}
}
