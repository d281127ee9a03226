package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/connection"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/models"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/repositories"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DeviceRepository implements repositories.DeviceRepository
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *sqlx.DB) repositories.DeviceRepository {
	return &DeviceRepository{db: db}
}

type deviceRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Type      string    `db:"type"`
	Protocol  string    `db:"protocol"`
	Config    string    `db:"config"`
	Status    string    `db:"status"`
	Testing   bool      `db:"testing"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func newDeviceRow(d *models.Device) (deviceRow, error) {
	config, err := json.Marshal(d.Config)
	if err != nil {
		return deviceRow{}, fmt.Errorf("failed to marshal device config: %w", err)
	}
	status := d.Status
	if status == nil {
		status = map[connection.Protocol]testplan.ConnectionStatus{}
	}
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return deviceRow{}, fmt.Errorf("failed to marshal device status: %w", err)
	}
	return deviceRow{
		ID:        d.ID,
		Name:      d.Name,
		Type:      d.Type,
		Protocol:  d.Protocol,
		Config:    string(config),
		Status:    string(statusJSON),
		Testing:   d.Testing,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func (row deviceRow) device() (*models.Device, error) {
	d := &models.Device{
		DeviceInfo: testplan.DeviceInfo{
			ID:        row.ID,
			Name:      row.Name,
			Type:      row.Type,
			Protocol:  row.Protocol,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		},
		Testing: row.Testing,
	}
	if row.Config != "" {
		if err := json.Unmarshal([]byte(row.Config), &d.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device config: %w", err)
		}
	}
	if row.Status != "" {
		if err := json.Unmarshal([]byte(row.Status), &d.Status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device status: %w", err)
		}
	}
	return d, nil
}

// Create stores a device. An empty id gets a generated one.
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	row, err := newDeviceRow(device)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO devices (id, name, type, protocol, config, status, testing, created_at, updated_at)
		VALUES (:id, :name, :type, :protocol, :config, :status, :testing, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (r *DeviceRepository) Get(ctx context.Context, id string) (*models.Device, error) {
	query := `
		SELECT id, name, type, protocol, config, status, testing, created_at, updated_at
		FROM devices
		WHERE id = ?
	`
	var row deviceRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: device %s", repositories.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return row.device()
}

func (r *DeviceRepository) List(ctx context.Context) ([]*models.Device, error) {
	query := `
		SELECT id, name, type, protocol, config, status, testing, created_at, updated_at
		FROM devices
		ORDER BY name, id
	`
	var rows []deviceRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]*models.Device, 0, len(rows))
	for _, row := range rows {
		d, err := row.device()
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now().UTC()
	row, err := newDeviceRow(device)
	if err != nil {
		return err
	}

	query := `
		UPDATE devices
		SET name = :name, type = :type, protocol = :protocol, config = :config,
			status = :status, testing = :testing, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	return expectRow(result, "device", device.ID)
}

func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return expectRow(result, "device", id)
}

// SetTesting flags whether a plan is currently running against the device.
func (r *DeviceRepository) SetTesting(ctx context.Context, id string, testing bool) error {
	query := `UPDATE devices SET testing = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, testing, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update device testing flag: %w", err)
	}
	return expectRow(result, "device", id)
}
