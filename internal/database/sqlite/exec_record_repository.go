package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/models"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

// ExecRecordRepository implements repositories.ExecRecordRepository
type ExecRecordRepository struct {
	db *sqlx.DB
}

// NewExecRecordRepository creates a new ExecRecordRepository
func NewExecRecordRepository(db *sqlx.DB) repositories.ExecRecordRepository {
	return &ExecRecordRepository{db: db}
}

type execRow struct {
	ID        string    `db:"id"`
	PlanID    string    `db:"plan_id"`
	Data      string    `db:"data"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row execRow) record() *testplan.ExecRecord {
	return &testplan.ExecRecord{
		ID:        row.ID,
		PlanID:    row.PlanID,
		Data:      json.RawMessage(row.Data),
		Status:    testplan.ExecStatus(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func (r *ExecRecordRepository) Create(ctx context.Context, rec *testplan.ExecRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	data := string(rec.Data)
	if data == "" {
		data = "{}"
	}

	query := `
		INSERT INTO exec_records (id, plan_id, data, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.PlanID, data, string(rec.Status),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create execution record: %w", err)
	}
	return nil
}

func (r *ExecRecordRepository) Update(ctx context.Context, rec *testplan.ExecRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE exec_records
		SET plan_id = ?, data = ?, status = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, rec.PlanID, string(rec.Data), string(rec.Status), rec.UpdatedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}
	return expectRow(result, "execution record", rec.ID)
}

func (r *ExecRecordRepository) UpdateStatus(ctx context.Context, id string, status testplan.ExecStatus) error {
	query := `UPDATE exec_records SET status = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return expectRow(result, "execution record", id)
}

func (r *ExecRecordRepository) Get(ctx context.Context, id string) (*testplan.ExecRecord, error) {
	query := `
		SELECT id, plan_id, data, status, created_at, updated_at
		FROM exec_records
		WHERE id = ?
	`
	var row execRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: execution record %s", repositories.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get execution record: %w", err)
	}
	return row.record(), nil
}

// List returns execution records, newest first.
func (r *ExecRecordRepository) List(ctx context.Context, filter models.ExecFilter) ([]*testplan.ExecRecord, error) {
	query := `SELECT id, plan_id, data, status, created_at, updated_at FROM exec_records`

	var (
		conditions []string
		args       []interface{}
	)
	if filter.PlanID != "" {
		conditions = append(conditions, "plan_id = ?")
		args = append(args, filter.PlanID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	var rows []execRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}

	out := make([]*testplan.ExecRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func expectRow(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", repositories.ErrNotFound, what, id)
	}
	return nil
}
