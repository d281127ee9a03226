package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/internal/database/repositories"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ResultRepository implements repositories.ResultRepository
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository creates a new ResultRepository
func NewResultRepository(db *sqlx.DB) repositories.ResultRepository {
	return &ResultRepository{db: db}
}

type resultRow struct {
	ID         string    `db:"id"`
	ExecID     string    `db:"exec_id"`
	PlanID     string    `db:"test_plan_id"`
	SchemeID   string    `db:"test_scheme_id"`
	UseCaseID  string    `db:"use_case_id"`
	StepID     string    `db:"step_id"`
	Result     string    `db:"result"`
	ExecutedAt time.Time `db:"executed_at"`
}

// Create stores one step result. Missing ids and timestamps are filled in.
func (r *ResultRepository) Create(ctx context.Context, rec *testplan.ResultRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now()
	}

	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal step result: %w", err)
	}

	query := `
		INSERT INTO test_results (id, exec_id, test_plan_id, test_scheme_id, use_case_id, step_id, result, executed_at)
		VALUES (:id, :exec_id, :test_plan_id, :test_scheme_id, :use_case_id, :step_id, :result, :executed_at)
	`
	row := resultRow{
		ID:         rec.ID,
		ExecID:     rec.ExecID,
		PlanID:     rec.PlanID,
		SchemeID:   rec.SchemeID,
		UseCaseID:  rec.UseCaseID,
		StepID:     rec.StepID,
		Result:     string(result),
		ExecutedAt: rec.ExecutedAt.UTC(),
	}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to create test result: %w", err)
	}
	return nil
}

// ListByExec returns every result of an execution in step order.
func (r *ResultRepository) ListByExec(ctx context.Context, execID string) ([]*testplan.ResultRecord, error) {
	query := `
		SELECT id, exec_id, test_plan_id, test_scheme_id, use_case_id, step_id, result, executed_at
		FROM test_results
		WHERE exec_id = ?
		ORDER BY executed_at, step_id
	`

	var rows []resultRow
	if err := r.db.SelectContext(ctx, &rows, query, execID); err != nil {
		return nil, fmt.Errorf("failed to list test results: %w", err)
	}

	out := make([]*testplan.ResultRecord, 0, len(rows))
	for _, row := range rows {
		rec := &testplan.ResultRecord{
			ID:         row.ID,
			ExecID:     row.ExecID,
			PlanID:     row.PlanID,
			SchemeID:   row.SchemeID,
			UseCaseID:  row.UseCaseID,
			StepID:     row.StepID,
			ExecutedAt: row.ExecutedAt,
		}
		if err := json.Unmarshal([]byte(row.Result), &rec.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result of step %s: %w", row.StepID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
