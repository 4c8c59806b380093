package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// PlanRepository keeps an audit trail of mutation plans and their execution reports.
type PlanRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPlanRepository creates a new PlanRepository with the given database connection
func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db, now: time.Now}
}

// SavePlan stores plan with status ready.
func (r *PlanRepository) SavePlan(ctx context.Context, plan models.MutationPlan) error {
	body, err := encode(plan)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO plans (id, group_id, policy, status, created_at, updated_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := r.now().UTC()
	_, err = r.db.ExecContext(ctx, query, plan.ID, plan.GroupID, string(plan.Policy), string(models.PlanReady), plan.CreatedAt.UTC(), now, body)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: plan %s already saved", shared.ErrConflict, plan.ID)
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// UpdateStatus moves plan id to status.
func (r *PlanRepository) UpdateStatus(ctx context.Context, id string, status models.PlanStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: plan %s", shared.ErrNotFound, id)
	}
	return nil
}

// GetPlan returns a plan and its current status.
func (r *PlanRepository) GetPlan(ctx context.Context, id string) (*models.MutationPlan, models.PlanStatus, error) {
	var status, body string
	err := r.db.QueryRowContext(ctx, `SELECT status, body FROM plans WHERE id = ?`, id).Scan(&status, &body)
	if err != nil {
		return nil, "", notFound(err, "plan %s", id)
	}

	var plan models.MutationPlan
	if err := decode(body, &plan); err != nil {
		return nil, "", fmt.Errorf("plan %s: %w", id, err)
	}
	return &plan, models.PlanStatus(status), nil
}

// ListByStatus returns plans in status, oldest first.
func (r *PlanRepository) ListByStatus(ctx context.Context, status models.PlanStatus) ([]models.MutationPlan, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, body FROM plans WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []models.MutationPlan
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		var plan models.MutationPlan
		if err := decode(body, &plan); err != nil {
			return nil, fmt.Errorf("plan %s: %w", id, err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// SaveReport stores an execution report for an already saved plan.
func (r *PlanRepository) SaveReport(ctx context.Context, report models.ExecutionReport) error {
	body, err := encode(report)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO execution_reports (id, plan_id, outcome, started_at, finished_at, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query, report.ID, report.PlanID, string(report.Outcome),
		report.StartedAt.UTC(), report.FinishedAt.UTC(), body)
	if err != nil {
		return fmt.Errorf("failed to insert execution report: %w", err)
	}
	return nil
}

// Reports returns every report of a plan, oldest first.
func (r *PlanRepository) Reports(ctx context.Context, planID string) ([]models.ExecutionReport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT body FROM execution_reports WHERE plan_id = ? ORDER BY started_at`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution reports: %w", err)
	}
	defer rows.Close()

	var reports []models.ExecutionReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan execution report: %w", err)
		}
		var report models.ExecutionReport
		if err := decode(body, &report); err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
