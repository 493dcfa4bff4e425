package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// WorkflowRepo — репозиторий для работы с workflows и их шагами.
//
// Активный workflow неизменяем: Update, Delete и операции над шагами
// возвращают ErrInvalidState. На один endpoint активен не более
// одного workflow (частичный уникальный индекс + Activate в транзакции).
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

// NewWorkflowRepo создаёт новый WorkflowRepo.
func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

const stepColumns = `id, workflow_id, step_name, step_type, config, depends_on, on_success, on_failure, is_active, created_at`

// --- Workflow CRUD ---

// Create создаёт workflow вместе с шагами.
func (r *WorkflowRepo) Create(ctx context.Context, wf *domain.Workflow) error {
	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	now := time.Now()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO workflows (id, name, endpoint_id, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, wf.ID, wf.Name, wf.EndpointID, wf.IsActive, wf.CreatedAt, wf.UpdatedAt)
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: endpoint %s already has an active workflow", ErrAlreadyExists, wf.EndpointID)
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: endpoint %s", ErrInvalidReference, wf.EndpointID)
		case err != nil:
			return fmt.Errorf("insert workflow: %w", err)
		}

		return insertSteps(ctx, tx, wf.ID, wf.Steps, 0)
	})
}

// GetByID возвращает workflow с шагами.
func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	query := `
		SELECT id, name, endpoint_id, is_active, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`
	wf, err := scanWorkflow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if wf.Steps, err = r.listSteps(ctx, wf.ID); err != nil {
		return nil, err
	}
	return wf, nil
}

// GetActiveByEndpoint возвращает активный workflow endpoint с шагами.
func (r *WorkflowRepo) GetActiveByEndpoint(ctx context.Context, endpointID uuid.UUID) (*domain.Workflow, error) {
	query := `
		SELECT id, name, endpoint_id, is_active, created_at, updated_at
		FROM workflows
		WHERE endpoint_id = $1 AND is_active
	`
	wf, err := scanWorkflow(r.pool.QueryRow(ctx, query, endpointID))
	if err != nil {
		return nil, err
	}
	if wf.Steps, err = r.listSteps(ctx, wf.ID); err != nil {
		return nil, err
	}
	return wf, nil
}

// ListByEndpoint возвращает workflows endpoint без шагов.
func (r *WorkflowRepo) ListByEndpoint(ctx context.Context, endpointID uuid.UUID) ([]domain.Workflow, error) {
	query := `
		SELECT id, name, endpoint_id, is_active, created_at, updated_at
		FROM workflows
		WHERE endpoint_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, *wf)
	}
	return workflows, rows.Err()
}

// Update меняет имя и полностью заменяет шаги неактивного workflow.
func (r *WorkflowRepo) Update(ctx context.Context, wf *domain.Workflow) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockInactive(ctx, tx, wf.ID); err != nil {
			return err
		}

		wf.UpdatedAt = time.Now()
		if _, err := tx.Exec(ctx, `UPDATE workflows SET name = $2, updated_at = $3 WHERE id = $1`,
			wf.ID, wf.Name, wf.UpdatedAt); err != nil {
			return fmt.Errorf("update workflow: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1`, wf.ID); err != nil {
			return fmt.Errorf("delete steps: %w", err)
		}
		return insertSteps(ctx, tx, wf.ID, wf.Steps, 0)
	})
}

// Delete удаляет неактивный workflow.
func (r *WorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockInactive(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete workflow: %w", err)
		}
		return nil
	})
}

// Activate делает workflow активным и выключает остальные workflows
// того же endpoint в одной транзакции.
func (r *WorkflowRepo) Activate(ctx context.Context, id uuid.UUID) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var endpointID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT endpoint_id FROM workflows WHERE id = $1 FOR UPDATE`, id).Scan(&endpointID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock workflow: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE workflows SET is_active = FALSE, updated_at = NOW()
			WHERE endpoint_id = $1 AND id <> $2 AND is_active
		`, endpointID, id); err != nil {
			return fmt.Errorf("deactivate siblings: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE workflows SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: endpoint %s already has an active workflow", ErrAlreadyExists, endpointID)
			}
			return fmt.Errorf("activate workflow: %w", err)
		}
		return nil
	})
}

// Deactivate выключает workflow.
func (r *WorkflowRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `UPDATE workflows SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate workflow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Steps ---

// AddStep добавляет шаг в конец неактивного workflow.
func (r *WorkflowRepo) AddStep(ctx context.Context, workflowID uuid.UUID, step *domain.Step) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockInactive(ctx, tx, workflowID); err != nil {
			return err
		}

		var position int
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(position), -1) + 1 FROM workflow_steps WHERE workflow_id = $1
		`, workflowID).Scan(&position); err != nil {
			return fmt.Errorf("next step position: %w", err)
		}

		if err := insertSteps(ctx, tx, workflowID, []domain.Step{*step}, position); err != nil {
			return err
		}
		step.WorkflowID = workflowID
		return nil
	})
}

// UpdateStep заменяет шаг неактивного workflow.
func (r *WorkflowRepo) UpdateStep(ctx context.Context, workflowID uuid.UUID, step *domain.Step) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockInactive(ctx, tx, workflowID); err != nil {
			return err
		}

		cols, err := marshalStep(step)
		if err != nil {
			return err
		}

		result, err := tx.Exec(ctx, `
			UPDATE workflow_steps
			SET step_name = $3, step_type = $4, config = $5, depends_on = $6,
			    on_success = $7, on_failure = $8, is_active = $9
			WHERE workflow_id = $1 AND id = $2
		`, workflowID, step.ID, step.Name, step.Type, cols.config, nullString(step.DependsOn),
			cols.onSuccess, cols.onFailure, step.IsActive)
		if err != nil {
			return fmt.Errorf("update step: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteStep удаляет шаг неактивного workflow.
func (r *WorkflowRepo) DeleteStep(ctx context.Context, workflowID uuid.UUID, stepID string) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockInactive(ctx, tx, workflowID); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, `DELETE FROM workflow_steps WHERE workflow_id = $1 AND id = $2`, workflowID, stepID)
		if err != nil {
			return fmt.Errorf("delete step: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- Helpers ---

// lockInactive блокирует строку workflow и проверяет, что он неактивен.
func lockInactive(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var active bool
	err := tx.QueryRow(ctx, `SELECT is_active FROM workflows WHERE id = $1 FOR UPDATE`, id).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock workflow: %w", err)
	}
	if active {
		return fmt.Errorf("%w: workflow %s is active", ErrInvalidState, id)
	}
	return nil
}

type stepJSON struct {
	config    []byte
	onSuccess []byte
	onFailure []byte
}

func marshalStep(step *domain.Step) (stepJSON, error) {
	var cols stepJSON
	var err error

	config := step.Config
	if config == nil {
		config = map[string]any{}
	}
	if cols.config, err = json.Marshal(config); err != nil {
		return cols, fmt.Errorf("marshal step config: %w", err)
	}
	if cols.onSuccess, err = json.Marshal(step.OnSuccess); err != nil {
		return cols, fmt.Errorf("marshal on_success: %w", err)
	}
	if cols.onFailure, err = json.Marshal(step.OnFailure); err != nil {
		return cols, fmt.Errorf("marshal on_failure: %w", err)
	}
	return cols, nil
}

// insertSteps вставляет шаги начиная с позиции start.
func insertSteps(ctx context.Context, tx pgx.Tx, workflowID uuid.UUID, steps []domain.Step, start int) error {
	now := time.Now()
	for i := range steps {
		step := &steps[i]
		step.WorkflowID = workflowID
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}

		cols, err := marshalStep(step)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_steps (workflow_id, id, position, step_name, step_type, config,
			                            depends_on, on_success, on_failure, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, workflowID, step.ID, start+i, step.Name, step.Type, cols.config,
			nullString(step.DependsOn), cols.onSuccess, cols.onFailure, step.IsActive, step.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: step %s", ErrAlreadyExists, step.ID)
		}
		if err != nil {
			return fmt.Errorf("insert step %s: %w", step.ID, err)
		}
	}
	return nil
}

// listSteps возвращает шаги workflow в порядке добавления.
func (r *WorkflowRepo) listSteps(ctx context.Context, workflowID uuid.UUID) ([]domain.Step, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY position
	`
	rows, err := r.pool.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		var step domain.Step
		var config, onSuccess, onFailure []byte
		var dependsOn *string

		if err := rows.Scan(
			&step.ID,
			&step.WorkflowID,
			&step.Name,
			&step.Type,
			&config,
			&dependsOn,
			&onSuccess,
			&onFailure,
			&step.IsActive,
			&step.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}

		if err := json.Unmarshal(config, &step.Config); err != nil {
			return nil, fmt.Errorf("unmarshal step config: %w", err)
		}
		if err := json.Unmarshal(onSuccess, &step.OnSuccess); err != nil {
			return nil, fmt.Errorf("unmarshal on_success: %w", err)
		}
		if err := json.Unmarshal(onFailure, &step.OnFailure); err != nil {
			return nil, fmt.Errorf("unmarshal on_failure: %w", err)
		}
		if dependsOn != nil {
			step.DependsOn = *dependsOn
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var wf domain.Workflow
	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.EndpointID,
		&wf.IsActive,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	return &wf, nil
}
