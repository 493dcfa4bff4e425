package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// EndpointRepo — репозиторий для работы с endpoints.
type EndpointRepo struct {
	pool *pgxpool.Pool
}

// NewEndpointRepo создаёт новый EndpointRepo.
func NewEndpointRepo(pool *pgxpool.Pool) *EndpointRepo {
	return &EndpointRepo{pool: pool}
}

const endpointColumns = `id, project_id, endpoint_url, request_method, version, description, is_active, created_at`

// Create создаёт endpoint. URL, метод и версия нормализуются.
// Возвращает ErrAlreadyExists, если активный endpoint с тем же
// (project, url, method, version) уже есть.
func (r *EndpointRepo) Create(ctx context.Context, ep *domain.Endpoint) error {
	ep.Normalize()
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO endpoints (` + endpointColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		ep.ID,
		ep.ProjectID,
		ep.URL,
		ep.Method,
		ep.Version,
		nullString(ep.Description),
		ep.IsActive,
		ep.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: endpoint %s %s v%s", ErrAlreadyExists, ep.Method, ep.URL, ep.Version)
	}
	if err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

// GetByID возвращает endpoint по ID.
func (r *EndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Endpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`
	return scanEndpoint(r.pool.QueryRow(ctx, query, id))
}

// Resolve находит активный endpoint по маршруту.
// url нормализуется перед поиском.
func (r *EndpointRepo) Resolve(ctx context.Context, projectID uuid.UUID, url, method, version string) (*domain.Endpoint, error) {
	key := domain.Endpoint{URL: url, Method: method, Version: version}
	key.Normalize()

	query := `
		SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE project_id = $1 AND endpoint_url = $2 AND request_method = $3
		  AND version = $4 AND is_active
	`
	return scanEndpoint(r.pool.QueryRow(ctx, query, projectID, key.URL, key.Method, key.Version))
}

// ListByProject возвращает endpoints проекта.
func (r *EndpointRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.Endpoint, error) {
	query := `
		SELECT ` + endpointColumns + `
		FROM endpoints
		WHERE project_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []domain.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

// SetActive включает или выключает endpoint.
func (r *EndpointRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.pool.Exec(ctx, `UPDATE endpoints SET is_active = $2 WHERE id = $1`, id, active)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: another active endpoint has the same route", ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет endpoint (каскадно удалит его workflows).
func (r *EndpointRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanEndpoint сканирует строку в Endpoint. Подходит и для pgx.Row, и для pgx.Rows.
func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var ep domain.Endpoint
	var description *string

	err := row.Scan(
		&ep.ID,
		&ep.ProjectID,
		&ep.URL,
		&ep.Method,
		&ep.Version,
		&description,
		&ep.IsActive,
		&ep.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	if description != nil {
		ep.Description = *description
	}
	return &ep, nil
}
