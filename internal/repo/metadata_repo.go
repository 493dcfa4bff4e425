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

// MetadataRepo — репозиторий для DatabaseMetadata и их полей.
type MetadataRepo struct {
	pool *pgxpool.Pool
}

// NewMetadataRepo создаёт новый MetadataRepo.
func NewMetadataRepo(pool *pgxpool.Pool) *MetadataRepo {
	return &MetadataRepo{pool: pool}
}

const metadataColumns = `id, name, version, project_id, organisation_id, created_at`

// Create сохраняет метаданные вместе с полями.
// Неизвестный тип поля или ref на несуществующие метаданные — ErrInvalidReference.
func (r *MetadataRepo) Create(ctx context.Context, meta *domain.DatabaseMetadata) error {
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	if meta.Version <= 0 {
		meta.Version = 1
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}

	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO database_metadata (`+metadataColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, meta.ID, meta.Name, meta.Version, meta.ProjectID, meta.OrganisationID, meta.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: metadata %s v%d", ErrAlreadyExists, meta.Name, meta.Version)
		}
		if err != nil {
			return fmt.Errorf("insert metadata: %w", err)
		}

		for i := range meta.Fields {
			if err := insertField(ctx, tx, meta.ID, i, &meta.Fields[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID возвращает метаданные с полями.
func (r *MetadataRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DatabaseMetadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM database_metadata WHERE id = $1`
	meta, err := scanMetadata(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if meta.Fields, err = r.listFields(ctx, meta.ID); err != nil {
		return nil, err
	}
	return meta, nil
}

// ListByProject возвращает метаданные проекта без полей.
func (r *MetadataRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]domain.DatabaseMetadata, error) {
	query := `
		SELECT ` + metadataColumns + `
		FROM database_metadata
		WHERE project_id = $1
		ORDER BY name, version
	`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	var result []domain.DatabaseMetadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *meta)
	}
	return result, rows.Err()
}

// Delete удаляет метаданные. Если на них ссылаются поля других
// метаданных, возвращает ErrInvalidState.
func (r *MetadataRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM database_metadata WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: metadata %s is referenced by other fields", ErrInvalidState, id)
	}
	if err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func insertField(ctx context.Context, tx pgx.Tx, metadataID uuid.UUID, position int, field *domain.Field) error {
	if !field.Type.IsValid() {
		return fmt.Errorf("%w: field %s has unknown type %q", ErrInvalidReference, field.Name, field.Type)
	}
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}

	options, err := json.Marshal(field)
	if err != nil {
		return fmt.Errorf("marshal field %s: %w", field.Name, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO metadata_fields (id, metadata_id, position, name, field_type, ref_id, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, field.ID, metadataID, position, field.Name, field.Type, field.Ref, options)
	switch {
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: field %s references unknown metadata", ErrInvalidReference, field.Name)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: field %s", ErrAlreadyExists, field.Name)
	case err != nil:
		return fmt.Errorf("insert field %s: %w", field.Name, err)
	}
	return nil
}

func (r *MetadataRepo) listFields(ctx context.Context, metadataID uuid.UUID) ([]domain.Field, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT options
		FROM metadata_fields
		WHERE metadata_id = $1
		ORDER BY position
	`, metadataID)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var fields []domain.Field
	for rows.Next() {
		var options []byte
		if err := rows.Scan(&options); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		var field domain.Field
		if err := json.Unmarshal(options, &field); err != nil {
			return nil, fmt.Errorf("unmarshal field: %w", err)
		}
		fields = append(fields, field)
	}
	return fields, rows.Err()
}

func scanMetadata(row pgx.Row) (*domain.DatabaseMetadata, error) {
	var meta domain.DatabaseMetadata
	err := row.Scan(
		&meta.ID,
		&meta.Name,
		&meta.Version,
		&meta.ProjectID,
		&meta.OrganisationID,
		&meta.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan metadata: %w", err)
	}
	return &meta, nil
}
