package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/persistence"
	"github.com/lib/pq"
)

const (
	uniqueViolation = "23505"

	constraintProjectName = "idx_workflow_definitions_project_name"
	constraintDefinition  = "workflow_definitions_pkey"
	constraintVersion     = "workflow_definition_versions_pkey"
)

// DefinitionRepository handles definition and version database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

const selectDefinition = `
	SELECT
		d.code
	  , d.project_id
	  , d.name
	  , d.description
	  , d.tenant_code
	  , d.timeout_seconds
	  , d.release_state
	  , d.current_version
	  , d.owner
	  , d.created_at
	  , d.updated_at
	  , v.global_parameters
	  , v.layout
	  , %s
	FROM workflow_definitions d
	JOIN workflow_definition_versions v ON v.code = d.code AND v.version = d.current_version
`

const (
	withTasks    = "v.tasks, v.relations"
	withoutTasks = "NULL::jsonb, NULL::jsonb"
)

// Create stores a new definition and its first version in one transaction.
func (r *DefinitionRepository) Create(ctx context.Context, definition *models.WorkflowDefinition, version *models.DefinitionVersion) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_definitions (code, project_id, name, description, tenant_code, timeout_seconds,
				release_state, current_version, owner, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			definition.Code,
			definition.ProjectID,
			definition.Name,
			definition.Description,
			definition.TenantCode,
			definition.TimeoutSeconds,
			definition.ReleaseState,
			version.Version,
			definition.Owner,
			definition.CreatedAt,
			definition.UpdatedAt,
		)
		if err != nil {
			return mapWriteError("Create", definition.Code, 0, err)
		}

		return r.insertVersion(ctx, tx, "Create", version)
	})
}

// AppendVersion stores the next version if the highest stored one is still expectedVersion.
func (r *DefinitionRepository) AppendVersion(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	version *models.DefinitionVersion,
	expectedVersion int,
) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var projectID string

		err := tx.QueryRowContext(ctx,
			"SELECT project_id FROM workflow_definitions WHERE code = $1 FOR UPDATE", definition.Code,
		).Scan(&projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.NewDefinitionError("AppendVersion", definition.Code, persistence.ErrDefinitionNotFound)
			}

			return fmt.Errorf("failed to lock definition %d: %w", definition.Code, err)
		}

		latest, err := maxVersion(ctx, tx, definition.Code)
		if err != nil {
			return err
		}

		if latest != expectedVersion || version.Version != expectedVersion+1 || projectID != definition.ProjectID {
			return persistence.NewVersionError("AppendVersion", definition.Code, version.Version, persistence.ErrConcurrentUpdate)
		}

		if err := r.insertVersion(ctx, tx, "AppendVersion", version); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE workflow_definitions SET
				name = $2,
				description = $3,
				tenant_code = $4,
				timeout_seconds = $5,
				release_state = $6,
				current_version = $7,
				updated_at = $8
			WHERE code = $1
		`,
			definition.Code,
			definition.Name,
			definition.Description,
			definition.TenantCode,
			definition.TimeoutSeconds,
			definition.ReleaseState,
			version.Version,
			definition.UpdatedAt,
		)
		if err != nil {
			return mapWriteError("AppendVersion", definition.Code, version.Version, err)
		}

		return nil
	})
}

// GetByCode retrieves a definition with the content of its current version.
func (r *DefinitionRepository) GetByCode(ctx context.Context, code int64) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(selectDefinition, withTasks)+" WHERE d.code = $1", code)

	definition, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan definition %d: %w", code, err)
	}

	return definition, nil
}

// List returns one page of a project's definitions, newest update first.
func (r *DefinitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionListResult, error) {
	where, args := listFilter(opts)

	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_definitions d"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count definitions: %w", err)
	}

	columns := withoutTasks
	if opts.IncludeTasks {
		columns = withTasks
	}

	query := fmt.Sprintf(selectDefinition, columns) + where + " ORDER BY d.updated_at DESC, d.code DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	definitions, err := r.queryDefinitions(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.DefinitionListResult{
		Definitions: definitions,
		TotalCount:  totalCount,
		HasNextPage: int64(max(opts.Offset, 0)+len(definitions)) < totalCount,
	}, nil
}

// ListAll returns every definition of a project ordered by name.
func (r *DefinitionRepository) ListAll(ctx context.Context, projectID string) ([]*models.WorkflowDefinition, error) {
	query := fmt.Sprintf(selectDefinition, withTasks) + " WHERE d.project_id = $1 ORDER BY d.name"

	return r.queryDefinitions(ctx, query, projectID)
}

// NameTaken reports whether another definition of the project uses name.
func (r *DefinitionRepository) NameTaken(ctx context.Context, projectID, name string, excludeCode int64) (bool, error) {
	var taken bool

	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM workflow_definitions WHERE project_id = $1 AND name = $2 AND code <> $3)",
		projectID, name, excludeCode,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check definition name: %w", err)
	}

	return taken, nil
}

// MaxVersion returns the highest stored version of code.
func (r *DefinitionRepository) MaxVersion(ctx context.Context, code int64) (int, error) {
	return maxVersion(ctx, r.db, code)
}

// UpdateReleaseState changes the release state if it still equals from.
func (r *DefinitionRepository) UpdateReleaseState(ctx context.Context, code int64, from, to models.ReleaseState) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_definitions SET release_state = $3, updated_at = $4 WHERE code = $1 AND release_state = $2",
		code, from, to, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update release state of definition %d: %w", code, err)
	}

	return r.expectOneRow(ctx, "UpdateReleaseState", code, result, persistence.ErrConcurrentUpdate)
}

// SwitchVersion makes version the current one and copies its top-level fields onto the definition.
func (r *DefinitionRepository) SwitchVersion(ctx context.Context, code int64, version int) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool

		err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_definitions WHERE code = $1)", code).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check definition %d: %w", code, err)
		}

		if !exists {
			return persistence.NewDefinitionError("SwitchVersion", code, persistence.ErrDefinitionNotFound)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE workflow_definitions d SET
				name = v.name,
				description = v.description,
				tenant_code = v.tenant_code,
				timeout_seconds = v.timeout_seconds,
				current_version = v.version,
				updated_at = $3
			FROM workflow_definition_versions v
			WHERE d.code = $1 AND v.code = d.code AND v.version = $2
		`, code, version, time.Now().UTC())
		if err != nil {
			return mapWriteError("SwitchVersion", code, version, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if affected == 0 {
			return persistence.NewVersionError("SwitchVersion", code, version, persistence.ErrVersionNotFound)
		}

		return nil
	})
}

// Move reassigns the definition to targetProject.
func (r *DefinitionRepository) Move(ctx context.Context, code int64, targetProject string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_definitions SET project_id = $2, updated_at = $3 WHERE code = $1",
		code, targetProject, time.Now().UTC(),
	)
	if err != nil {
		return mapWriteError("Move", code, 0, err)
	}

	return r.expectOneRow(ctx, "Move", code, result, persistence.ErrDefinitionNotFound)
}

// Delete removes the definition; its versions go with it through the cascading foreign key.
func (r *DefinitionRepository) Delete(ctx context.Context, code int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_definitions WHERE code = $1", code)
	if err != nil {
		return fmt.Errorf("failed to delete definition %d: %w", code, err)
	}

	return r.expectOneRow(ctx, "Delete", code, result, persistence.ErrDefinitionNotFound)
}

// GetVersion retrieves one version record.
func (r *DefinitionRepository) GetVersion(ctx context.Context, code int64, version int) (*models.DefinitionVersion, error) {
	row := r.db.QueryRowContext(ctx, selectVersion+" WHERE code = $1 AND version = $2", code, version)

	record, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan version %d of definition %d: %w", version, code, err)
	}

	return record, nil
}

// ListVersions returns one page of the version log, newest first.
func (r *DefinitionRepository) ListVersions(ctx context.Context, code int64, opts persistence.ListVersionsOptions) (*persistence.VersionListResult, error) {
	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_definition_versions WHERE code = $1", code).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count versions of definition %d: %w", code, err)
	}

	args := []any{code}
	query := selectVersion + " WHERE code = $1 ORDER BY version DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions of definition %d: %w", code, err)
	}

	defer r.closeRows(ctx, rows)

	versions := make([]*models.DefinitionVersion, 0)

	for rows.Next() {
		record, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return &persistence.VersionListResult{
		Versions:    versions,
		TotalCount:  totalCount,
		HasNextPage: int64(max(opts.Offset, 0)+len(versions)) < totalCount,
	}, nil
}

// DeleteVersion removes one version record.
func (r *DefinitionRepository) DeleteVersion(ctx context.Context, code int64, version int) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM workflow_definition_versions WHERE code = $1 AND version = $2", code, version,
	)
	if err != nil {
		return fmt.Errorf("failed to delete version %d of definition %d: %w", version, code, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewVersionError("DeleteVersion", code, version, persistence.ErrVersionNotFound)
	}

	return nil
}

const selectVersion = `
	SELECT
		code
	  , version
	  , name
	  , description
	  , global_parameters
	  , timeout_seconds
	  , tenant_code
	  , layout
	  , tasks
	  , relations
	  , created_at
	FROM workflow_definition_versions
`

func (r *DefinitionRepository) insertVersion(ctx context.Context, tx *sql.Tx, op string, version *models.DefinitionVersion) error {
	globalParametersJSON, err := json.Marshal(nonNil(version.GlobalParameters))
	if err != nil {
		return fmt.Errorf("failed to marshal global parameters: %w", err)
	}

	layoutJSON, err := json.Marshal(version.Layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	tasksJSON, err := json.Marshal(nonNil(version.Tasks))
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	relationsJSON, err := json.Marshal(nonNil(version.Relations))
	if err != nil {
		return fmt.Errorf("failed to marshal relations: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_definition_versions (code, version, name, description, global_parameters,
			timeout_seconds, tenant_code, layout, tasks, relations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		version.Code,
		version.Version,
		version.Name,
		version.Description,
		globalParametersJSON,
		version.TimeoutSeconds,
		version.TenantCode,
		layoutJSON,
		tasksJSON,
		relationsJSON,
		version.CreatedAt,
	)
	if err != nil {
		return mapWriteError(op, version.Code, version.Version, err)
	}

	return nil
}

func (r *DefinitionRepository) queryDefinitions(ctx context.Context, query string, args ...any) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(tx)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// expectOneRow turns a zero-row update into missErr, or into ErrDefinitionNotFound when the code is gone.
func (r *DefinitionRepository) expectOneRow(ctx context.Context, op string, code int64, result sql.Result, missErr error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		return nil
	}

	if errors.Is(missErr, persistence.ErrDefinitionNotFound) {
		return persistence.NewDefinitionError(op, code, missErr)
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_definitions WHERE code = $1)", code).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check definition %d: %w", code, err)
	}

	if !exists {
		return persistence.NewDefinitionError(op, code, persistence.ErrDefinitionNotFound)
	}

	return persistence.NewDefinitionError(op, code, missErr)
}

func (r *DefinitionRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func maxVersion(ctx context.Context, q queryer, code int64) (int, error) {
	var latest int

	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM workflow_definition_versions WHERE code = $1", code,
	).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("failed to query max version of definition %d: %w", code, err)
	}

	return latest, nil
}

func listFilter(opts persistence.ListDefinitionsOptions) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if opts.ProjectID != "" {
		args = append(args, opts.ProjectID)
		conditions = append(conditions, fmt.Sprintf("d.project_id = $%d", len(args)))
	}

	if opts.Owner != "" {
		args = append(args, opts.Owner)
		conditions = append(conditions, fmt.Sprintf("d.owner = $%d", len(args)))
	}

	if opts.Search != "" {
		args = append(args, "%"+escapeLike(opts.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("d.name ILIKE $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// mapWriteError translates unique violations into the persistence error taxonomy.
func mapWriteError(op string, code int64, version int, err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return fmt.Errorf("%s failed for definition %d: %w", op, code, err)
	}

	switch pqErr.Constraint {
	case constraintProjectName:
		return persistence.NewDefinitionError(op, code, persistence.ErrNameExists)
	case constraintDefinition:
		return persistence.NewDefinitionError(op, code, persistence.ErrDefinitionAlreadyExists)
	case constraintVersion:
		return persistence.NewVersionError(op, code, version, persistence.ErrConcurrentUpdate)
	default:
		return fmt.Errorf("%s failed for definition %d: %w", op, code, err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row scanner) (*models.WorkflowDefinition, error) {
	var (
		definition           models.WorkflowDefinition
		globalParametersJSON []byte
		layoutJSON           []byte
		tasksJSON            []byte
		relationsJSON        []byte
	)

	err := row.Scan(
		&definition.Code,
		&definition.ProjectID,
		&definition.Name,
		&definition.Description,
		&definition.TenantCode,
		&definition.TimeoutSeconds,
		&definition.ReleaseState,
		&definition.CurrentVersion,
		&definition.Owner,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&globalParametersJSON,
		&layoutJSON,
		&tasksJSON,
		&relationsJSON,
	)
	if err != nil {
		return nil, err
	}

	err = unmarshalAll(
		jsonField{globalParametersJSON, &definition.GlobalParameters, "global parameters"},
		jsonField{layoutJSON, &definition.Layout, "layout"},
		jsonField{tasksJSON, &definition.Tasks, "tasks"},
		jsonField{relationsJSON, &definition.Relations, "relations"},
	)
	if err != nil {
		return nil, err
	}

	return &definition, nil
}

func scanVersion(row scanner) (*models.DefinitionVersion, error) {
	var (
		version              models.DefinitionVersion
		globalParametersJSON []byte
		layoutJSON           []byte
		tasksJSON            []byte
		relationsJSON        []byte
	)

	err := row.Scan(
		&version.Code,
		&version.Version,
		&version.Name,
		&version.Description,
		&globalParametersJSON,
		&version.TimeoutSeconds,
		&version.TenantCode,
		&layoutJSON,
		&tasksJSON,
		&relationsJSON,
		&version.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = unmarshalAll(
		jsonField{globalParametersJSON, &version.GlobalParameters, "global parameters"},
		jsonField{layoutJSON, &version.Layout, "layout"},
		jsonField{tasksJSON, &version.Tasks, "tasks"},
		jsonField{relationsJSON, &version.Relations, "relations"},
	)
	if err != nil {
		return nil, err
	}

	return &version, nil
}

type jsonField struct {
	raw    []byte
	target any
	name   string
}

func unmarshalAll(fields ...jsonField) error {
	for _, field := range fields {
		if len(field.raw) == 0 || string(field.raw) == "null" {
			continue
		}

		if err := json.Unmarshal(field.raw, field.target); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", field.name, err)
		}
	}

	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return make([]T, 0)
	}

	return items
}
