package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/flowdef/pkg/events"
	"github.com/dukex/flowdef/pkg/graph"
	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/otelhelper"
	"github.com/dukex/flowdef/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxCodeBatch    = 100
)

// Definition creates, edits, lists and removes workflow definitions.
type Definition struct {
	base

	validate *validator.Validate
}

// NewDefinition creates a new definition service.
func NewDefinition(deps Dependencies) *Definition {
	return &Definition{
		base:     newBase(deps, "definition_service"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateDefinitionRequest carries the content of a new definition. Tasks submitted with code 0
// receive a fresh code.
type CreateDefinitionRequest struct {
	ProjectID        string                   `json:"project_id"        validate:"required,max=255"`
	Name             string                   `json:"name"              validate:"required,max=255"`
	Description      string                   `json:"description"`
	GlobalParameters []models.GlobalParameter `json:"global_parameters" validate:"dive"`
	Tasks            []*models.TaskNode       `json:"tasks"             validate:"required,min=1,dive,required"`
	Relations        []*models.DependencyEdge `json:"relations"         validate:"dive,required"`
	Layout           models.Layout            `json:"layout"`
	TimeoutSeconds   int                      `json:"timeout_seconds"   validate:"min=0"`
	TenantCode       string                   `json:"tenant_code"       validate:"max=255"`
	Owner            string                   `json:"owner"             validate:"max=255"`
}

// UpdateDefinitionRequest replaces the content of a definition. A non-nil ReleaseState is applied
// in the same write as the new version.
type UpdateDefinitionRequest struct {
	Name             string                   `json:"name"              validate:"required,max=255"`
	Description      string                   `json:"description"`
	GlobalParameters []models.GlobalParameter `json:"global_parameters" validate:"dive"`
	Tasks            []*models.TaskNode       `json:"tasks"             validate:"required,min=1,dive,required"`
	Relations        []*models.DependencyEdge `json:"relations"         validate:"dive,required"`
	Layout           models.Layout            `json:"layout"`
	TimeoutSeconds   int                      `json:"timeout_seconds"   validate:"min=0"`
	TenantCode       string                   `json:"tenant_code"       validate:"max=255"`
	ReleaseState     *models.ReleaseState     `json:"release_state"`
}

// ListDefinitionsRequest contains options for listing a project's definitions.
type ListDefinitionsRequest struct {
	ProjectID string `validate:"required"`
	Search    string
	Owner     string
	Page      int `validate:"min=0"`
	PageSize  int `validate:"min=0,max=100"`
}

// ListDefinitionsResponse contains one page of definitions.
type ListDefinitionsResponse struct {
	Definitions []*models.WorkflowDefinition `json:"definitions"`
	TotalCount  int64                        `json:"total_count"`
	Page        int                          `json:"page"`
	PageSize    int                          `json:"page_size"`
	HasNextPage bool                         `json:"has_next_page"`
}

// Exporter receives fully resolved definitions, for example to serialize them to a file.
type Exporter interface {
	Export(ctx context.Context, definitions []*models.WorkflowDefinition) error
}

// Create validates and stores a new definition as DRAFT version 1.
func (d *Definition) Create(ctx context.Context, req CreateDefinitionRequest) (_ *models.WorkflowDefinition, err error) {
	const op = "Create"

	ctx, span := d.start(ctx, "definition.create",
		attribute.String(otelhelper.ProjectIDKey, req.ProjectID),
		attribute.String(otelhelper.DefinitionNameKey, req.Name),
	)
	defer func() { span.end(err) }()

	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.Name = strings.TrimSpace(req.Name)
	req.TenantCode = strings.TrimSpace(req.TenantCode)

	if err := d.validateRequest(op, req); err != nil {
		return nil, err
	}

	if err := d.checkProject(ctx, op, req.ProjectID); err != nil {
		return nil, err
	}

	if err := d.checkTenant(ctx, op, req.TenantCode); err != nil {
		return nil, err
	}

	taken, err := d.repo().NameTaken(ctx, req.ProjectID, req.Name, 0)
	if err != nil {
		return nil, mapPersistenceError(op, err)
	}

	if taken {
		return nil, nameExists(op, req.ProjectID, req.Name)
	}

	tasks, relations, err := d.normalizeGraph(ctx, op, req.Tasks, req.Relations)
	if err != nil {
		return nil, err
	}

	if err := d.validator.Validate(tasks, relations); err != nil {
		return nil, invalidGraph(op, err)
	}

	if err := d.checkTaskCodes(ctx, op, nil, tasks); err != nil {
		return nil, err
	}

	stampTaskVersions(nil, tasks)
	stampRelationVersions(tasks, relations)

	code, err := d.codes.NewCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to allocate definition code: %w", op, err)
	}

	now := d.now()
	definition := &models.WorkflowDefinition{
		Code:             code,
		ProjectID:        req.ProjectID,
		Name:             req.Name,
		Description:      req.Description,
		GlobalParameters: req.GlobalParameters,
		TimeoutSeconds:   req.TimeoutSeconds,
		TenantCode:       req.TenantCode,
		Layout:           req.Layout,
		ReleaseState:     models.ReleaseStateDraft,
		CurrentVersion:   1,
		Owner:            req.Owner,
		CreatedAt:        now,
		UpdatedAt:        now,
		Tasks:            tasks,
		Relations:        relations,
	}

	err = d.repo().Create(ctx, definition, definition.Snapshot(1, now))
	if err != nil {
		return nil, mapPersistenceError(op, err)
	}

	d.logger.InfoContext(ctx, "Definition created", "code", code, "version", 1, "project_id", req.ProjectID)
	d.publish(ctx, code, events.DefinitionCreated{
		BaseEvent: events.NewBaseEvent(events.DefinitionCreatedEvent, code, req.ProjectID),
		Name:      definition.Name,
		Version:   1,
	})

	return definition, nil
}

// Update validates the new content and appends it as the next version. The graph is checked
// before the name and the requested release transition.
func (d *Definition) Update(ctx context.Context, code int64, req UpdateDefinitionRequest) (_ *models.WorkflowDefinition, err error) {
	const op = "Update"

	ctx, span := d.start(ctx, "definition.update", attribute.Int64(otelhelper.DefinitionCodeKey, code))
	defer func() { span.end(err) }()

	req.Name = strings.TrimSpace(req.Name)
	req.TenantCode = strings.TrimSpace(req.TenantCode)

	if err := d.validateRequest(op, req); err != nil {
		return nil, err
	}

	if req.ReleaseState != nil && !req.ReleaseState.Valid() {
		return nil, NewValidationError(op, "INVALID_RELEASE_STATE",
			fmt.Sprintf("unknown release state %q", *req.ReleaseState), ErrInvalidRequest)
	}

	var updated *models.WorkflowDefinition

	err = d.withCodeLock(ctx, op, code, func(ctx context.Context) error {
		existing, err := d.load(ctx, op, code)
		if err != nil {
			return err
		}

		tasks, relations, err := d.normalizeGraph(ctx, op, req.Tasks, req.Relations)
		if err != nil {
			return err
		}

		if err := d.validator.Validate(tasks, relations); err != nil {
			return invalidGraph(op, err)
		}

		if err := d.checkTaskCodes(ctx, op, existing.Tasks, tasks); err != nil {
			return err
		}

		if err := d.checkTenant(ctx, op, req.TenantCode); err != nil {
			return err
		}

		if req.Name != existing.Name {
			taken, err := d.repo().NameTaken(ctx, existing.ProjectID, req.Name, code)
			if err != nil {
				return mapPersistenceError(op, err)
			}

			if taken {
				return nameExists(op, existing.ProjectID, req.Name)
			}
		}

		target := existing.ReleaseState
		if req.ReleaseState != nil {
			target = *req.ReleaseState
			if err := checkTransition(op, existing.ReleaseState, target); err != nil {
				return err
			}
		}

		latest, err := d.repo().MaxVersion(ctx, code)
		if err != nil {
			return mapPersistenceError(op, err)
		}

		stampTaskVersions(existing.Tasks, tasks)
		stampRelationVersions(tasks, relations)

		now := d.now()
		next := *existing
		next.Name = req.Name
		next.Description = req.Description
		next.GlobalParameters = req.GlobalParameters
		next.TimeoutSeconds = req.TimeoutSeconds
		next.TenantCode = req.TenantCode
		next.Layout = req.Layout
		next.ReleaseState = target
		next.CurrentVersion = latest + 1
		next.UpdatedAt = now
		next.Tasks = tasks
		next.Relations = relations

		err = d.repo().AppendVersion(ctx, &next, next.Snapshot(next.CurrentVersion, now), latest)
		if err != nil {
			return mapPersistenceError(op, err)
		}

		d.logger.InfoContext(ctx, "Definition updated", "code", code, "version", next.CurrentVersion, "project_id", next.ProjectID)
		d.publish(ctx, code, events.DefinitionUpdated{
			BaseEvent:       events.NewBaseEvent(events.DefinitionUpdatedEvent, code, next.ProjectID),
			Name:            next.Name,
			Version:         next.CurrentVersion,
			PreviousVersion: existing.CurrentVersion,
		})

		if target != existing.ReleaseState {
			d.publish(ctx, code, events.DefinitionReleased{
				BaseEvent: events.NewBaseEvent(events.DefinitionReleasedEvent, code, next.ProjectID),
				From:      existing.ReleaseState,
				To:        target,
				Version:   next.CurrentVersion,
			})
		}

		updated = &next

		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// VerifyName fails with ErrNameExists when the project already uses name.
func (d *Definition) VerifyName(ctx context.Context, projectID, name string) (err error) {
	const op = "VerifyName"

	ctx, span := d.start(ctx, "definition.verify_name", attribute.String(otelhelper.ProjectIDKey, projectID))
	defer func() { span.end(err) }()

	name = strings.TrimSpace(name)
	if projectID == "" || name == "" {
		return NewValidationError(op, "INVALID_NAME", "project and name are required", ErrInvalidRequest)
	}

	taken, err := d.repo().NameTaken(ctx, projectID, name, 0)
	if err != nil {
		return mapPersistenceError(op, err)
	}

	if taken {
		return nameExists(op, projectID, name)
	}

	return nil
}

// FetchByCode retrieves a definition with the content of its current version.
func (d *Definition) FetchByCode(ctx context.Context, code int64) (_ *models.WorkflowDefinition, err error) {
	ctx, span := d.start(ctx, "definition.get", attribute.Int64(otelhelper.DefinitionCodeKey, code))
	defer func() { span.end(err) }()

	return d.load(ctx, "FetchByCode", code)
}

// List retrieves a page of a project's definitions, most recently updated first.
func (d *Definition) List(ctx context.Context, req ListDefinitionsRequest) (_ *ListDefinitionsResponse, err error) {
	const op = "List"

	ctx, span := d.start(ctx, "definition.list", attribute.String(otelhelper.ProjectIDKey, req.ProjectID))
	defer func() { span.end(err) }()

	if err := d.validateRequest(op, req); err != nil {
		return nil, err
	}

	page, pageSize := pageDefaults(req.Page, req.PageSize)

	result, err := d.repo().List(ctx, persistence.ListDefinitionsOptions{
		ProjectID: req.ProjectID,
		Search:    strings.TrimSpace(req.Search),
		Owner:     strings.TrimSpace(req.Owner),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	})
	if err != nil {
		return nil, mapPersistenceError(op, err)
	}

	return &ListDefinitionsResponse{
		Definitions: result.Definitions,
		TotalCount:  result.TotalCount,
		Page:        page,
		PageSize:    pageSize,
		HasNextPage: result.HasNextPage,
	}, nil
}

// ListAll returns every definition of a project, ordered by name.
func (d *Definition) ListAll(ctx context.Context, projectID string) (_ []*models.WorkflowDefinition, err error) {
	ctx, span := d.start(ctx, "definition.list_all", attribute.String(otelhelper.ProjectIDKey, projectID))
	defer func() { span.end(err) }()

	definitions, err := d.repo().ListAll(ctx, projectID)
	if err != nil {
		return nil, mapPersistenceError("ListAll", err)
	}

	return definitions, nil
}

// Delete removes a definition and its whole version log. ONLINE definitions cannot be deleted.
func (d *Definition) Delete(ctx context.Context, code int64) (err error) {
	const op = "Delete"

	ctx, span := d.start(ctx, "definition.delete", attribute.Int64(otelhelper.DefinitionCodeKey, code))
	defer func() { span.end(err) }()

	return d.withCodeLock(ctx, op, code, func(ctx context.Context) error {
		existing, err := d.load(ctx, op, code)
		if err != nil {
			return err
		}

		if existing.ReleaseState == models.ReleaseStateOnline {
			return &ServiceError{
				Op:      op,
				Code:    "DEFINITION_ONLINE",
				Message: fmt.Sprintf("workflow definition %d is online, take it offline first", code),
				Err:     ErrInUse,
			}
		}

		if err := d.repo().Delete(ctx, code); err != nil {
			return mapPersistenceError(op, err)
		}

		d.logger.InfoContext(ctx, "Definition deleted", "code", code, "project_id", existing.ProjectID)
		d.publish(ctx, code, events.DefinitionDeleted{
			BaseEvent: events.NewBaseEvent(events.DefinitionDeletedEvent, code, existing.ProjectID),
			Name:      existing.Name,
		})

		return nil
	})
}

// Resolve returns the fully materialized definition with its tasks in dependency order.
func (d *Definition) Resolve(ctx context.Context, code int64) (_ *models.WorkflowDefinition, err error) {
	ctx, span := d.start(ctx, "definition.resolve", attribute.Int64(otelhelper.DefinitionCodeKey, code))
	defer func() { span.end(err) }()

	definition, err := d.load(ctx, "Resolve", code)
	if err != nil {
		return nil, err
	}

	definition.Tasks = graph.TopologicalOrder(definition.Tasks, definition.Relations)

	return definition, nil
}

// Export resolves every code, in order, and hands the result to exporter. Codes that are unknown
// or owned by another project fail the whole export with ErrNotFound.
func (d *Definition) Export(ctx context.Context, projectID string, codes []int64, exporter Exporter) (err error) {
	const op = "Export"

	ctx, span := d.start(ctx, "definition.export",
		attribute.String(otelhelper.ProjectIDKey, projectID),
		attribute.Int(otelhelper.BatchSizeKey, len(codes)),
	)
	defer func() { span.end(err) }()

	if len(codes) == 0 {
		return NewValidationError(op, "EMPTY_CODES", "at least one code is required", ErrInvalidRequest)
	}

	if len(codes) > maxCodeBatch {
		return NewValidationError(op, "TOO_MANY_CODES",
			fmt.Sprintf("at most %d codes can be exported at once", maxCodeBatch), ErrInvalidRequest)
	}

	resolved := make([]*models.WorkflowDefinition, 0, len(codes))

	for _, code := range codes {
		definition, err := d.Resolve(ctx, code)
		if err != nil {
			return err
		}

		if definition.ProjectID != projectID {
			return notFound(op, code)
		}

		resolved = append(resolved, definition)
	}

	if err := exporter.Export(ctx, resolved); err != nil {
		return fmt.Errorf("%s: exporter failed: %w", op, err)
	}

	return nil
}

// GenerateCodes allocates count fresh codes for clients that wire relations before creating tasks.
func (d *Definition) GenerateCodes(ctx context.Context, count int) ([]int64, error) {
	const op = "GenerateCodes"

	if count < 1 || count > maxCodeBatch {
		return nil, NewValidationError(op, "INVALID_COUNT",
			fmt.Sprintf("count must be between 1 and %d", maxCodeBatch), ErrInvalidRequest)
	}

	codes := make([]int64, 0, count)

	for range count {
		code, err := d.codes.NewCode(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to allocate code: %w", op, err)
		}

		codes = append(codes, code)
	}

	return codes, nil
}

func (d *Definition) validateRequest(op string, req any) error {
	if err := d.validate.Struct(req); err != nil {
		return NewValidationError(op, "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	return nil
}

func nameExists(op, projectID, name string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "NAME_EXISTS",
		Message: fmt.Sprintf("project %q already has a definition named %q", projectID, name),
		Err:     ErrNameExists,
	}
}

func pageDefaults(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}

	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	return page, min(pageSize, maxPageSize)
}
