package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dukex/flowdef/pkg/events"
	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	// BatchConcurrency bounds how many codes of one batch are processed at the same time.
	BatchConcurrency = 8
	// MaxBatchSize bounds the number of codes accepted by one copy or move request.
	MaxBatchSize = 100

	copySuffix       = "_copy"
	copyNameAttempts = 5
)

// CopyResult is the outcome of copying one definition.
type CopyResult struct {
	SourceCode int64
	NewCode    int64
	Name       string
	Err        error
}

// MoveResult is the outcome of moving one definition.
type MoveResult struct {
	Code int64
	Err  error
}

// Migration copies and moves definitions between projects. Every code of a batch succeeds or
// fails on its own.
type Migration struct {
	base
}

// NewMigration creates a new migration service.
func NewMigration(deps Dependencies) *Migration {
	return &Migration{base: newBase(deps, "migration_service")}
}

// Copy duplicates each definition into targetProject under fresh codes, as DRAFT version 1.
// Results follow the order of codes.
func (m *Migration) Copy(ctx context.Context, codes []int64, sourceProject, targetProject string) (_ []CopyResult, err error) {
	const op = "Copy"

	ctx, span := m.start(ctx, "migration.copy",
		attribute.String(otelhelper.ProjectIDKey, sourceProject),
		attribute.String(otelhelper.TargetProjectIDKey, targetProject),
		attribute.Int(otelhelper.BatchSizeKey, len(codes)),
	)
	defer func() { span.end(err) }()

	if err := m.checkBatch(ctx, op, codes, targetProject); err != nil {
		return nil, err
	}

	results := make([]CopyResult, len(codes))
	prepared := make([]*models.WorkflowDefinition, len(codes))

	m.fanOut(ctx, len(codes), func(ctx context.Context, i int) {
		prepared[i], results[i].Err = m.prepareCopy(ctx, codes[i], sourceProject)
		results[i].SourceCode = codes[i]
	})

	// Names are claimed in input order so they depend only on the names already in the target.
	for i, copied := range prepared {
		if results[i].Err == nil {
			results[i] = m.commitCopy(ctx, codes[i], copied, sourceProject, targetProject)
		}

		m.metrics.ObserveBatchItem("migration.copy", outcome(results[i].Err))
	}

	return results, nil
}

// Move reassigns each definition to targetProject, keeping its code and version history. A name
// already used in the target fails that code with ErrNameCollision.
func (m *Migration) Move(ctx context.Context, codes []int64, sourceProject, targetProject string) (_ []MoveResult, err error) {
	const op = "Move"

	ctx, span := m.start(ctx, "migration.move",
		attribute.String(otelhelper.ProjectIDKey, sourceProject),
		attribute.String(otelhelper.TargetProjectIDKey, targetProject),
		attribute.Int(otelhelper.BatchSizeKey, len(codes)),
	)
	defer func() { span.end(err) }()

	if err := m.checkBatch(ctx, op, codes, targetProject); err != nil {
		return nil, err
	}

	results := make([]MoveResult, len(codes))

	m.fanOut(ctx, len(codes), func(ctx context.Context, i int) {
		err := m.moveOne(ctx, codes[i], sourceProject, targetProject)
		m.metrics.ObserveBatchItem("migration.move", outcome(err))
		results[i] = MoveResult{Code: codes[i], Err: err}
	})

	return results, nil
}

func (m *Migration) checkBatch(ctx context.Context, op string, codes []int64, targetProject string) error {
	if len(codes) == 0 || len(codes) > MaxBatchSize {
		return NewValidationError(op, "INVALID_BATCH",
			fmt.Sprintf("between 1 and %d codes are required", MaxBatchSize), ErrInvalidRequest)
	}

	return m.checkProject(ctx, op, targetProject)
}

// fanOut calls f for every index with bounded concurrency. f records its own outcome.
func (m *Migration) fanOut(ctx context.Context, n int, f func(context.Context, int)) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(BatchConcurrency)

	for i := range n {
		g.Go(func() error {
			f(ctx, i)

			return nil
		})
	}

	_ = g.Wait()
}

// prepareCopy loads and remaps one source definition. The copy carries the source name until
// commitCopy picks the name it is stored under.
func (m *Migration) prepareCopy(ctx context.Context, code int64, sourceProject string) (*models.WorkflowDefinition, error) {
	const op = "Copy"

	source, err := m.load(ctx, op, code)
	if err != nil {
		return nil, err
	}

	if source.ProjectID != sourceProject {
		return nil, notFound(op, code)
	}

	copied, err := m.remap(ctx, op, source)
	if err != nil {
		return nil, err
	}

	if err := m.validator.Validate(copied.Tasks, copied.Relations); err != nil {
		return nil, invalidGraph(op, err)
	}

	copied.Name = source.Name

	return copied, nil
}

func (m *Migration) commitCopy(ctx context.Context, code int64, copied *models.WorkflowDefinition, sourceProject, targetProject string) CopyResult {
	const op = "Copy"

	result := CopyResult{SourceCode: code}
	baseName := copied.Name
	copied.ProjectID = targetProject

	var err error

	for range copyNameAttempts {
		copied.Name, err = m.freeName(ctx, op, targetProject, baseName)
		if err != nil {
			result.Err = err

			return result
		}

		now := m.now()
		copied.CreatedAt = now
		copied.UpdatedAt = now

		err = m.repo().Create(ctx, copied, copied.Snapshot(1, now))
		if err == nil {
			break
		}

		err = mapPersistenceError(op, err)
		if !errors.Is(err, ErrNameExists) {
			result.Err = err

			return result
		}
	}

	if err != nil {
		result.Err = err

		return result
	}

	result.NewCode = copied.Code
	result.Name = copied.Name

	m.logger.InfoContext(ctx, "Definition copied",
		"code", code, "new_code", copied.Code, "project_id", sourceProject, "target_project_id", targetProject)
	m.publish(ctx, copied.Code, events.DefinitionCopied{
		BaseEvent:     events.NewBaseEvent(events.DefinitionCopiedEvent, copied.Code, targetProject),
		SourceCode:    code,
		SourceProject: sourceProject,
		Name:          copied.Name,
	})

	return result
}

// remap builds an independent DRAFT copy of source: every code is allocated before any content is
// rewritten, then relations, condition predicates and layout keys follow the substitution.
func (m *Migration) remap(ctx context.Context, op string, source *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	definitionCode, err := m.codes.NewCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to allocate definition code: %w", op, err)
	}

	substitution := make(map[int64]int64, len(source.Tasks))

	for _, task := range source.Tasks {
		code, err := m.codes.NewCode(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to allocate task code: %w", op, err)
		}

		substitution[task.Code] = code
	}

	translate := func(code int64) int64 {
		if next, ok := substitution[code]; ok {
			return next
		}

		return code
	}

	tasks := make([]*models.TaskNode, 0, len(source.Tasks))

	for _, task := range source.Tasks {
		clone := task.Clone()
		clone.Code = translate(task.Code)
		clone.Version = 1
		tasks = append(tasks, clone)
	}

	relations := make([]*models.DependencyEdge, 0, len(source.Relations))

	for _, relation := range source.Relations {
		clone := relation.Clone()
		if !clone.IsRoot() {
			clone.PreTaskCode = translate(relation.PreTaskCode)
		}

		clone.PostTaskCode = translate(relation.PostTaskCode)

		clone.ConditionParams, err = remapPredicates(clone.ConditionParams, translate)
		if err != nil {
			return nil, graphParamsError(op, clone, err)
		}

		relations = append(relations, clone)
	}

	stampRelationVersions(tasks, relations)

	var layout models.Layout
	if source.Layout != nil {
		layout = make(models.Layout, len(source.Layout))

		for key, point := range source.Layout {
			if old, err := strconv.ParseInt(key, 10, 64); err == nil {
				key = strconv.FormatInt(translate(old), 10)
			}

			layout[key] = point
		}
	}

	return &models.WorkflowDefinition{
		Code:             definitionCode,
		Description:      source.Description,
		GlobalParameters: append([]models.GlobalParameter(nil), source.GlobalParameters...),
		TimeoutSeconds:   source.TimeoutSeconds,
		TenantCode:       source.TenantCode,
		Layout:           layout,
		ReleaseState:     models.ReleaseStateDraft,
		CurrentVersion:   1,
		Owner:            source.Owner,
		Tasks:            tasks,
		Relations:        relations,
	}, nil
}

func remapPredicates(raw json.RawMessage, translate func(int64) int64) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return raw, nil
	}

	var params models.ConditionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}

	if len(params.Predicates) == 0 {
		return raw, nil
	}

	for i := range params.Predicates {
		params.Predicates[i].TaskCode = translate(params.Predicates[i].TaskCode)
	}

	return json.Marshal(params)
}

func graphParamsError(op string, edge *models.DependencyEdge, err error) *ServiceError {
	return invalidGraph(op, fmt.Errorf("condition of edge %d->%d: %w", edge.PreTaskCode, edge.PostTaskCode, err))
}

// freeName keeps name when the project does not use it, otherwise the first free of name_copy,
// name_copy_1, name_copy_2 and so on.
func (m *Migration) freeName(ctx context.Context, op, projectID, name string) (string, error) {
	candidate := name

	for i := 0; ; i++ {
		taken, err := m.repo().NameTaken(ctx, projectID, candidate, 0)
		if err != nil {
			return "", mapPersistenceError(op, err)
		}

		if !taken {
			return candidate, nil
		}

		candidate = name + copySuffix
		if i > 0 {
			candidate += "_" + strconv.Itoa(i)
		}
	}
}

func (m *Migration) moveOne(ctx context.Context, code int64, sourceProject, targetProject string) error {
	const op = "Move"

	return m.withCodeLock(ctx, op, code, func(ctx context.Context) error {
		definition, err := m.load(ctx, op, code)
		if err != nil {
			return err
		}

		if definition.ProjectID != sourceProject {
			return notFound(op, code)
		}

		if sourceProject == targetProject {
			return nil
		}

		taken, err := m.repo().NameTaken(ctx, targetProject, definition.Name, code)
		if err != nil {
			return mapPersistenceError(op, err)
		}

		if taken {
			return nameCollision(op, targetProject, definition.Name)
		}

		if err := m.repo().Move(ctx, code, targetProject); err != nil {
			err = mapPersistenceError(op, err)
			if errors.Is(err, ErrNameExists) {
				return nameCollision(op, targetProject, definition.Name)
			}

			return err
		}

		m.logger.InfoContext(ctx, "Definition moved", "code", code, "project_id", sourceProject, "target_project_id", targetProject)
		m.publish(ctx, code, events.DefinitionMoved{
			BaseEvent:     events.NewBaseEvent(events.DefinitionMovedEvent, code, targetProject),
			SourceProject: sourceProject,
		})

		return nil
	})
}

func nameCollision(op, projectID, name string) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    "NAME_COLLISION",
		Message: fmt.Sprintf("project %q already has a definition named %q", projectID, name),
		Err:     ErrNameCollision,
	}
}
