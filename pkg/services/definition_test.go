package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dukex/flowdef/pkg/config"
	"github.com/dukex/flowdef/pkg/events"
	"github.com/dukex/flowdef/pkg/graph"
	"github.com/dukex/flowdef/pkg/mocks"
	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/projects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDefinition_CreateAndFetch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	created, err := f.definition.Create(t.Context(), twoTaskRequest("test", "  dag_test  "))
	require.NoError(t, err)

	assert.NotZero(t, created.Code)
	assert.Equal(t, "dag_test", created.Name)
	assert.Equal(t, models.ReleaseStateDraft, created.ReleaseState)
	assert.Equal(t, 1, created.CurrentVersion)
	assert.Equal(t, "admin", created.Owner)

	fetched, err := f.definition.FetchByCode(t.Context(), created.Code)
	require.NoError(t, err)

	assert.Equal(t, created.Name, fetched.Name)
	assert.Equal(t, created.Description, fetched.Description)
	require.Len(t, fetched.Tasks, 2)
	require.Len(t, fetched.Relations, 2)

	for i, task := range fetched.Tasks {
		assert.Equal(t, created.Tasks[i].Code, task.Code)
		assert.Equal(t, 1, task.Version)
		assert.Equal(t, models.RunFlagNormal, task.RunFlag)
		assert.Equal(t, models.PriorityMedium, task.Priority)
	}

	assert.Equal(t, int64(101), fetched.Relations[1].PreTaskCode)
	assert.Equal(t, int64(102), fetched.Relations[1].PostTaskCode)
	assert.Equal(t, 1, fetched.Relations[1].PreTaskVersion)

	published := f.events.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.DefinitionCreatedEvent, published[0].GetType())
}

func TestDefinition_Create_AllocatesMissingTaskCodes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	req := twoTaskRequest("test", "fresh")
	req.Tasks = []*models.TaskNode{{Name: "only", Type: models.TaskTypeHTTP}}
	req.Relations = nil
	req.Layout = nil

	created, err := f.definition.Create(t.Context(), req)
	require.NoError(t, err)

	require.Len(t, created.Tasks, 1)
	assert.NotZero(t, created.Tasks[0].Code)
	assert.NotEqual(t, created.Code, created.Tasks[0].Code)
	assert.Zero(t, req.Tasks[0].Code, "request tasks must not be mutated")
}

func TestDefinition_Create_Rejected(t *testing.T) {
	t.Parallel()

	registry := projects.NewRegistry(config.ProjectsFile{
		Projects: []config.ProjectConfig{{ID: "test", Name: "Test"}},
		Tenants:  []config.TenantConfig{{Code: "default"}},
	})

	tests := []struct {
		name   string
		mutate func(req *CreateDefinitionRequest)
		want   error
	}{
		{
			name:   "missing name",
			mutate: func(req *CreateDefinitionRequest) { req.Name = "   " },
			want:   ErrInvalidRequest,
		},
		{
			name:   "no tasks",
			mutate: func(req *CreateDefinitionRequest) { req.Tasks = nil },
			want:   ErrInvalidRequest,
		},
		{
			name:   "unknown project",
			mutate: func(req *CreateDefinitionRequest) { req.ProjectID = "other" },
			want:   ErrUnknownProject,
		},
		{
			name:   "unknown tenant",
			mutate: func(req *CreateDefinitionRequest) { req.TenantCode = "nobody" },
			want:   ErrUnknownTenant,
		},
		{
			name: "cycle",
			mutate: func(req *CreateDefinitionRequest) {
				req.Relations = append(req.Relations, &models.DependencyEdge{PreTaskCode: 102, PostTaskCode: 101})
			},
			want: graph.ErrCycleDetected,
		},
		{
			name: "dangling edge",
			mutate: func(req *CreateDefinitionRequest) {
				req.Relations = append(req.Relations, &models.DependencyEdge{PreTaskCode: 102, PostTaskCode: 999})
			},
			want: graph.ErrDanglingEdge,
		},
		{
			name: "duplicate task code",
			mutate: func(req *CreateDefinitionRequest) {
				req.Tasks = append(req.Tasks, &models.TaskNode{Code: 101, Name: "again", Type: models.TaskTypeHTTP})
			},
			want: graph.ErrDuplicateTaskCode,
		},
		{
			name: "malformed condition",
			mutate: func(req *CreateDefinitionRequest) {
				req.Relations[1].ConditionType = models.ConditionTypeAnd
				req.Relations[1].ConditionParams = []byte(`{"predicates":[]}`)
			},
			want: graph.ErrMalformedCondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			deps := f.deps
			deps.Projects = registry
			service := NewDefinition(deps)

			req := twoTaskRequest("test", "rejected")
			tt.mutate(&req)

			_, err := service.Create(t.Context(), req)
			require.Error(t, err)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidationError(err))

			all, err := service.ListAll(t.Context(), "test")
			require.NoError(t, err)
			assert.Empty(t, all)
			assert.Empty(t, f.events.Published())
		})
	}
}

func TestDefinition_Create_GraphErrorsAreInvalidGraph(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	req := twoTaskRequest("test", "cyclic")
	req.Relations = append(req.Relations, &models.DependencyEdge{PreTaskCode: 102, PostTaskCode: 101})

	_, err := f.definition.Create(t.Context(), req)
	require.ErrorIs(t, err, ErrInvalidGraph)

	var graphErr *graph.Error
	require.ErrorAs(t, err, &graphErr)
	assert.Subset(t, graphErr.Nodes, []int64{101, 102})
}

func TestDefinition_Create_NameExists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.create(t, "test", "dag_test")

	_, err := f.definition.Create(t.Context(), twoTaskRequest("test", "dag_test"))
	require.ErrorIs(t, err, ErrNameExists)
	assert.True(t, IsConflictError(err))
	assert.Equal(t, "NAME_EXISTS", ErrorCode(err))

	_, err = f.definition.Create(t.Context(), twoTaskRequest("other", "dag_test"))
	require.NoError(t, err, "names are scoped to a project")
}

func TestDefinition_VerifyName(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.create(t, "test", "dag_test")

	require.ErrorIs(t, f.definition.VerifyName(t.Context(), "test", "dag_test"), ErrNameExists)
	require.NoError(t, f.definition.VerifyName(t.Context(), "test", "another"))
	require.NoError(t, f.definition.VerifyName(t.Context(), "other", "dag_test"))
	require.ErrorIs(t, f.definition.VerifyName(t.Context(), "test", " "), ErrInvalidRequest)
}

func TestDefinition_FetchByCode_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.definition.FetchByCode(t.Context(), 42)
	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFoundError(err))
}

func TestDefinition_Update(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	created := f.create(t, "test", "dag_test")

	req := updateFrom(created)
	req.Description = "changed"
	req.Tasks[1].Description = "edited T2"
	req.Tasks = append(req.Tasks, &models.TaskNode{Name: "T3", Type: models.TaskTypeHTTP})

	updated, err := f.definition.Update(t.Context(), created.Code, req)
	require.NoError(t, err)

	assert.Equal(t, 2, updated.CurrentVersion)
	assert.Equal(t, "changed", updated.Description)
	require.Len(t, updated.Tasks, 3)
	assert.Equal(t, 1, updated.Tasks[0].Version, "unchanged task keeps its version")
	assert.Equal(t, 2, updated.Tasks[1].Version, "edited task gets a new version")
	assert.Equal(t, 1, updated.Tasks[2].Version, "new task starts at 1")
	assert.NotZero(t, updated.Tasks[2].Code)
	assert.Equal(t, 2, updated.Relations[1].PostTaskVersion)

	fetched, err := f.definition.FetchByCode(t.Context(), created.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, fetched.CurrentVersion)
	assert.Equal(t, "changed", fetched.Description)

	versions, err := f.lifecycle.ListVersions(t.Context(), created.Code, 1, 10)
	require.NoError(t, err)
	require.Len(t, versions.Versions, 2)
	assert.Equal(t, 2, versions.Versions[0].Version)
	assert.Equal(t, "desc test", versions.Versions[1].Description, "history is never rewritten")
}

func TestDefinition_Update_Rename(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.create(t, "test", "first")
	f.create(t, "test", "second")

	req := updateFrom(first)
	req.Name = "second"

	_, err := f.definition.Update(t.Context(), first.Code, req)
	require.ErrorIs(t, err, ErrNameExists)

	req.Name = "renamed"
	updated, err := f.definition.Update(t.Context(), first.Code, req)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	require.NoError(t, f.definition.VerifyName(t.Context(), "test", "first"))
}

func TestDefinition_Update_ValidatesGraphBeforeTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	created := f.create(t, "test", "dag_test")

	_, err := f.lifecycle.SetReleaseState(t.Context(), created.Code, models.ReleaseStateOnline)
	require.NoError(t, err)

	draft := models.ReleaseStateDraft
	req := updateFrom(created)
	req.ReleaseState = &draft
	req.Relations = append(req.Relations, &models.DependencyEdge{PreTaskCode: 102, PostTaskCode: 101})

	_, err = f.definition.Update(t.Context(), created.Code, req)
	require.ErrorIs(t, err, graph.ErrCycleDetected)

	req = updateFrom(created)
	req.ReleaseState = &draft

	_, err = f.definition.Update(t.Context(), created.Code, req)
	require.ErrorIs(t, err, ErrInvalidTransition)

	offline := models.ReleaseStateOffline
	req.ReleaseState = &offline

	updated, err := f.definition.Update(t.Context(), created.Code, req)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStateOffline, updated.ReleaseState)
	assert.Equal(t, 2, updated.CurrentVersion)
}

func TestDefinition_Update_ConcurrentVersionsAreDistinct(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	created := f.create(t, "test", "dag_test")

	const writers = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []int
		failures []error
	)

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			req := updateFrom(created)
			req.Description = "writer " + string(rune('a'+i))

			updated, err := f.definition.Update(context.Background(), created.Code, req)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failures = append(failures, err)

				return
			}

			versions = append(versions, updated.CurrentVersion)
		}()
	}

	wg.Wait()

	require.NotEmpty(t, versions)

	seen := make(map[int]bool, len(versions))
	for _, version := range versions {
		assert.False(t, seen[version], "version %d assigned twice", version)
		seen[version] = true
	}

	for _, err := range failures {
		assert.ErrorIs(t, err, ErrConflict)
		assert.True(t, IsRetryable(err))
	}

	latest, err := f.deps.Persistence.DefinitionRepository().MaxVersion(t.Context(), created.Code)
	require.NoError(t, err)
	assert.Equal(t, 1+len(versions), latest)
}

func TestDefinition_List(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, name := range []string{"alpha", "beta", "gamma", "Alphabet"} {
		f.create(t, "test", name)
	}

	f.create(t, "other", "alpha")

	page, err := f.definition.List(t.Context(), ListDefinitionsRequest{ProjectID: "test", PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.TotalCount)
	assert.Len(t, page.Definitions, 3)
	assert.True(t, page.HasNextPage)
	assert.Equal(t, 1, page.Page)

	found, err := f.definition.List(t.Context(), ListDefinitionsRequest{ProjectID: "test", Search: "ALPHA"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.TotalCount)
	assert.Equal(t, defaultPageSize, found.PageSize)

	_, err = f.definition.List(t.Context(), ListDefinitionsRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)

	all, err := f.definition.ListAll(t.Context(), "test")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDefinition_Delete(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	created := f.create(t, "test", "dag_test")

	_, err := f.lifecycle.SetReleaseState(t.Context(), created.Code, models.ReleaseStateOnline)
	require.NoError(t, err)

	err = f.definition.Delete(t.Context(), created.Code)
	require.ErrorIs(t, err, ErrInUse)

	_, err = f.lifecycle.SetReleaseState(t.Context(), created.Code, models.ReleaseStateOffline)
	require.NoError(t, err)

	require.NoError(t, f.definition.Delete(t.Context(), created.Code))

	_, err = f.definition.FetchByCode(t.Context(), created.Code)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, f.definition.Delete(t.Context(), created.Code), ErrNotFound)
}

type captureExporter struct {
	exported []*models.WorkflowDefinition
}

func (c *captureExporter) Export(_ context.Context, definitions []*models.WorkflowDefinition) error {
	c.exported = definitions

	return nil
}

func TestDefinition_Export(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.create(t, "test", "first")
	second := f.create(t, "test", "second")
	foreign := f.create(t, "other", "foreign")

	exporter := &captureExporter{}
	require.NoError(t, f.definition.Export(t.Context(), "test", []int64{second.Code, first.Code}, exporter))
	require.Len(t, exporter.exported, 2)
	assert.Equal(t, second.Code, exporter.exported[0].Code)
	assert.Equal(t, int64(101), exporter.exported[0].Tasks[0].Code)

	err := f.definition.Export(t.Context(), "test", []int64{first.Code, foreign.Code}, &captureExporter{})
	require.ErrorIs(t, err, ErrNotFound)

	err = f.definition.Export(t.Context(), "test", nil, &captureExporter{})
	require.ErrorIs(t, err, ErrInvalidRequest)

	tooMany := make([]int64, maxCodeBatch+1)
	for i := range tooMany {
		tooMany[i] = first.Code
	}

	exporter = &captureExporter{}
	err = f.definition.Export(t.Context(), "test", tooMany, exporter)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, exporter.exported)
}

func TestDefinition_RejectsTaskCodeOfDefinition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	existing := f.create(t, "test", "existing")

	aliasing := func() ([]*models.TaskNode, []*models.DependencyEdge) {
		return []*models.TaskNode{
				{Code: existing.Code, Name: "T1", Type: models.TaskTypeHTTP},
			}, []*models.DependencyEdge{
				{PreTaskCode: 0, PostTaskCode: existing.Code, ConditionType: models.ConditionTypeNone},
			}
	}

	req := twoTaskRequest("test", "aliasing")
	req.Tasks, req.Relations = aliasing()
	req.Layout = nil

	_, err := f.definition.Create(t.Context(), req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, "TASK_CODE_IN_USE", ErrorCode(err))

	update := updateFrom(existing)
	update.Tasks, update.Relations = aliasing()
	update.Layout = nil

	_, err = f.definition.Update(t.Context(), existing.Code, update)
	require.ErrorIs(t, err, ErrInvalidRequest)

	unchanged, err := f.definition.FetchByCode(t.Context(), existing.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, unchanged.CurrentVersion)
}

func TestDefinition_GenerateCodes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	codes, err := f.definition.GenerateCodes(t.Context(), 20)
	require.NoError(t, err)
	require.Len(t, codes, 20)

	unique := make(map[int64]struct{}, len(codes))
	for _, code := range codes {
		unique[code] = struct{}{}
	}

	assert.Len(t, unique, 20)

	for _, count := range []int{0, -1, maxCodeBatch + 1} {
		_, err := f.definition.GenerateCodes(t.Context(), count)
		require.ErrorIs(t, err, ErrInvalidRequest)
	}
}

func TestDefinition_PublishFailureDoesNotFailWrite(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	deps := f.deps
	deps.Events = bus
	service := NewDefinition(deps)

	created, err := service.Create(t.Context(), twoTaskRequest("test", "dag_test"))
	require.NoError(t, err)

	_, err = service.FetchByCode(t.Context(), created.Code)
	require.NoError(t, err)

	bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestDefinition_RepositoryFailureIsInternal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	repo := &mocks.MockDefinitionRepository{}
	repo.On("GetByCode", mock.Anything, int64(7)).Return(nil, errors.New("disk on fire"))

	deps := f.deps
	deps.Persistence = &mocks.MockPersistence{Definitions: repo}
	service := NewDefinition(deps)

	_, err := service.FetchByCode(t.Context(), 7)
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
	assert.False(t, IsNotFoundError(err))
	assert.False(t, IsConflictError(err))
	assert.Contains(t, err.Error(), "disk on fire")

	repo.AssertExpectations(t)
}

func TestDefinition_ProjectScopeIsCheckedUnderTheLock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	definition := f.create(t, "projA", "dag_test")

	results, err := f.migration.Move(t.Context(), []int64{definition.Code}, "projA", "projB")
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	stale := WithProject(t.Context(), "projA")

	_, err = f.definition.Update(stale, definition.Code, updateFrom(definition))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.lifecycle.SetReleaseState(stale, definition.Code, models.ReleaseStateOnline)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.lifecycle.SwitchVersion(stale, definition.Code, 1)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, f.lifecycle.DeleteVersion(stale, definition.Code, 1), ErrNotFound)
	require.ErrorIs(t, f.definition.Delete(stale, definition.Code), ErrNotFound)

	current, err := f.definition.FetchByCode(WithProject(t.Context(), "projB"), definition.Code)
	require.NoError(t, err)
	assert.Equal(t, "projB", current.ProjectID)
	assert.Equal(t, 1, current.CurrentVersion)
	assert.Equal(t, models.ReleaseStateDraft, current.ReleaseState)
}
