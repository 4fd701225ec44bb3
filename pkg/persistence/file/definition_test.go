package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefinition(code int64, projectID, name string) (*models.WorkflowDefinition, *models.DefinitionVersion) {
	now := time.Now().UTC()
	definition := &models.WorkflowDefinition{
		Code:           code,
		ProjectID:      projectID,
		Name:           name,
		Description:    "desc test",
		TenantCode:     "root",
		ReleaseState:   models.ReleaseStateDraft,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
		Tasks: []*models.TaskNode{
			{Code: code + 1, Version: 1, Name: "T1", Type: models.TaskTypeHTTP},
			{Code: code + 2, Version: 1, Name: "T2", Type: models.TaskTypeHTTP},
		},
		Relations: []*models.DependencyEdge{
			{PreTaskCode: code + 1, PreTaskVersion: 1, PostTaskCode: code + 2, PostTaskVersion: 1, ConditionType: models.ConditionTypeNone},
		},
		Layout: models.Layout{"1": {Label: "T1", X: 10, Y: 20}},
	}

	return definition, definition.Snapshot(1, now)
}

func TestNewPersistence(t *testing.T) {
	persistence := NewPersistence("/tmp/test")
	fp := persistence.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	persistence = NewPersistence("file:///tmp/test")
	fp = persistence.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.ErrorIs(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()), os.ErrNotExist)
}

func TestDefinitionRepository_CreateAndGet(t *testing.T) {
	repo := NewDefinitionRepository(t.TempDir())
	definition, version := newDefinition(100, "test", "dag_test")

	require.NoError(t, repo.Create(t.Context(), definition, version))

	fetched, err := repo.GetByCode(t.Context(), 100)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "dag_test", fetched.Name)
	assert.Equal(t, "desc test", fetched.Description)
	assert.Len(t, fetched.Tasks, 2)
	assert.Len(t, fetched.Relations, 1)
	assert.Equal(t, models.LayoutPoint{Label: "T1", X: 10, Y: 20}, fetched.Layout["1"])

	storedVersion, err := repo.GetVersion(t.Context(), 100, 1)
	require.NoError(t, err)
	require.NotNil(t, storedVersion)
	assert.Equal(t, 1, storedVersion.Version)

	missing, err := repo.GetByCode(t.Context(), 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = repo.Create(t.Context(), definition, version)
	require.ErrorIs(t, err, persistence.ErrDefinitionAlreadyExists)
}

func TestDefinitionRepository_Create_NameUniquePerProject(t *testing.T) {
	repo := NewDefinitionRepository(t.TempDir())

	first, firstVersion := newDefinition(100, "test", "dag_test")
	require.NoError(t, repo.Create(t.Context(), first, firstVersion))

	clash, clashVersion := newDefinition(200, "test", "dag_test")
	err := repo.Create(t.Context(), clash, clashVersion)
	require.ErrorIs(t, err, persistence.ErrNameExists)

	// Nothing of the rejected definition is visible.
	_, statErr := os.Stat(repo.versionDir(200))
	assert.True(t, os.IsNotExist(statErr))

	other, otherVersion := newDefinition(300, "other", "dag_test")
	require.NoError(t, repo.Create(t.Context(), other, otherVersion))
}

func TestDefinitionRepository_AppendVersion(t *testing.T) {
	repo := NewDefinitionRepository(t.TempDir())
	definition, version := newDefinition(100, "test", "dag_test")
	require.NoError(t, repo.Create(t.Context(), definition, version))

	definition.Description = "second"
	definition.CurrentVersion = 2
	second := definition.Snapshot(2, time.Now().UTC())

	require.NoError(t, repo.AppendVersion(t.Context(), definition, second, 1))

	latest, err := repo.MaxVersion(t.Context(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, latest)

	// A writer that still believes version 1 is the latest loses.
	stale := definition.Snapshot(2, time.Now().UTC())
	err = repo.AppendVersion(t.Context(), definition, stale, 1)
	require.ErrorIs(t, err, persistence.ErrConcurrentUpdate)

	err = repo.AppendVersion(t.Context(), &models.WorkflowDefinition{Code: 555}, &models.DefinitionVersion{Code: 555, Version: 2}, 1)
	require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
}

func TestDefinitionRepository_AppendVersion_Concurrent(t *testing.T) {
	repo := NewDefinitionRepository(t.TempDir())
	definition, version := newDefinition(100, "test", "dag_test")
	require.NoError(t, repo.Create(t.Context(), definition, version))

	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			next := *definition
			next.CurrentVersion = 2

			err := repo.AppendVersion(t.Context(), &next, next.Snapshot(2, time.Now().UTC()), 1)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				successes++
			} else if persistence.IsConcurrentUpdate(err) {
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, conflicts)
}

func TestDefinitionRepository_List(t *testing.T) {
	repo := NewDefinitionRepository(t.TempDir())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	names := []string{"Alpha", "beta", "ALPHABET", "gamma"}
	for i, name := range names {
		definition, version := newDefinition(int64(100*(i+1)), "test", name)
		definition.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		definition.Owner = "alice"

		if i == 3 {
			definition.Owner = "bob"
		}

		require.NoError(t, repo.Create(t.Context(), definition, version))
	}

	foreign, foreignVersion := newDefinition(900, "other", "alpha")
	require.NoError(t, repo.Create(t.Context(), foreign, foreignVersion))

	result, err := repo.List(t.Context(), persistence.ListDefinitionsOptions{ProjectID: "test", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.TotalCount)
	require.Len(t, result.Definitions, 4)
	assert.Equal(t, "gamma", result.Definitions[0].Name)
	assert.Equal(t, "Alpha", result.Definitions[3].Name)
	assert.Nil(t, result.Definitions[0].Tasks)

	result, err = repo.List(t.Context(), persistence.ListDefinitionsOptions{ProjectID: "test", Search: "alpha", Limit: 1, IncludeTasks: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Definitions, 1)
	assert.Equal(t, "ALPHABET", result.Definitions[0].Name)
	assert.Len(t, result.Definitions[0].Tasks, 2)

	result, err = repo.List(t.Context(), persistence.ListDefinitionsOptions{ProjectID: "test", Owner: "bob", Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Definitions, 1)
	assert.Equal(t, "gamma", result.Definitions[0].Name)

	all, err := repo.ListAll(t.Context(), "test")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDefinitionRepository_Versions(t *testing.T) {
	repo := NewDefinitionRepository(t.TempDir())
	definition, version := newDefinition(100, "test", "dag_test")
	require.NoError(t, repo.Create(t.Context(), definition, version))

	for v := 2; v <= 4; v++ {
		definition.Name = "dag_test_v" + string(rune('0'+v))
		definition.CurrentVersion = v
		require.NoError(t, repo.AppendVersion(t.Context(), definition, definition.Snapshot(v, time.Now().UTC()), v-1))
	}

	page, err := repo.ListVersions(t.Context(), 100, persistence.ListVersionsOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.TotalCount)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Versions, 2)
	assert.Equal(t, 4, page.Versions[0].Version)
	assert.Equal(t, 3, page.Versions[1].Version)

	require.NoError(t, repo.SwitchVersion(t.Context(), 100, 1))

	switched, err := repo.GetByCode(t.Context(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, switched.CurrentVersion)
	assert.Equal(t, "dag_test", switched.Name)

	err = repo.SwitchVersion(t.Context(), 100, 42)
	require.ErrorIs(t, err, persistence.ErrVersionNotFound)

	require.NoError(t, repo.DeleteVersion(t.Context(), 100, 3))
	err = repo.DeleteVersion(t.Context(), 100, 3)
	require.ErrorIs(t, err, persistence.ErrVersionNotFound)

	// The next append still uses max+1, never reusing a number.
	latest, err := repo.MaxVersion(t.Context(), 100)
	require.NoError(t, err)
	assert.Equal(t, 4, latest)
}

func TestDefinitionRepository_ReleaseState(t *testing.T) {
	repo := NewDefinitionRepository(t.TempDir())
	definition, version := newDefinition(100, "test", "dag_test")
	require.NoError(t, repo.Create(t.Context(), definition, version))

	require.NoError(t, repo.UpdateReleaseState(t.Context(), 100, models.ReleaseStateDraft, models.ReleaseStateOnline))

	err := repo.UpdateReleaseState(t.Context(), 100, models.ReleaseStateDraft, models.ReleaseStateOffline)
	require.ErrorIs(t, err, persistence.ErrConcurrentUpdate)

	fetched, err := repo.GetByCode(t.Context(), 100)
	require.NoError(t, err)
	assert.Equal(t, models.ReleaseStateOnline, fetched.ReleaseState)
}

func TestDefinitionRepository_MoveAndDelete(t *testing.T) {
	repo := NewDefinitionRepository(t.TempDir())

	definition, version := newDefinition(100, "source", "dag_test")
	require.NoError(t, repo.Create(t.Context(), definition, version))

	occupant, occupantVersion := newDefinition(200, "target", "dag_test")
	require.NoError(t, repo.Create(t.Context(), occupant, occupantVersion))

	err := repo.Move(t.Context(), 100, "target")
	require.ErrorIs(t, err, persistence.ErrNameExists)

	require.NoError(t, repo.Move(t.Context(), 100, "elsewhere"))

	moved, err := repo.GetByCode(t.Context(), 100)
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", moved.ProjectID)

	history, err := repo.ListVersions(t.Context(), 100, persistence.ListVersionsOptions{})
	require.NoError(t, err)
	assert.Len(t, history.Versions, 1)

	require.NoError(t, repo.Delete(t.Context(), 100))

	gone, err := repo.GetByCode(t.Context(), 100)
	require.NoError(t, err)
	assert.Nil(t, gone)

	gone2, err := repo.GetVersion(t.Context(), 100, 1)
	require.NoError(t, err)
	assert.Nil(t, gone2)

	err = repo.Delete(t.Context(), 100)
	require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
}

func TestDefinitionRepository_DeleteRemovesVersionsAndLeftovers(t *testing.T) {
	root := t.TempDir()
	repo := NewDefinitionRepository(root)

	definition, version := newDefinition(100, "test", "dag_test")
	require.NoError(t, repo.Create(t.Context(), definition, version))

	stale := filepath.Join(root, "versions", ".deleted-100")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "7.json"), []byte("{}"), 0o600))

	history, err := repo.ListVersions(t.Context(), 100, persistence.ListVersionsOptions{})
	require.NoError(t, err)
	assert.Len(t, history.Versions, 1, "a leftover of an earlier delete is not a version")

	require.NoError(t, repo.Delete(t.Context(), 100))

	entries, err := os.ReadDir(filepath.Join(root, "versions"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(filepath.Join(root, "definitions", "100.json"))
	assert.True(t, os.IsNotExist(err))

	all, err := repo.ListAll(t.Context(), "test")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDefinitionRepository_StoresReadableJSON(t *testing.T) {
	root := t.TempDir()
	repo := NewDefinitionRepository(root)

	definition, version := newDefinition(100, "test", "dag_test")
	require.NoError(t, repo.Create(t.Context(), definition, version))

	body, err := os.ReadFile(filepath.Join(root, "definitions", "100.json"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "dag_test", decoded["name"])
	assert.Equal(t, "DRAFT", decoded["release_state"])

	_, err = os.Stat(filepath.Join(root, "versions", "100", "1.json"))
	require.NoError(t, err)
}
