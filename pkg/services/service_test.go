package services

import (
	"context"
	"sync"
	"testing"

	"github.com/dukex/flowdef/pkg/codegen"
	"github.com/dukex/flowdef/pkg/eventbus"
	"github.com/dukex/flowdef/pkg/history"
	"github.com/dukex/flowdef/pkg/lock"
	"github.com/dukex/flowdef/pkg/metrics"
	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/persistence/file"
	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recordingPublisher) Published() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]eventbus.Event(nil), r.events...)
}

type fixture struct {
	deps       Dependencies
	history    *history.Static
	events     *recordingPublisher
	definition *Definition
	lifecycle  *Lifecycle
	structure  *Structure
	migration  *Migration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	codes, err := codegen.NewSnowflake(1)
	require.NoError(t, err)

	f := &fixture{
		history: history.NewStatic(),
		events:  &recordingPublisher{},
	}

	f.deps = Dependencies{
		Persistence: file.NewPersistence(t.TempDir()),
		Codes:       codes,
		Locker:      lock.NewLocal(nil),
		History:     f.history,
		Events:      f.events,
		Metrics:     metrics.New(),
	}

	f.definition = NewDefinition(f.deps)
	f.lifecycle = NewLifecycle(f.deps)
	f.structure = NewStructure(f.deps)
	f.migration = NewMigration(f.deps)

	return f
}

// twoTaskRequest builds T1 -> T2 with caller-chosen task codes, as editors send them.
func twoTaskRequest(projectID, name string) CreateDefinitionRequest {
	return CreateDefinitionRequest{
		ProjectID:   projectID,
		Name:        name,
		Description: "desc test",
		Tasks: []*models.TaskNode{
			{Code: 101, Name: "T1", Type: models.TaskTypeShell, Params: []byte(`{"rawScript":"echo 1"}`)},
			{Code: 102, Name: "T2", Type: models.TaskTypeHTTP},
		},
		Relations: []*models.DependencyEdge{
			{PreTaskCode: 0, PostTaskCode: 101, ConditionType: models.ConditionTypeNone},
			{PreTaskCode: 101, PostTaskCode: 102, ConditionType: models.ConditionTypeNone},
		},
		Layout:     models.Layout{"101": {Label: "T1", X: 10, Y: 10}, "102": {Label: "T2", X: 80, Y: 10}},
		TenantCode: "default",
		Owner:      "admin",
	}
}

func updateFrom(definition *models.WorkflowDefinition) UpdateDefinitionRequest {
	return UpdateDefinitionRequest{
		Name:             definition.Name,
		Description:      definition.Description,
		GlobalParameters: definition.GlobalParameters,
		Tasks:            definition.Tasks,
		Relations:        definition.Relations,
		Layout:           definition.Layout,
		TimeoutSeconds:   definition.TimeoutSeconds,
		TenantCode:       definition.TenantCode,
	}
}

func (f *fixture) create(t *testing.T, projectID, name string) *models.WorkflowDefinition {
	t.Helper()

	created, err := f.definition.Create(t.Context(), twoTaskRequest(projectID, name))
	require.NoError(t, err)

	return created
}
