package graph_test

import (
	"encoding/json"
	"testing"

	"github.com/dukex/flowdef/pkg/graph"
	"github.com/dukex/flowdef/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(code int64) *models.TaskNode {
	return &models.TaskNode{Code: code, Version: 1, Name: "task", Type: models.TaskTypeHTTP}
}

func edge(from, to int64) *models.DependencyEdge {
	return &models.DependencyEdge{
		PreTaskCode:     from,
		PreTaskVersion:  1,
		PostTaskCode:    to,
		PostTaskVersion: 1,
		ConditionType:   models.ConditionTypeNone,
		ConditionParams: json.RawMessage(`{}`),
	}
}

func conditionEdge(from, to int64, conditionType models.ConditionType, params string) *models.DependencyEdge {
	e := edge(from, to)
	e.ConditionType = conditionType
	e.ConditionParams = json.RawMessage(params)

	return e
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		tasks     []*models.TaskNode
		relations []*models.DependencyEdge
		wantErr   error
		wantNodes []int64
	}{
		{
			name:      "empty graph",
			tasks:     nil,
			relations: nil,
		},
		{
			name:      "linear chain with root relation",
			tasks:     []*models.TaskNode{task(1), task(2), task(3)},
			relations: []*models.DependencyEdge{edge(0, 1), edge(1, 2), edge(2, 3)},
		},
		{
			name:      "diamond",
			tasks:     []*models.TaskNode{task(1), task(2), task(3), task(4)},
			relations: []*models.DependencyEdge{edge(1, 2), edge(1, 3), edge(2, 4), edge(3, 4)},
		},
		{
			name:      "self loop",
			tasks:     []*models.TaskNode{task(1)},
			relations: []*models.DependencyEdge{edge(1, 1)},
			wantErr:   graph.ErrCycleDetected,
			wantNodes: []int64{1, 1},
		},
		{
			name:      "three node cycle",
			tasks:     []*models.TaskNode{task(1), task(2), task(3), task(4)},
			relations: []*models.DependencyEdge{edge(4, 1), edge(1, 2), edge(2, 3), edge(3, 1)},
			wantErr:   graph.ErrCycleDetected,
			wantNodes: []int64{1, 2, 3, 1},
		},
		{
			name:      "duplicate task code",
			tasks:     []*models.TaskNode{task(1), task(2), task(1)},
			wantErr:   graph.ErrDuplicateTaskCode,
			wantNodes: []int64{1},
		},
		{
			name:    "zero task code",
			tasks:   []*models.TaskNode{task(0)},
			wantErr: graph.ErrEmptyTaskCode,
		},
		{
			name:      "dangling successor",
			tasks:     []*models.TaskNode{task(1)},
			relations: []*models.DependencyEdge{edge(1, 9)},
			wantErr:   graph.ErrDanglingEdge,
			wantNodes: []int64{9},
		},
		{
			name:      "dangling predecessor",
			tasks:     []*models.TaskNode{task(1)},
			relations: []*models.DependencyEdge{edge(7, 1)},
			wantErr:   graph.ErrDanglingEdge,
			wantNodes: []int64{7},
		},
		{
			name:  "valid AND condition",
			tasks: []*models.TaskNode{task(1), task(2)},
			relations: []*models.DependencyEdge{
				conditionEdge(1, 2, models.ConditionTypeAnd, `{"predicates":[{"taskCode":1,"status":"SUCCESS"}]}`),
			},
		},
		{
			name:      "OR condition without params",
			tasks:     []*models.TaskNode{task(1), task(2)},
			relations: []*models.DependencyEdge{conditionEdge(1, 2, models.ConditionTypeOr, ``)},
			wantErr:   graph.ErrMalformedCondition,
		},
		{
			name:      "AND condition with empty predicates",
			tasks:     []*models.TaskNode{task(1), task(2)},
			relations: []*models.DependencyEdge{conditionEdge(1, 2, models.ConditionTypeAnd, `{"predicates":[]}`)},
			wantErr:   graph.ErrMalformedCondition,
		},
		{
			name:  "condition predicate on unknown task",
			tasks: []*models.TaskNode{task(1), task(2)},
			relations: []*models.DependencyEdge{
				conditionEdge(1, 2, models.ConditionTypeAnd, `{"predicates":[{"taskCode":5,"status":"FAILURE"}]}`),
			},
			wantErr: graph.ErrMalformedCondition,
		},
		{
			name:      "condition params not json",
			tasks:     []*models.TaskNode{task(1), task(2)},
			relations: []*models.DependencyEdge{conditionEdge(1, 2, models.ConditionTypeOr, `{predicates`)},
			wantErr:   graph.ErrMalformedCondition,
		},
		{
			name:      "unknown condition type",
			tasks:     []*models.TaskNode{task(1), task(2)},
			relations: []*models.DependencyEdge{conditionEdge(1, 2, "XOR", `{}`)},
			wantErr:   graph.ErrMalformedCondition,
		},
		{
			name: "shell task without script",
			tasks: []*models.TaskNode{
				{Code: 1, Name: "shell", Type: models.TaskTypeShell, Params: json.RawMessage(`{"rawScript":""}`)},
			},
			wantErr:   graph.ErrMalformedTaskParams,
			wantNodes: []int64{1},
		},
		{
			name: "shell task with script",
			tasks: []*models.TaskNode{
				{Code: 1, Name: "shell", Type: models.TaskTypeShell, Params: json.RawMessage(`{"rawScript":"echo 1"}`)},
			},
		},
		{
			name: "opaque params must be an object",
			tasks: []*models.TaskNode{
				{Code: 1, Name: "http", Type: models.TaskTypeHTTP, Params: json.RawMessage(`[1,2]`)},
			},
			wantErr: graph.ErrMalformedTaskParams,
		},
	}

	validator := graph.NewValidator()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := validator.Validate(tt.tasks, tt.relations)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, graph.IsGraphError(err))

			if tt.wantNodes != nil {
				var graphErr *graph.Error
				require.ErrorAs(t, err, &graphErr)
				assert.Equal(t, tt.wantNodes, graphErr.Nodes)
			}
		})
	}
}

func TestValidator_Validate_ReportsOffendingEdge(t *testing.T) {
	t.Parallel()

	bad := edge(1, 42)
	err := graph.NewValidator().Validate([]*models.TaskNode{task(1)}, []*models.DependencyEdge{bad})

	var graphErr *graph.Error
	require.ErrorAs(t, err, &graphErr)
	assert.Same(t, bad, graphErr.Edge)
	assert.Contains(t, err.Error(), "edge 1 -> 42")
}

func TestValidator_Validate_EveryCycleIsRejected(t *testing.T) {
	t.Parallel()

	validator := graph.NewValidator()

	for size := 2; size <= 12; size++ {
		tasks := make([]*models.TaskNode, 0, size)
		relations := make([]*models.DependencyEdge, 0, size)

		for i := 1; i <= size; i++ {
			tasks = append(tasks, task(int64(i)))
			relations = append(relations, edge(int64(i), int64(i%size+1)))
		}

		err := validator.Validate(tasks, relations)
		require.ErrorIs(t, err, graph.ErrCycleDetected, "ring of %d", size)

		// Dropping the closing edge turns the ring into a chain.
		require.NoError(t, validator.Validate(tasks, relations[:size-1]), "chain of %d", size)
	}
}

func TestTopologicalOrder(t *testing.T) {
	t.Parallel()

	tasks := []*models.TaskNode{task(3), task(1), task(2), task(4)}
	relations := []*models.DependencyEdge{edge(0, 3), edge(2, 3), edge(1, 2), edge(3, 4)}

	ordered := graph.TopologicalOrder(tasks, relations)

	codes := make([]int64, 0, len(ordered))
	for _, node := range ordered {
		codes = append(codes, node.Code)
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, codes)
}

func TestTopologicalOrder_KeepsTasksOfCycle(t *testing.T) {
	t.Parallel()

	tasks := []*models.TaskNode{task(1), task(2), task(3)}
	relations := []*models.DependencyEdge{edge(1, 2), edge(2, 1)}

	ordered := graph.TopologicalOrder(tasks, relations)

	require.Len(t, ordered, 3)
	assert.Equal(t, int64(3), ordered[0].Code)
}
