package services

import (
	"context"
	"fmt"

	"github.com/dukex/flowdef/pkg/graph"
	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/otelhelper"
	"github.com/dukex/flowdef/pkg/tree"
	"go.opentelemetry.io/otel/attribute"
)

// Structure answers read-only questions about a definition's graph and its runs.
type Structure struct {
	base
}

// NewStructure creates a new structural query service.
func NewStructure(deps Dependencies) *Structure {
	return &Structure{base: newBase(deps, "structure_service")}
}

// ListTaskNodes returns the tasks of the current version in dependency order.
func (s *Structure) ListTaskNodes(ctx context.Context, code int64) (_ []*models.TaskNode, err error) {
	ctx, span := s.start(ctx, "structure.list_tasks", attribute.Int64(otelhelper.DefinitionCodeKey, code))
	defer func() { span.end(err) }()

	definition, err := s.load(ctx, "ListTaskNodes", code)
	if err != nil {
		return nil, err
	}

	return graph.TopologicalOrder(definition.Tasks, definition.Relations), nil
}

// ListTaskNodesForCodes returns the ordered tasks of every known code. Unknown codes are omitted.
func (s *Structure) ListTaskNodesForCodes(ctx context.Context, codes []int64) (_ map[int64][]*models.TaskNode, err error) {
	const op = "ListTaskNodesForCodes"

	ctx, span := s.start(ctx, "structure.list_tasks_for_codes", attribute.Int(otelhelper.BatchSizeKey, len(codes)))
	defer func() { span.end(err) }()

	result := make(map[int64][]*models.TaskNode, len(codes))

	for _, code := range codes {
		if _, done := result[code]; done {
			continue
		}

		definition, err := s.repo().GetByCode(ctx, code)
		if err != nil {
			return nil, mapPersistenceError(op, err)
		}

		if definition == nil {
			continue
		}

		result[code] = graph.TopologicalOrder(definition.Tasks, definition.Relations)
	}

	return result, nil
}

// ViewTree assembles the runs of a definition into a tree, keeping at most limit siblings per
// level. A non-positive limit selects tree.DefaultLimit.
func (s *Structure) ViewTree(ctx context.Context, code int64, limit int) (_ []*models.TreeNode, err error) {
	const op = "ViewTree"

	ctx, span := s.start(ctx, "structure.view_tree", attribute.Int64(otelhelper.DefinitionCodeKey, code))
	defer func() { span.end(err) }()

	if _, err := s.load(ctx, op, code); err != nil {
		return nil, err
	}

	instances, err := s.history.Instances(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read run history: %w", op, err)
	}

	return tree.Build(instances, limit), nil
}
