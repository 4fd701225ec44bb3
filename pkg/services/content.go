package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/flowdef/pkg/models"
)

// normalizeGraph copies tasks and relations, fills defaults, and allocates codes for tasks
// submitted without one.
func (b *base) normalizeGraph(
	ctx context.Context,
	op string,
	tasks []*models.TaskNode,
	relations []*models.DependencyEdge,
) ([]*models.TaskNode, []*models.DependencyEdge, error) {
	outTasks := make([]*models.TaskNode, 0, len(tasks))

	for _, task := range tasks {
		clone := task.Clone()
		clone.Name = strings.TrimSpace(clone.Name)

		if clone.RunFlag == "" {
			clone.RunFlag = models.RunFlagNormal
		}

		if clone.Priority == "" {
			clone.Priority = models.PriorityMedium
		}

		if clone.Code == 0 {
			code, err := b.codes.NewCode(ctx)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: failed to allocate task code: %w", op, err)
			}

			clone.Code = code
		}

		outTasks = append(outTasks, clone)
	}

	outRelations := make([]*models.DependencyEdge, 0, len(relations))

	for _, relation := range relations {
		clone := relation.Clone()
		if clone.ConditionType == "" {
			clone.ConditionType = models.ConditionTypeNone
		}

		outRelations = append(outRelations, clone)
	}

	return outTasks, outRelations, nil
}

// checkTaskCodes rejects task codes that already identify a definition. Codes carried over from
// previous are not looked up again.
func (b *base) checkTaskCodes(ctx context.Context, op string, previous, tasks []*models.TaskNode) error {
	known := make(map[int64]struct{}, len(previous))
	for _, task := range previous {
		known[task.Code] = struct{}{}
	}

	for _, task := range tasks {
		if _, ok := known[task.Code]; ok {
			continue
		}

		definition, err := b.repo().GetByCode(ctx, task.Code)
		if err != nil {
			return mapPersistenceError(op, err)
		}

		if definition != nil {
			return NewValidationError(op, "TASK_CODE_IN_USE",
				fmt.Sprintf("task code %d identifies definition %q", task.Code, definition.Name), ErrInvalidRequest)
		}
	}

	return nil
}

// stampTaskVersions gives every task its own version: 1 when new, the previous one when its
// content is unchanged, and previous+1 otherwise.
func stampTaskVersions(previous, next []*models.TaskNode) {
	known := make(map[int64]*models.TaskNode, len(previous))
	for _, task := range previous {
		known[task.Code] = task
	}

	for _, task := range next {
		before, ok := known[task.Code]

		switch {
		case !ok:
			task.Version = 1
		case sameTaskContent(before, task):
			task.Version = before.Version
		default:
			task.Version = before.Version + 1
		}
	}
}

func sameTaskContent(a, b *models.TaskNode) bool {
	left, right := *a, *b
	left.Version, right.Version = 0, 0

	leftJSON, errLeft := json.Marshal(left)
	rightJSON, errRight := json.Marshal(right)

	return errLeft == nil && errRight == nil && bytes.Equal(leftJSON, rightJSON)
}

// stampRelationVersions points relation endpoints at the stamped task versions.
func stampRelationVersions(tasks []*models.TaskNode, relations []*models.DependencyEdge) {
	versions := make(map[int64]int, len(tasks))
	for _, task := range tasks {
		versions[task.Code] = task.Version
	}

	for _, relation := range relations {
		if relation.IsRoot() {
			relation.PreTaskVersion = 0
		} else if version, ok := versions[relation.PreTaskCode]; ok {
			relation.PreTaskVersion = version
		}

		if version, ok := versions[relation.PostTaskCode]; ok {
			relation.PostTaskVersion = version
		}
	}
}
