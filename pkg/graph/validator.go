package graph

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dukex/flowdef/pkg/models"
)

var builtinSchemas = sync.OnceValues(NewSchemas)

// Validator checks definition graphs against the structural invariants.
type Validator struct {
	schemas *Schemas
}

// NewValidator returns a validator using the built-in payload schemas.
func NewValidator() *Validator {
	schemas, err := builtinSchemas()
	if err != nil {
		panic(fmt.Errorf("invalid built-in graph schemas: %w", err))
	}

	return &Validator{schemas: schemas}
}

// Validate returns nil when tasks and relations form a valid DAG, or an *Error otherwise.
func (v *Validator) Validate(tasks []*models.TaskNode, relations []*models.DependencyEdge) error {
	known := make(map[int64]*models.TaskNode, len(tasks))
	order := make([]int64, 0, len(tasks))

	for _, task := range tasks {
		if task.Code == 0 {
			return &Error{Kind: ErrEmptyTaskCode, Detail: fmt.Sprintf("task %q", task.Name)}
		}

		if _, exists := known[task.Code]; exists {
			return duplicateError(task.Code)
		}

		known[task.Code] = task
		order = append(order, task.Code)
	}

	for _, edge := range relations {
		if !edge.IsRoot() {
			if _, ok := known[edge.PreTaskCode]; !ok {
				return danglingError(edge, edge.PreTaskCode)
			}
		}

		if _, ok := known[edge.PostTaskCode]; !ok {
			return danglingError(edge, edge.PostTaskCode)
		}
	}

	for _, edge := range relations {
		if err := v.checkCondition(edge, known); err != nil {
			return err
		}
	}

	for _, task := range tasks {
		if reason, ok := v.schemas.checkTaskParams(task.Type, task.Params); !ok {
			return paramsError(task, reason)
		}
	}

	if cycle := findCycle(order, adjacency(relations)); cycle != nil {
		return cycleError(cycle)
	}

	return nil
}

func (v *Validator) checkCondition(edge *models.DependencyEdge, known map[int64]*models.TaskNode) error {
	switch edge.ConditionType {
	case models.ConditionTypeNone, "":
		return nil
	case models.ConditionTypeAnd, models.ConditionTypeOr:
	default:
		return conditionError(edge, fmt.Sprintf("unknown condition type %q", edge.ConditionType))
	}

	if reason, ok := v.schemas.checkCondition(edge.ConditionType, edge.ConditionParams); !ok {
		return conditionError(edge, reason)
	}

	var params models.ConditionParams
	if err := json.Unmarshal(edge.ConditionParams, &params); err != nil {
		return conditionError(edge, err.Error())
	}

	for _, predicate := range params.Predicates {
		if _, ok := known[predicate.TaskCode]; !ok {
			return conditionError(edge, fmt.Sprintf("predicate references unknown task %d", predicate.TaskCode))
		}
	}

	return nil
}

func adjacency(relations []*models.DependencyEdge) map[int64][]int64 {
	out := make(map[int64][]int64, len(relations))

	for _, edge := range relations {
		if edge.IsRoot() {
			continue
		}

		out[edge.PreTaskCode] = append(out[edge.PreTaskCode], edge.PostTaskCode)
	}

	return out
}

// findCycle walks the graph depth-first without recursion. A successor that is still on the
// stack closes a cycle; the returned path starts and ends with that successor.
func findCycle(order []int64, successors map[int64][]int64) []int64 {
	const (
		unvisited = iota
		onStack
		done
	)

	type frame struct {
		code int64
		next int
	}

	state := make(map[int64]int, len(order))

	for _, start := range order {
		if state[start] != unvisited {
			continue
		}

		state[start] = onStack
		stack := []frame{{code: start}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			next := successors[top.code]

			if top.next == len(next) {
				state[top.code] = done
				stack = stack[:len(stack)-1]

				continue
			}

			successor := next[top.next]
			top.next++

			switch state[successor] {
			case unvisited:
				state[successor] = onStack
				stack = append(stack, frame{code: successor})
			case onStack:
				path := make([]int64, 0, len(stack)+1)

				for i := range stack {
					if stack[i].code != successor {
						continue
					}

					for _, f := range stack[i:] {
						path = append(path, f.code)
					}

					break
				}

				return append(path, successor)
			}
		}
	}

	return nil
}
