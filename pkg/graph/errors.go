package graph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/flowdef/pkg/models"
)

var (
	ErrEmptyTaskCode       = errors.New("task code must be non-zero")
	ErrDuplicateTaskCode   = errors.New("duplicate task code")
	ErrDanglingEdge        = errors.New("edge references unknown task")
	ErrMalformedCondition  = errors.New("malformed condition")
	ErrMalformedTaskParams = errors.New("malformed task params")
	ErrCycleDetected       = errors.New("cycle detected")
)

// Error describes why a node/edge set is not a valid definition graph.
type Error struct {
	Kind   error
	Detail string
	Nodes  []int64                // offending task codes; the cycle path for ErrCycleDetected
	Edge   *models.DependencyEdge // offending edge, if any
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}

	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

// IsGraphError reports whether err is any graph validation failure.
func IsGraphError(err error) bool {
	var graphErr *Error

	return errors.As(err, &graphErr)
}

func duplicateError(code int64) error {
	return &Error{
		Kind:   ErrDuplicateTaskCode,
		Detail: strconv.FormatInt(code, 10),
		Nodes:  []int64{code},
	}
}

func danglingError(edge *models.DependencyEdge, missing int64) error {
	return &Error{
		Kind:   ErrDanglingEdge,
		Detail: fmt.Sprintf("%s references task %d", edgeString(edge), missing),
		Nodes:  []int64{missing},
		Edge:   edge,
	}
}

func conditionError(edge *models.DependencyEdge, reason string) error {
	return &Error{
		Kind:   ErrMalformedCondition,
		Detail: fmt.Sprintf("%s: %s", edgeString(edge), reason),
		Edge:   edge,
	}
}

func paramsError(task *models.TaskNode, reason string) error {
	return &Error{
		Kind:   ErrMalformedTaskParams,
		Detail: fmt.Sprintf("task %d (%s): %s", task.Code, task.Type, reason),
		Nodes:  []int64{task.Code},
	}
}

func cycleError(path []int64) error {
	parts := make([]string, 0, len(path))
	for _, code := range path {
		parts = append(parts, strconv.FormatInt(code, 10))
	}

	return &Error{
		Kind:   ErrCycleDetected,
		Detail: strings.Join(parts, " -> "),
		Nodes:  path,
	}
}

func edgeString(edge *models.DependencyEdge) string {
	return fmt.Sprintf("edge %d -> %d", edge.PreTaskCode, edge.PostTaskCode)
}
