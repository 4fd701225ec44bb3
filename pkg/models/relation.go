package models

import "encoding/json"

// ConditionType selects how the execution engine evaluates an edge at runtime.
type ConditionType string

const (
	ConditionTypeNone ConditionType = "NONE"
	ConditionTypeAnd  ConditionType = "AND"
	ConditionTypeOr   ConditionType = "OR"
)

// RootTaskCode as PreTaskCode marks a relation that only declares PostTaskCode as an entry task.
const RootTaskCode int64 = 0

// DependencyEdge links a predecessor task to a successor task of the same version.
type DependencyEdge struct {
	Name            string          `json:"name,omitempty"`
	PreTaskCode     int64           `json:"pre_task_code"`
	PreTaskVersion  int             `json:"pre_task_version"`
	PostTaskCode    int64           `json:"post_task_code"`
	PostTaskVersion int             `json:"post_task_version"`
	ConditionType   ConditionType   `json:"condition_type"`
	ConditionParams json.RawMessage `json:"condition_params,omitempty"`
}

// IsRoot reports whether the edge only declares an entry task.
func (e *DependencyEdge) IsRoot() bool {
	return e.PreTaskCode == RootTaskCode
}

// Clone returns a deep copy of the edge.
func (e *DependencyEdge) Clone() *DependencyEdge {
	clone := *e
	if e.ConditionParams != nil {
		clone.ConditionParams = append(json.RawMessage(nil), e.ConditionParams...)
	}

	return &clone
}

// ConditionPredicate is one clause of an AND/OR condition edge.
type ConditionPredicate struct {
	TaskCode int64  `json:"taskCode"`
	Status   string `json:"status"`
}

// ConditionParams is the structured payload carried by AND/OR edges.
type ConditionParams struct {
	Predicates []ConditionPredicate `json:"predicates"`
}
