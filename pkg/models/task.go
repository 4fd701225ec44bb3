package models

import "encoding/json"

// TaskType identifies the kind of work a task node describes. The engine treats it as opaque
// except for the parameter schema it selects.
type TaskType string

const (
	TaskTypeShell      TaskType = "SHELL"
	TaskTypeSQL        TaskType = "SQL"
	TaskTypeHTTP       TaskType = "HTTP"
	TaskTypeSubProcess TaskType = "SUB_PROCESS"
	TaskTypeConditions TaskType = "CONDITIONS"
	TaskTypeDependent  TaskType = "DEPENDENT"
)

// RunFlag tells the execution engine whether a node runs or is skipped.
type RunFlag string

const (
	RunFlagNormal    RunFlag = "NORMAL"
	RunFlagForbidden RunFlag = "FORBIDDEN"
)

// Priority of task instances created from a node.
type Priority string

const (
	PriorityHighest Priority = "HIGHEST"
	PriorityHigh    Priority = "HIGH"
	PriorityMedium  Priority = "MEDIUM"
	PriorityLow     Priority = "LOW"
	PriorityLowest  Priority = "LOWEST"
)

// RetryPolicy bounds how often the execution engine retries a failed task.
type RetryPolicy struct {
	MaxAttempts     int `json:"max_attempts"     validate:"min=0"`
	IntervalSeconds int `json:"interval_seconds" validate:"min=0"`
}

// TaskNode is a vertex of a definition's DAG.
type TaskNode struct {
	Code        int64           `json:"code"`
	Version     int             `json:"version"`
	Name        string          `json:"name"                  validate:"required"`
	Description string          `json:"description,omitempty"`
	Type        TaskType        `json:"type"                  validate:"required"`
	Params      json.RawMessage `json:"params,omitempty"`
	RunFlag     RunFlag         `json:"run_flag"              validate:"omitempty,oneof=NORMAL FORBIDDEN"`
	RetryPolicy RetryPolicy     `json:"retry_policy"`
	Priority    Priority        `json:"priority"              validate:"omitempty,oneof=HIGHEST HIGH MEDIUM LOW LOWEST"`
}

// Clone returns a deep copy of the node.
func (t *TaskNode) Clone() *TaskNode {
	clone := *t
	if t.Params != nil {
		clone.Params = append(json.RawMessage(nil), t.Params...)
	}

	return &clone
}
