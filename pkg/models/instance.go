package models

import "time"

// InstanceSummary is a run of a definition as reported by the execution history.
type InstanceSummary struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	State     string    `json:"state,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// TreeNode is one instance of the bounded ancestor/descendant view.
type TreeNode struct {
	Instance InstanceSummary `json:"instance"`
	Children []*TreeNode     `json:"children,omitempty"`
}
