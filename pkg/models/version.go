package models

import "time"

// DefinitionVersion is an append-only snapshot of a definition, keyed by (Code, Version).
type DefinitionVersion struct {
	Code             int64             `json:"code"`
	Version          int               `json:"version"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	GlobalParameters []GlobalParameter `json:"global_parameters"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	TenantCode       string            `json:"tenant_code"`
	Layout           Layout            `json:"layout,omitempty"`
	Tasks            []*TaskNode       `json:"tasks"`
	Relations        []*DependencyEdge `json:"relations"`
	CreatedAt        time.Time         `json:"created_at"`
}
