// Package models defines the domain models for versioned workflow definitions.
package models

import "time"

// ReleaseState represents whether the execution engine may schedule runs of a definition.
type ReleaseState string

const (
	ReleaseStateDraft   ReleaseState = "DRAFT"   // Never released
	ReleaseStateOnline  ReleaseState = "ONLINE"  // Schedulable
	ReleaseStateOffline ReleaseState = "OFFLINE" // Taken offline, editable and deletable
)

// Valid reports whether the state is one of the known release states.
func (s ReleaseState) Valid() bool {
	switch s {
	case ReleaseStateDraft, ReleaseStateOnline, ReleaseStateOffline:
		return true
	default:
		return false
	}
}

// GlobalParameter is a key with its default value, available to every task of a definition.
type GlobalParameter struct {
	Key   string `json:"key"   validate:"required"`
	Value string `json:"value"`
}

// LayoutPoint is the visual position of a task on the editor canvas.
type LayoutPoint struct {
	Label string `json:"label"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
}

// Layout maps a task code (as a decimal string) to its canvas position.
type Layout map[string]LayoutPoint

// WorkflowDefinition is a DAG of tasks owned by a project. Its Code never changes; the content
// fields mirror the version CurrentVersion points to.
type WorkflowDefinition struct {
	Code             int64             `json:"code"`
	ProjectID        string            `json:"project_id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	GlobalParameters []GlobalParameter `json:"global_parameters"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	TenantCode       string            `json:"tenant_code"`
	Layout           Layout            `json:"layout,omitempty"`
	ReleaseState     ReleaseState      `json:"release_state"`
	CurrentVersion   int               `json:"current_version"`
	Owner            string            `json:"owner,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`

	Tasks     []*TaskNode       `json:"tasks"`
	Relations []*DependencyEdge `json:"relations"`
}

// ApplyVersion copies the content of a version snapshot onto the definition.
func (d *WorkflowDefinition) ApplyVersion(v *DefinitionVersion) {
	d.Name = v.Name
	d.Description = v.Description
	d.GlobalParameters = v.GlobalParameters
	d.TimeoutSeconds = v.TimeoutSeconds
	d.TenantCode = v.TenantCode
	d.Layout = v.Layout
	d.Tasks = v.Tasks
	d.Relations = v.Relations
	d.CurrentVersion = v.Version
}

// Snapshot builds the immutable version record for the definition's current content.
func (d *WorkflowDefinition) Snapshot(version int, createdAt time.Time) *DefinitionVersion {
	return &DefinitionVersion{
		Code:             d.Code,
		Version:          version,
		Name:             d.Name,
		Description:      d.Description,
		GlobalParameters: d.GlobalParameters,
		TimeoutSeconds:   d.TimeoutSeconds,
		TenantCode:       d.TenantCode,
		Layout:           d.Layout,
		Tasks:            d.Tasks,
		Relations:        d.Relations,
		CreatedAt:        createdAt,
	}
}
