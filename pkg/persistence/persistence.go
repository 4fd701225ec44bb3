// Package persistence provides the storage abstraction for workflow definitions and their
// append-only version log.
package persistence

import (
	"context"

	"github.com/dukex/flowdef/pkg/models"
)

// Persistence is a storage backend.
type Persistence interface {
	DefinitionRepository() DefinitionRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository owns definitions and version records. Every method is atomic: on error
// nothing it would have written is visible.
type DefinitionRepository interface {
	// Create stores a new definition together with its first version.
	Create(ctx context.Context, definition *models.WorkflowDefinition, version *models.DefinitionVersion) error
	// AppendVersion stores version and rewrites the definition row, provided the highest stored
	// version of the code is still expectedVersion. Otherwise it fails with ErrConcurrentUpdate.
	AppendVersion(ctx context.Context, definition *models.WorkflowDefinition, version *models.DefinitionVersion, expectedVersion int) error
	// GetByCode returns nil, nil when the code is unknown.
	GetByCode(ctx context.Context, code int64) (*models.WorkflowDefinition, error)
	List(ctx context.Context, opts ListDefinitionsOptions) (*DefinitionListResult, error)
	ListAll(ctx context.Context, projectID string) ([]*models.WorkflowDefinition, error)
	// NameTaken reports whether another definition of the project uses name.
	NameTaken(ctx context.Context, projectID, name string, excludeCode int64) (bool, error)
	// MaxVersion returns the highest stored version number of code, or 0.
	MaxVersion(ctx context.Context, code int64) (int, error)
	// UpdateReleaseState moves the definition from one state to another, failing with
	// ErrConcurrentUpdate when the stored state is no longer from.
	UpdateReleaseState(ctx context.Context, code int64, from, to models.ReleaseState) error
	// SwitchVersion points the definition at an existing version and copies its content.
	SwitchVersion(ctx context.Context, code int64, version int) error
	// Move reassigns the owning project, keeping code and history.
	Move(ctx context.Context, code int64, targetProject string) error
	// Delete removes the definition and every version of it.
	Delete(ctx context.Context, code int64) error
	// GetVersion returns nil, nil when the version is unknown.
	GetVersion(ctx context.Context, code int64, version int) (*models.DefinitionVersion, error)
	ListVersions(ctx context.Context, code int64, opts ListVersionsOptions) (*VersionListResult, error)
	DeleteVersion(ctx context.Context, code int64, version int) error
}

// ListDefinitionsOptions filters and pages definitions. Results are ordered by updated_at, newest first.
type ListDefinitionsOptions struct {
	ProjectID    string
	Search       string // case-insensitive substring of the name
	Owner        string
	Limit        int
	Offset       int
	IncludeTasks bool
}

// DefinitionListResult is one page of definitions.
type DefinitionListResult struct {
	Definitions []*models.WorkflowDefinition
	TotalCount  int64
	HasNextPage bool
}

// ListVersionsOptions pages a version log. Results are ordered by version, newest first.
type ListVersionsOptions struct {
	Limit  int
	Offset int
}

// VersionListResult is one page of versions.
type VersionListResult struct {
	Versions    []*models.DefinitionVersion
	TotalCount  int64
	HasNextPage bool
}
