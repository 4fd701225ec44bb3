// Package projects answers whether projects and tenants referenced by definitions exist.
package projects

import (
	"context"

	"github.com/dukex/flowdef/pkg/config"
)

// Oracle resolves project and tenant references.
type Oracle interface {
	ProjectExists(ctx context.Context, projectID string) (bool, error)
	TenantExists(ctx context.Context, tenantCode string) (bool, error)
}

// Registry is an Oracle over a fixed set of projects and tenants.
type Registry struct {
	projects map[string]config.ProjectConfig
	tenants  map[string]config.TenantConfig
}

// NewRegistry builds a registry from a loaded projects file.
func NewRegistry(file config.ProjectsFile) *Registry {
	registry := &Registry{
		projects: make(map[string]config.ProjectConfig, len(file.Projects)),
		tenants:  make(map[string]config.TenantConfig, len(file.Tenants)),
	}

	for _, project := range file.Projects {
		registry.projects[project.ID] = project
	}

	for _, tenant := range file.Tenants {
		registry.tenants[tenant.Code] = tenant
	}

	return registry
}

// ProjectExists reports whether projectID is registered.
func (r *Registry) ProjectExists(_ context.Context, projectID string) (bool, error) {
	_, ok := r.projects[projectID]

	return ok, nil
}

// TenantExists reports whether tenantCode is registered. The empty tenant always exists.
func (r *Registry) TenantExists(_ context.Context, tenantCode string) (bool, error) {
	if tenantCode == "" {
		return true, nil
	}

	_, ok := r.tenants[tenantCode]

	return ok, nil
}

// Open accepts every project and tenant. It backs deployments without a projects file.
type Open struct{}

// ProjectExists always reports true.
func (Open) ProjectExists(context.Context, string) (bool, error) { return true, nil }

// TenantExists always reports true.
func (Open) TenantExists(context.Context, string) (bool, error) { return true, nil }
