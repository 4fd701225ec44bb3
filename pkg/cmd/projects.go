package cmd

import (
	"fmt"

	"github.com/dukex/flowdef/pkg/config"
	"github.com/dukex/flowdef/pkg/projects"
)

// NewProjects loads the project registry from path. Without a file every project and tenant is accepted.
func NewProjects(path string) (projects.Oracle, error) {
	if path == "" {
		return projects.Open{}, nil
	}

	file, err := config.LoadProjects(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load projects file: %w", err)
	}

	return projects.NewCached(projects.NewRegistry(file), projects.DefaultTTL), nil
}
