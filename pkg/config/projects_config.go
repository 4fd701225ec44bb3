// Package config provides configuration loading for the project and tenant registry.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProjectsFile represents the structure of the projects.yaml file.
type ProjectsFile struct {
	Projects []ProjectConfig `yaml:"projects"`
	Tenants  []TenantConfig  `yaml:"tenants"`
}

// ProjectConfig represents a project entry in the YAML file.
type ProjectConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TenantConfig represents a tenant entry in the YAML file.
type TenantConfig struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
}

// LoadProjects loads the project registry from a YAML file.
func LoadProjects(filepath string) (ProjectsFile, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return ProjectsFile{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	return ParseProjects(data)
}

// ParseProjects decodes a project registry document.
func ParseProjects(data []byte) (ProjectsFile, error) {
	var projectsFile ProjectsFile
	if err := yaml.Unmarshal(data, &projectsFile); err != nil {
		return ProjectsFile{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	seen := make(map[string]struct{}, len(projectsFile.Projects))

	for i, project := range projectsFile.Projects {
		if project.ID == "" {
			return ProjectsFile{}, fmt.Errorf("project %d: id is required", i)
		}

		if _, duplicate := seen[project.ID]; duplicate {
			return ProjectsFile{}, fmt.Errorf("project %q declared twice", project.ID)
		}

		seen[project.ID] = struct{}{}
	}

	for i, tenant := range projectsFile.Tenants {
		if tenant.Code == "" {
			return ProjectsFile{}, fmt.Errorf("tenant %d: code is required", i)
		}
	}

	return projectsFile, nil
}
