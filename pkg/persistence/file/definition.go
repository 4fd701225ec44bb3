package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/persistence"
)

// DefinitionRepository stores one JSON document per definition and one per version:
//
//	<root>/definitions/<code>.json
//	<root>/versions/<code>/<version>.json
//
// A single mutex serializes every operation, which also makes name checks and the writes that
// claim names atomic.
type DefinitionRepository struct {
	root string
	mu   sync.Mutex
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{root: root}
}

// Create stores a new definition and its first version.
func (r *DefinitionRepository) Create(_ context.Context, definition *models.WorkflowDefinition, version *models.DefinitionVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.readDefinition(definition.Code)
	if err != nil {
		return err
	}

	if existing != nil {
		return persistence.NewDefinitionError("Create", definition.Code, persistence.ErrDefinitionAlreadyExists)
	}

	taken, err := r.nameTaken(definition.ProjectID, definition.Name, definition.Code)
	if err != nil {
		return err
	}

	if taken {
		return persistence.NewDefinitionError("Create", definition.Code, persistence.ErrNameExists)
	}

	if err := r.writeVersion(version); err != nil {
		return err
	}

	if err := r.writeDefinition(definition); err != nil {
		_ = os.RemoveAll(r.versionDir(definition.Code))

		return err
	}

	return nil
}

// AppendVersion stores the next version if nobody appended one since expectedVersion.
func (r *DefinitionRepository) AppendVersion(
	_ context.Context,
	definition *models.WorkflowDefinition,
	version *models.DefinitionVersion,
	expectedVersion int,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.readDefinition(definition.Code)
	if err != nil {
		return err
	}

	if existing == nil {
		return persistence.NewDefinitionError("AppendVersion", definition.Code, persistence.ErrDefinitionNotFound)
	}

	latest, err := r.maxVersion(definition.Code)
	if err != nil {
		return err
	}

	if latest != expectedVersion || version.Version != expectedVersion+1 {
		return persistence.NewVersionError("AppendVersion", definition.Code, version.Version, persistence.ErrConcurrentUpdate)
	}

	if existing.ProjectID != definition.ProjectID {
		return persistence.NewDefinitionError("AppendVersion", definition.Code, persistence.ErrConcurrentUpdate)
	}

	taken, err := r.nameTaken(definition.ProjectID, definition.Name, definition.Code)
	if err != nil {
		return err
	}

	if taken {
		return persistence.NewDefinitionError("AppendVersion", definition.Code, persistence.ErrNameExists)
	}

	if err := r.writeVersion(version); err != nil {
		return err
	}

	if err := r.writeDefinition(definition); err != nil {
		_ = os.Remove(r.versionPath(version.Code, version.Version))

		return err
	}

	return nil
}

// GetByCode retrieves a definition by its code.
func (r *DefinitionRepository) GetByCode(_ context.Context, code int64) (*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.readDefinition(code)
}

// List returns one page of a project's definitions, newest update first.
func (r *DefinitionRepository) List(_ context.Context, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(opts.Search)
	filtered := make([]*models.WorkflowDefinition, 0, len(all))

	for _, definition := range all {
		if opts.ProjectID != "" && definition.ProjectID != opts.ProjectID {
			continue
		}

		if opts.Owner != "" && definition.Owner != opts.Owner {
			continue
		}

		if search != "" && !strings.Contains(strings.ToLower(definition.Name), search) {
			continue
		}

		if !opts.IncludeTasks {
			definition.Tasks = nil
			definition.Relations = nil
		}

		filtered = append(filtered, definition)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].UpdatedAt.Equal(filtered[j].UpdatedAt) {
			return filtered[i].Code > filtered[j].Code
		}

		return filtered[i].UpdatedAt.After(filtered[j].UpdatedAt)
	})

	page, hasNext := persistence.Page(filtered, opts.Limit, opts.Offset)

	return &persistence.DefinitionListResult{
		Definitions: page,
		TotalCount:  int64(len(filtered)),
		HasNextPage: hasNext,
	}, nil
}

// ListAll returns every definition of a project ordered by name.
func (r *DefinitionRepository) ListAll(_ context.Context, projectID string) ([]*models.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.readAll()
	if err != nil {
		return nil, err
	}

	out := make([]*models.WorkflowDefinition, 0, len(all))

	for _, definition := range all {
		if definition.ProjectID == projectID {
			out = append(out, definition)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// NameTaken reports whether another definition of the project uses name.
func (r *DefinitionRepository) NameTaken(_ context.Context, projectID, name string, excludeCode int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.nameTaken(projectID, name, excludeCode)
}

// MaxVersion returns the highest stored version of code.
func (r *DefinitionRepository) MaxVersion(_ context.Context, code int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.maxVersion(code)
}

// UpdateReleaseState changes the release state if it still equals from.
func (r *DefinitionRepository) UpdateReleaseState(_ context.Context, code int64, from, to models.ReleaseState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	definition, err := r.mustReadDefinition("UpdateReleaseState", code)
	if err != nil {
		return err
	}

	if definition.ReleaseState != from {
		return persistence.NewDefinitionError("UpdateReleaseState", code, persistence.ErrConcurrentUpdate)
	}

	definition.ReleaseState = to
	definition.UpdatedAt = time.Now().UTC()

	return r.writeDefinition(definition)
}

// SwitchVersion makes version the current one.
func (r *DefinitionRepository) SwitchVersion(_ context.Context, code int64, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	definition, err := r.mustReadDefinition("SwitchVersion", code)
	if err != nil {
		return err
	}

	target, err := r.readVersion(code, version)
	if err != nil {
		return err
	}

	if target == nil {
		return persistence.NewVersionError("SwitchVersion", code, version, persistence.ErrVersionNotFound)
	}

	taken, err := r.nameTaken(definition.ProjectID, target.Name, code)
	if err != nil {
		return err
	}

	if taken {
		return persistence.NewVersionError("SwitchVersion", code, version, persistence.ErrNameExists)
	}

	definition.ApplyVersion(target)
	definition.UpdatedAt = time.Now().UTC()

	return r.writeDefinition(definition)
}

// Move reassigns the definition to targetProject.
func (r *DefinitionRepository) Move(_ context.Context, code int64, targetProject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	definition, err := r.mustReadDefinition("Move", code)
	if err != nil {
		return err
	}

	taken, err := r.nameTaken(targetProject, definition.Name, code)
	if err != nil {
		return err
	}

	if taken {
		return persistence.NewDefinitionError("Move", code, persistence.ErrNameExists)
	}

	definition.ProjectID = targetProject
	definition.UpdatedAt = time.Now().UTC()

	return r.writeDefinition(definition)
}

// Delete removes the definition and its version log.
func (r *DefinitionRepository) Delete(_ context.Context, code int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.mustReadDefinition("Delete", code); err != nil {
		return err
	}

	// Versions move aside before the definition file goes, and come back if its removal fails.
	trash := r.trashDir(code)
	if err := os.RemoveAll(trash); err != nil {
		return fmt.Errorf("failed to clear deleted versions of definition %d: %w", code, err)
	}

	if err := os.Rename(r.versionDir(code), trash); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete versions of definition %d: %w", code, err)
	}

	if err := os.Remove(r.definitionPath(code)); err != nil {
		if restoreErr := os.Rename(trash, r.versionDir(code)); restoreErr != nil && !os.IsNotExist(restoreErr) {
			return fmt.Errorf("failed to delete definition %d: %w", code, errors.Join(err, restoreErr))
		}

		return fmt.Errorf("failed to delete definition %d: %w", code, err)
	}

	_ = os.RemoveAll(trash)

	return nil
}

// GetVersion retrieves one version record.
func (r *DefinitionRepository) GetVersion(_ context.Context, code int64, version int) (*models.DefinitionVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.readVersion(code, version)
}

// ListVersions returns one page of the version log, newest first.
func (r *DefinitionRepository) ListVersions(_ context.Context, code int64, opts persistence.ListVersionsOptions) (*persistence.VersionListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	numbers, err := r.versionNumbers(code)
	if err != nil {
		return nil, err
	}

	sort.Sort(sort.Reverse(sort.IntSlice(numbers)))

	page, hasNext := persistence.Page(numbers, opts.Limit, opts.Offset)
	versions := make([]*models.DefinitionVersion, 0, len(page))

	for _, number := range page {
		version, err := r.readVersion(code, number)
		if err != nil {
			return nil, err
		}

		if version != nil {
			versions = append(versions, version)
		}
	}

	return &persistence.VersionListResult{
		Versions:    versions,
		TotalCount:  int64(len(numbers)),
		HasNextPage: hasNext,
	}, nil
}

// DeleteVersion removes one version record.
func (r *DefinitionRepository) DeleteVersion(_ context.Context, code int64, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.versionPath(code, version))
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewVersionError("DeleteVersion", code, version, persistence.ErrVersionNotFound)
		}

		return fmt.Errorf("failed to delete version %d of definition %d: %w", version, code, err)
	}

	return nil
}

func (r *DefinitionRepository) definitionPath(code int64) string {
	return filepath.Join(r.root, "definitions", strconv.FormatInt(code, 10)+".json")
}

func (r *DefinitionRepository) versionDir(code int64) string {
	return filepath.Join(r.root, "versions", strconv.FormatInt(code, 10))
}

// trashDir holds the versions of a definition being deleted. Its name never parses as a code.
func (r *DefinitionRepository) trashDir(code int64) string {
	return filepath.Join(r.root, "versions", ".deleted-"+strconv.FormatInt(code, 10))
}

func (r *DefinitionRepository) versionPath(code int64, version int) string {
	return filepath.Join(r.versionDir(code), strconv.Itoa(version)+".json")
}

func (r *DefinitionRepository) mustReadDefinition(op string, code int64) (*models.WorkflowDefinition, error) {
	definition, err := r.readDefinition(code)
	if err != nil {
		return nil, err
	}

	if definition == nil {
		return nil, persistence.NewDefinitionError(op, code, persistence.ErrDefinitionNotFound)
	}

	return definition, nil
}

func (r *DefinitionRepository) readDefinition(code int64) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition

	found, err := readJSON(r.definitionPath(code), &definition)
	if err != nil || !found {
		return nil, err
	}

	return &definition, nil
}

func (r *DefinitionRepository) readVersion(code int64, version int) (*models.DefinitionVersion, error) {
	var record models.DefinitionVersion

	found, err := readJSON(r.versionPath(code, version), &record)
	if err != nil || !found {
		return nil, err
	}

	return &record, nil
}

func (r *DefinitionRepository) readAll() ([]*models.WorkflowDefinition, error) {
	root := os.DirFS(filepath.Join(r.root, "definitions"))

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list definition files: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(files))

	for _, name := range files {
		code, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}

		definition, err := r.readDefinition(code)
		if err != nil {
			return nil, err
		}

		if definition != nil {
			definitions = append(definitions, definition)
		}
	}

	return definitions, nil
}

func (r *DefinitionRepository) nameTaken(projectID, name string, excludeCode int64) (bool, error) {
	all, err := r.readAll()
	if err != nil {
		return false, err
	}

	for _, definition := range all {
		if definition.Code != excludeCode && definition.ProjectID == projectID && definition.Name == name {
			return true, nil
		}
	}

	return false, nil
}

func (r *DefinitionRepository) versionNumbers(code int64) ([]int, error) {
	entries, err := os.ReadDir(r.versionDir(code))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list versions of definition %d: %w", code, err)
	}

	numbers := make([]int, 0, len(entries))

	for _, entry := range entries {
		number, err := strconv.Atoi(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}

		numbers = append(numbers, number)
	}

	return numbers, nil
}

func (r *DefinitionRepository) maxVersion(code int64) (int, error) {
	numbers, err := r.versionNumbers(code)
	if err != nil {
		return 0, err
	}

	latest := 0
	for _, number := range numbers {
		latest = max(latest, number)
	}

	return latest, nil
}

func (r *DefinitionRepository) writeDefinition(definition *models.WorkflowDefinition) error {
	return writeJSON(r.definitionPath(definition.Code), definition)
}

func (r *DefinitionRepository) writeVersion(version *models.DefinitionVersion) error {
	path := r.versionPath(version.Code, version.Version)

	if _, err := os.Stat(path); err == nil {
		return persistence.NewVersionError("AppendVersion", version.Code, version.Version, persistence.ErrConcurrentUpdate)
	}

	return writeJSON(path, version)
}

func readJSON(path string, target any) (bool, error) {
	body, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return true, nil
}

// writeJSON replaces path atomically through a temporary file in the same directory.
func writeJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
