package mocks

import (
	"context"

	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Definitions *MockDefinitionRepository
}

func (m *MockPersistence) DefinitionRepository() persistence.DefinitionRepository {
	return m.Definitions
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockDefinitionRepository is a mock implementation of persistence.DefinitionRepository interface.
type MockDefinitionRepository struct {
	mock.Mock
}

func (m *MockDefinitionRepository) Create(ctx context.Context, definition *models.WorkflowDefinition, version *models.DefinitionVersion) error {
	args := m.Called(ctx, definition, version)

	return args.Error(0)
}

func (m *MockDefinitionRepository) AppendVersion(
	ctx context.Context,
	definition *models.WorkflowDefinition,
	version *models.DefinitionVersion,
	expectedVersion int,
) error {
	args := m.Called(ctx, definition, version, expectedVersion)

	return args.Error(0)
}

func (m *MockDefinitionRepository) GetByCode(ctx context.Context, code int64) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) (*persistence.DefinitionListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.DefinitionListResult), args.Error(1)
}

func (m *MockDefinitionRepository) ListAll(ctx context.Context, projectID string) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) NameTaken(ctx context.Context, projectID, name string, excludeCode int64) (bool, error) {
	args := m.Called(ctx, projectID, name, excludeCode)

	return args.Bool(0), args.Error(1)
}

func (m *MockDefinitionRepository) MaxVersion(ctx context.Context, code int64) (int, error) {
	args := m.Called(ctx, code)

	return args.Int(0), args.Error(1)
}

func (m *MockDefinitionRepository) UpdateReleaseState(ctx context.Context, code int64, from, to models.ReleaseState) error {
	args := m.Called(ctx, code, from, to)

	return args.Error(0)
}

func (m *MockDefinitionRepository) SwitchVersion(ctx context.Context, code int64, version int) error {
	args := m.Called(ctx, code, version)

	return args.Error(0)
}

func (m *MockDefinitionRepository) Move(ctx context.Context, code int64, targetProject string) error {
	args := m.Called(ctx, code, targetProject)

	return args.Error(0)
}

func (m *MockDefinitionRepository) Delete(ctx context.Context, code int64) error {
	args := m.Called(ctx, code)

	return args.Error(0)
}

func (m *MockDefinitionRepository) GetVersion(ctx context.Context, code int64, version int) (*models.DefinitionVersion, error) {
	args := m.Called(ctx, code, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.DefinitionVersion), args.Error(1)
}

func (m *MockDefinitionRepository) ListVersions(
	ctx context.Context,
	code int64,
	opts persistence.ListVersionsOptions,
) (*persistence.VersionListResult, error) {
	args := m.Called(ctx, code, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.VersionListResult), args.Error(1)
}

func (m *MockDefinitionRepository) DeleteVersion(ctx context.Context, code int64, version int) error {
	args := m.Called(ctx, code, version)

	return args.Error(0)
}
