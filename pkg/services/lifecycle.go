package services

import (
	"context"
	"fmt"

	"github.com/dukex/flowdef/pkg/events"
	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/otelhelper"
	"github.com/dukex/flowdef/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

var transitions = map[models.ReleaseState][]models.ReleaseState{
	models.ReleaseStateDraft:   {models.ReleaseStateOnline, models.ReleaseStateOffline},
	models.ReleaseStateOnline:  {models.ReleaseStateOffline},
	models.ReleaseStateOffline: {models.ReleaseStateOnline},
}

// checkTransition allows the edges of the release state machine and same-state requests.
func checkTransition(op string, from, to models.ReleaseState) error {
	if !to.Valid() {
		return NewValidationError(op, "INVALID_RELEASE_STATE", fmt.Sprintf("unknown release state %q", to), ErrInvalidRequest)
	}

	if from == to {
		return nil
	}

	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}

	return &ServiceError{
		Op:      op,
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
		Err:     ErrInvalidTransition,
	}
}

// Lifecycle moves definitions through their release states and manages their version log.
type Lifecycle struct {
	base
}

// NewLifecycle creates a new lifecycle service.
func NewLifecycle(deps Dependencies) *Lifecycle {
	return &Lifecycle{base: newBase(deps, "lifecycle_service")}
}

// ListVersionsResponse contains one page of a definition's version log.
type ListVersionsResponse struct {
	Versions    []*models.DefinitionVersion `json:"versions"`
	TotalCount  int64                       `json:"total_count"`
	Page        int                         `json:"page"`
	PageSize    int                         `json:"page_size"`
	HasNextPage bool                        `json:"has_next_page"`
}

// SetReleaseState applies a release transition. Going ONLINE re-validates the current version.
// Requesting the current state is a no-op.
func (l *Lifecycle) SetReleaseState(ctx context.Context, code int64, target models.ReleaseState) (_ *models.WorkflowDefinition, err error) {
	const op = "SetReleaseState"

	ctx, span := l.start(ctx, "lifecycle.release",
		attribute.Int64(otelhelper.DefinitionCodeKey, code),
		attribute.String(otelhelper.ReleaseStateKey, string(target)),
	)
	defer func() { span.end(err) }()

	var result *models.WorkflowDefinition

	err = l.withCodeLock(ctx, op, code, func(ctx context.Context) error {
		definition, err := l.load(ctx, op, code)
		if err != nil {
			return err
		}

		from := definition.ReleaseState

		if err := checkTransition(op, from, target); err != nil {
			return err
		}

		if from == target {
			result = definition

			return nil
		}

		if target == models.ReleaseStateOnline {
			if err := l.validator.Validate(definition.Tasks, definition.Relations); err != nil {
				return invalidGraph(op, err)
			}
		}

		if err := l.repo().UpdateReleaseState(ctx, code, from, target); err != nil {
			return mapPersistenceError(op, err)
		}

		definition.ReleaseState = target

		l.logger.InfoContext(ctx, "Release state changed", "code", code, "from", from, "to", target)
		l.publish(ctx, code, events.DefinitionReleased{
			BaseEvent: events.NewBaseEvent(events.DefinitionReleasedEvent, code, definition.ProjectID),
			From:      from,
			To:        target,
			Version:   definition.CurrentVersion,
		})

		result = definition

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListVersions returns a page of the version log, newest first.
func (l *Lifecycle) ListVersions(ctx context.Context, code int64, page, pageSize int) (_ *ListVersionsResponse, err error) {
	const op = "ListVersions"

	ctx, span := l.start(ctx, "lifecycle.list_versions", attribute.Int64(otelhelper.DefinitionCodeKey, code))
	defer func() { span.end(err) }()

	if _, err := l.load(ctx, op, code); err != nil {
		return nil, err
	}

	page, pageSize = pageDefaults(page, pageSize)

	result, err := l.repo().ListVersions(ctx, code, persistence.ListVersionsOptions{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return nil, mapPersistenceError(op, err)
	}

	return &ListVersionsResponse{
		Versions:    result.Versions,
		TotalCount:  result.TotalCount,
		Page:        page,
		PageSize:    pageSize,
		HasNextPage: result.HasNextPage,
	}, nil
}

// SwitchVersion makes an existing version current. An ONLINE definition may only switch to a
// version whose graph is valid.
func (l *Lifecycle) SwitchVersion(ctx context.Context, code int64, version int) (_ *models.WorkflowDefinition, err error) {
	const op = "SwitchVersion"

	ctx, span := l.start(ctx, "lifecycle.switch_version",
		attribute.Int64(otelhelper.DefinitionCodeKey, code),
		attribute.Int(otelhelper.DefinitionVersionKey, version),
	)
	defer func() { span.end(err) }()

	var result *models.WorkflowDefinition

	err = l.withCodeLock(ctx, op, code, func(ctx context.Context) error {
		definition, err := l.load(ctx, op, code)
		if err != nil {
			return err
		}

		snapshot, err := l.version(ctx, op, code, version)
		if err != nil {
			return err
		}

		if definition.ReleaseState == models.ReleaseStateOnline {
			if err := l.validator.Validate(snapshot.Tasks, snapshot.Relations); err != nil {
				return invalidGraph(op, err)
			}
		}

		from := definition.CurrentVersion

		if err := l.repo().SwitchVersion(ctx, code, version); err != nil {
			return mapPersistenceError(op, err)
		}

		definition.ApplyVersion(snapshot)
		definition.UpdatedAt = l.now()

		l.logger.InfoContext(ctx, "Version switched", "code", code, "from", from, "version", version)
		l.publish(ctx, code, events.DefinitionVersionSwitched{
			BaseEvent: events.NewBaseEvent(events.DefinitionVersionSwitchEvent, code, definition.ProjectID),
			From:      from,
			To:        version,
		})

		result = definition

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteVersion removes a non-current version from the log.
func (l *Lifecycle) DeleteVersion(ctx context.Context, code int64, version int) (err error) {
	const op = "DeleteVersion"

	ctx, span := l.start(ctx, "lifecycle.delete_version",
		attribute.Int64(otelhelper.DefinitionCodeKey, code),
		attribute.Int(otelhelper.DefinitionVersionKey, version),
	)
	defer func() { span.end(err) }()

	return l.withCodeLock(ctx, op, code, func(ctx context.Context) error {
		definition, err := l.load(ctx, op, code)
		if err != nil {
			return err
		}

		if version == definition.CurrentVersion {
			if definition.ReleaseState == models.ReleaseStateOnline {
				return &ServiceError{
					Op:      op,
					Code:    "VERSION_ONLINE",
					Message: fmt.Sprintf("version %d of definition %d is online", version, code),
					Err:     ErrCannotDeleteWhileOnline,
				}
			}

			return &ServiceError{
				Op:      op,
				Code:    "VERSION_CURRENT",
				Message: fmt.Sprintf("version %d is the current version of definition %d", version, code),
				Err:     ErrCannotDeleteCurrent,
			}
		}

		if _, err := l.version(ctx, op, code, version); err != nil {
			return err
		}

		if err := l.repo().DeleteVersion(ctx, code, version); err != nil {
			return mapPersistenceError(op, err)
		}

		l.logger.InfoContext(ctx, "Version deleted", "code", code, "version", version)
		l.publish(ctx, code, events.DefinitionVersionDeleted{
			BaseEvent: events.NewBaseEvent(events.DefinitionVersionDeletedEvent, code, definition.ProjectID),
			Version:   version,
		})

		return nil
	})
}

func (l *Lifecycle) version(ctx context.Context, op string, code int64, version int) (*models.DefinitionVersion, error) {
	snapshot, err := l.repo().GetVersion(ctx, code, version)
	if err != nil {
		return nil, mapPersistenceError(op, err)
	}

	if snapshot == nil {
		return nil, &ServiceError{
			Op:      op,
			Code:    "VERSION_NOT_FOUND",
			Message: fmt.Sprintf("version %d of definition %d not found", version, code),
			Err:     ErrVersionNotFound,
		}
	}

	return snapshot, nil
}
