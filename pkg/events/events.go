// Package events defines event types and structures for workflow definition lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/flowdef/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every definition event.
const Topic = "flowdef.definitions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	DefinitionCreatedEvent        EventType = "definition.created"
	DefinitionUpdatedEvent        EventType = "definition.updated"
	DefinitionDeletedEvent        EventType = "definition.deleted"
	DefinitionReleasedEvent       EventType = "definition.released"
	DefinitionVersionSwitchEvent  EventType = "definition.version.switched"
	DefinitionVersionDeletedEvent EventType = "definition.version.deleted"
	DefinitionCopiedEvent         EventType = "definition.copied"
	DefinitionMovedEvent          EventType = "definition.moved"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	DefinitionCode int64          `json:"definition_code"`
	ProjectID      string         `json:"project_id"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a fresh event id and the current time.
func NewBaseEvent(eventType EventType, code int64, projectID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		DefinitionCode: code,
		ProjectID:      projectID,
	}
}

type DefinitionCreated struct {
	BaseEvent

	Name    string `json:"name"`
	Version int    `json:"version"`
}

func (e DefinitionCreated) GetType() EventType {
	return DefinitionCreatedEvent
}

type DefinitionUpdated struct {
	BaseEvent

	Name            string `json:"name"`
	Version         int    `json:"version"`
	PreviousVersion int    `json:"previous_version"`
}

func (e DefinitionUpdated) GetType() EventType {
	return DefinitionUpdatedEvent
}

type DefinitionDeleted struct {
	BaseEvent

	Name string `json:"name"`
}

func (e DefinitionDeleted) GetType() EventType {
	return DefinitionDeletedEvent
}

// DefinitionReleased reports a release state change. The execution engine listens for it to
// start or stop scheduling runs.
type DefinitionReleased struct {
	BaseEvent

	From    models.ReleaseState `json:"from"`
	To      models.ReleaseState `json:"to"`
	Version int                 `json:"version"`
}

func (e DefinitionReleased) GetType() EventType {
	return DefinitionReleasedEvent
}

type DefinitionVersionSwitched struct {
	BaseEvent

	From int `json:"from"`
	To   int `json:"to"`
}

func (e DefinitionVersionSwitched) GetType() EventType {
	return DefinitionVersionSwitchEvent
}

type DefinitionVersionDeleted struct {
	BaseEvent

	Version int `json:"version"`
}

func (e DefinitionVersionDeleted) GetType() EventType {
	return DefinitionVersionDeletedEvent
}

// DefinitionCopied is published for the new definition; SourceCode names the original.
type DefinitionCopied struct {
	BaseEvent

	SourceCode    int64  `json:"source_code"`
	SourceProject string `json:"source_project"`
	Name          string `json:"name"`
}

func (e DefinitionCopied) GetType() EventType {
	return DefinitionCopiedEvent
}

type DefinitionMoved struct {
	BaseEvent

	SourceProject string `json:"source_project"`
}

func (e DefinitionMoved) GetType() EventType {
	return DefinitionMovedEvent
}

// New returns an empty event of the given type for decoding, or nil for unknown types.
func New(eventType EventType) any {
	switch eventType {
	case DefinitionCreatedEvent:
		return &DefinitionCreated{}
	case DefinitionUpdatedEvent:
		return &DefinitionUpdated{}
	case DefinitionDeletedEvent:
		return &DefinitionDeleted{}
	case DefinitionReleasedEvent:
		return &DefinitionReleased{}
	case DefinitionVersionSwitchEvent:
		return &DefinitionVersionSwitched{}
	case DefinitionVersionDeletedEvent:
		return &DefinitionVersionDeleted{}
	case DefinitionCopiedEvent:
		return &DefinitionCopied{}
	case DefinitionMovedEvent:
		return &DefinitionMoved{}
	default:
		return nil
	}
}
