package history

import (
	"context"
	"sync"

	"github.com/dukex/flowdef/pkg/models"
)

// Static is an in-memory Source, used when no execution engine database is configured.
type Static struct {
	mu        sync.RWMutex
	instances map[int64][]models.InstanceSummary
}

// NewStatic creates an empty in-memory source.
func NewStatic() *Static {
	return &Static{instances: make(map[int64][]models.InstanceSummary)}
}

// Record adds instances to a definition.
func (s *Static) Record(definitionCode int64, instances ...models.InstanceSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[definitionCode] = append(s.instances[definitionCode], instances...)
}

// Instances returns a copy of the recorded instances.
func (s *Static) Instances(_ context.Context, definitionCode int64) ([]models.InstanceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recorded := s.instances[definitionCode]
	out := make([]models.InstanceSummary, len(recorded))
	copy(out, recorded)

	return out, nil
}
