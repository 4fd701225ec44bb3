// Package history reads run instances of definitions from the execution engine's records.
package history

import (
	"context"

	"github.com/dukex/flowdef/pkg/models"
)

// Source lists the run instances associated with a definition, including the runs they spawned.
type Source interface {
	Instances(ctx context.Context, definitionCode int64) ([]models.InstanceSummary, error)
}
