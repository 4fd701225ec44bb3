package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowdef/pkg/models"
)

// Postgres reads the workflow_instances table.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres creates a source over db.
func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// Instances returns the definition's runs plus every run descending from them, whatever
// definition spawned it.
func (p *Postgres) Instances(ctx context.Context, definitionCode int64) ([]models.InstanceSummary, error) {
	query := `
		WITH RECURSIVE related AS (
			SELECT id, parent_id, name, state, start_time
			FROM workflow_instances
			WHERE definition_code = $1
			UNION
			SELECT i.id, i.parent_id, i.name, i.state, i.start_time
			FROM workflow_instances i
			JOIN related r ON i.parent_id = r.id
		)
		SELECT id, COALESCE(parent_id, ''), name, state, start_time
		FROM related
		ORDER BY start_time, id
	`

	rows, err := p.db.QueryContext(ctx, query, definitionCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances of definition %d: %w", definitionCode, err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]models.InstanceSummary, 0)

	for rows.Next() {
		var instance models.InstanceSummary

		err := rows.Scan(&instance.ID, &instance.ParentID, &instance.Name, &instance.State, &instance.StartTime)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}
