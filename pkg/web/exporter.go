package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dukex/flowdef/pkg/models"
)

// JSONExporter writes resolved definitions as an indented JSON array.
type JSONExporter struct {
	w io.Writer
}

func NewJSONExporter(w io.Writer) *JSONExporter {
	return &JSONExporter{w: w}
}

func (e *JSONExporter) Export(_ context.Context, definitions []*models.WorkflowDefinition) error {
	encoder := json.NewEncoder(e.w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(definitions); err != nil {
		return fmt.Errorf("failed to encode definitions: %w", err)
	}

	return nil
}
