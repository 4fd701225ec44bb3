package graph

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dukex/flowdef/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

const predicateSchema = `{
	"type": "object",
	"required": ["predicates"],
	"properties": {
		"predicates": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["taskCode", "status"],
				"properties": {
					"taskCode": {"type": "integer"},
					"status": {"enum": ["SUCCESS", "FAILURE"]}
				}
			}
		}
	}
}`

var conditionSchemaSources = map[models.ConditionType]string{
	models.ConditionTypeAnd: predicateSchema,
	models.ConditionTypeOr:  predicateSchema,
}

var taskParamsSchemaSources = map[models.TaskType]string{
	models.TaskTypeShell: `{
		"type": "object",
		"required": ["rawScript"],
		"properties": {"rawScript": {"type": "string", "minLength": 1}}
	}`,
	models.TaskTypeSubProcess: `{
		"type": "object",
		"required": ["definitionCode"],
		"properties": {"definitionCode": {"type": "integer", "minimum": 1}}
	}`,
	models.TaskTypeConditions: `{
		"type": "object",
		"required": ["dependence"],
		"properties": {"dependence": {"type": "object"}}
	}`,
}

// opaqueParamsSchema applies to task types without a dedicated schema.
const opaqueParamsSchema = `{"type": ["object", "null"]}`

// Schemas holds the compiled payload schemas used by the validator.
type Schemas struct {
	conditions map[models.ConditionType]*gojsonschema.Schema
	tasks      map[models.TaskType]*gojsonschema.Schema
	opaque     *gojsonschema.Schema
}

// NewSchemas compiles the built-in condition and task parameter schemas.
func NewSchemas() (*Schemas, error) {
	s := &Schemas{
		conditions: make(map[models.ConditionType]*gojsonschema.Schema, len(conditionSchemaSources)),
		tasks:      make(map[models.TaskType]*gojsonschema.Schema, len(taskParamsSchemaSources)),
	}

	for conditionType, source := range conditionSchemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s condition schema: %w", conditionType, err)
		}

		s.conditions[conditionType] = schema
	}

	for taskType, source := range taskParamsSchemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s params schema: %w", taskType, err)
		}

		s.tasks[taskType] = schema
	}

	opaque, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(opaqueParamsSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile opaque params schema: %w", err)
	}

	s.opaque = opaque

	return s, nil
}

// checkCondition validates the payload of an AND/OR edge. It returns a human readable reason
// when the payload does not match.
func (s *Schemas) checkCondition(conditionType models.ConditionType, payload []byte) (string, bool) {
	schema, ok := s.conditions[conditionType]
	if !ok {
		return fmt.Sprintf("unknown condition type %q", conditionType), false
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return "condition params are required", false
	}

	return validateAgainst(schema, payload)
}

func (s *Schemas) checkTaskParams(taskType models.TaskType, payload []byte) (string, bool) {
	schema, ok := s.tasks[taskType]
	if !ok {
		if len(bytes.TrimSpace(payload)) == 0 {
			return "", true
		}

		schema = s.opaque
	} else if len(bytes.TrimSpace(payload)) == 0 {
		return "params are required", false
	}

	return validateAgainst(schema, payload)
}

func validateAgainst(schema *gojsonschema.Schema, payload []byte) (string, bool) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return "payload is not valid JSON: " + err.Error(), false
	}

	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			reasons = append(reasons, resultErr.String())
		}

		return strings.Join(reasons, "; "), false
	}

	return "", true
}
