// Package web provides HTTP request and response types for the workflow definition API.
package web

import (
	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/services"
)

// CreateDefinitionRequest represents the request body for creating a definition. The project
// comes from the path.
type CreateDefinitionRequest struct {
	Name             string                   `json:"name"              validate:"required"`
	Description      string                   `json:"description"`
	GlobalParameters []models.GlobalParameter `json:"global_parameters"`
	Tasks            []*models.TaskNode       `json:"tasks"             validate:"required,min=1"`
	Relations        []*models.DependencyEdge `json:"relations"`
	Layout           models.Layout            `json:"layout"`
	TimeoutSeconds   int                      `json:"timeout_seconds"`
	TenantCode       string                   `json:"tenant_code"`
	Owner            string                   `json:"owner"`
}

// ReleaseRequest represents the request body for a release state transition.
type ReleaseRequest struct {
	ReleaseState models.ReleaseState `json:"release_state" validate:"required,oneof=DRAFT ONLINE OFFLINE"`
}

// BatchRequest represents the request body for copying or moving definitions to another project.
type BatchRequest struct {
	Codes           []int64 `json:"codes"             validate:"required,min=1,max=100"`
	TargetProjectID string  `json:"target_project_id" validate:"required"`
}

// BatchItemError describes why one code of a batch failed.
type BatchItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CopyResultResponse is the outcome of copying one definition.
type CopyResultResponse struct {
	SourceCode int64           `json:"source_code"`
	NewCode    int64           `json:"new_code,omitempty"`
	Name       string          `json:"name,omitempty"`
	Error      *BatchItemError `json:"error,omitempty"`
}

// MoveResultResponse is the outcome of moving one definition.
type MoveResultResponse struct {
	Code  int64           `json:"code"`
	Error *BatchItemError `json:"error,omitempty"`
}

// TreeResponse wraps the run tree of a definition.
type TreeResponse struct {
	Code  int64              `json:"code"`
	Limit int                `json:"limit"`
	Roots []*models.TreeNode `json:"roots"`
}

func batchItemError(err error) *BatchItemError {
	if err == nil {
		return nil
	}

	code := services.ErrorCode(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}

	return &BatchItemError{Code: code, Message: err.Error()}
}

// TransformCopyResults converts service results into their API representation.
func TransformCopyResults(results []services.CopyResult) []CopyResultResponse {
	response := make([]CopyResultResponse, 0, len(results))

	for _, result := range results {
		response = append(response, CopyResultResponse{
			SourceCode: result.SourceCode,
			NewCode:    result.NewCode,
			Name:       result.Name,
			Error:      batchItemError(result.Err),
		})
	}

	return response
}

// TransformMoveResults converts service results into their API representation.
func TransformMoveResults(results []services.MoveResult) []MoveResultResponse {
	response := make([]MoveResultResponse, 0, len(results))

	for _, result := range results {
		response = append(response, MoveResultResponse{
			Code:  result.Code,
			Error: batchItemError(result.Err),
		})
	}

	return response
}
