// Package web provides HTTP handlers and REST API endpoints for workflow definition management.
package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/flowdef/pkg/models"
	"github.com/dukex/flowdef/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

var errEmptyCodes = errors.New("at least one code is required")

type APIHandlers struct {
	definitions *services.Definition
	lifecycle   *services.Lifecycle
	structure   *services.Structure
	migration   *services.Migration
	validator   *validator.Validate
}

func NewAPIHandlers(
	definitions *services.Definition,
	lifecycle *services.Lifecycle,
	structure *services.Structure,
	migration *services.Migration,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		definitions: definitions,
		lifecycle:   lifecycle,
		structure:   structure,
		migration:   migration,
		validator:   validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.definitions.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Flowdef API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Flowdef API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.definitions.Create(c.Context(), services.CreateDefinitionRequest{
		ProjectID:        c.Params("project"),
		Name:             req.Name,
		Description:      req.Description,
		GlobalParameters: req.GlobalParameters,
		Tasks:            req.Tasks,
		Relations:        req.Relations,
		Layout:           req.Layout,
		TimeoutSeconds:   req.TimeoutSeconds,
		TenantCode:       req.TenantCode,
		Owner:            req.Owner,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetDefinitions(c fiber.Ctx) error {
	req := services.ListDefinitionsRequest{
		ProjectID: c.Params("project"),
		Search:    c.Query("search"),
		Owner:     c.Query("owner"),
	}

	var err error

	if req.Page, err = queryInt(c, "page"); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if req.PageSize, err = queryInt(c, "page_size"); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.definitions.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetAllDefinitions(c fiber.Ctx) error {
	definitions, err := h.definitions.ListAll(c.Context(), c.Params("project"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definitions)
}

func (h *APIHandlers) VerifyName(c fiber.Ctx) error {
	err := h.definitions.VerifyName(c.Context(), c.Params("project"), c.Query("name"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetDefinition(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	return c.JSON(existing)
}

func (h *APIHandlers) UpdateDefinition(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	var req services.UpdateDefinitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.definitions.Update(projectContext(c), existing.Code, req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	if err := h.definitions.Delete(projectContext(c), existing.Code); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ReleaseDefinition(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	var req ReleaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	released, err := h.lifecycle.SetReleaseState(projectContext(c), existing.Code, req.ReleaseState)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(released)
}

func (h *APIHandlers) GetVersions(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	page, err := queryInt(c, "page")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	pageSize, err := queryInt(c, "page_size")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	versions, err := h.lifecycle.ListVersions(projectContext(c), existing.Code, page, pageSize)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(versions)
}

func (h *APIHandlers) SwitchVersion(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	version, err := strconv.Atoi(c.Params("version"))
	if err != nil {
		return badRequest(c, "Version must be an integer")
	}

	switched, err := h.lifecycle.SwitchVersion(projectContext(c), existing.Code, version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(switched)
}

func (h *APIHandlers) DeleteVersion(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	version, err := strconv.Atoi(c.Params("version"))
	if err != nil {
		return badRequest(c, "Version must be an integer")
	}

	if err := h.lifecycle.DeleteVersion(projectContext(c), existing.Code, version); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetTaskNodes(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	tasks, err := h.structure.ListTaskNodes(projectContext(c), existing.Code)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(tasks)
}

func (h *APIHandlers) GetTaskNodesForCodes(c fiber.Ctx) error {
	codes, err := parseCodes(c.Query("codes"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.structure.ListTaskNodesForCodes(c.Context(), codes)
	if err != nil {
		return handleServiceError(c, err)
	}

	response := make(map[string][]*models.TaskNode, len(result))
	for code, tasks := range result {
		response[strconv.FormatInt(code, 10)] = tasks
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetTree(c fiber.Ctx, existing *models.WorkflowDefinition) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	roots, err := h.structure.ViewTree(projectContext(c), existing.Code, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TreeResponse{Code: existing.Code, Limit: limit, Roots: roots})
}

func (h *APIHandlers) CopyDefinitions(c fiber.Ctx) error {
	var req BatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	results, err := h.migration.Copy(c.Context(), req.Codes, c.Params("project"), req.TargetProjectID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"results": TransformCopyResults(results)})
}

func (h *APIHandlers) MoveDefinitions(c fiber.Ctx) error {
	var req BatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	results, err := h.migration.Move(c.Context(), req.Codes, c.Params("project"), req.TargetProjectID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"results": TransformMoveResults(results)})
}

func (h *APIHandlers) ExportDefinitions(c fiber.Ctx) error {
	codes, err := parseCodes(c.Query("codes"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var buf bytes.Buffer

	err = h.definitions.Export(c.Context(), c.Params("project"), codes, NewJSONExporter(&buf))
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="definitions.json"`)

	return c.Send(buf.Bytes())
}

func (h *APIHandlers) GenerateCodes(c fiber.Ctx) error {
	count, err := queryInt(c, "count")
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	if count == 0 {
		count = 1
	}

	codes, err := h.definitions.GenerateCodes(c.Context(), count)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"codes": codes})
}

// withDefinition resolves the :code path parameter before calling next. Definitions of other
// projects are reported as not found.
func (h *APIHandlers) withDefinition(next func(fiber.Ctx, *models.WorkflowDefinition) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		code, err := strconv.ParseInt(c.Params("code"), 10, 64)
		if err != nil {
			return badRequest(c, "Definition code must be an integer")
		}

		definition, err := h.definitions.FetchByCode(projectContext(c), code)
		if err != nil {
			return handleServiceError(c, err)
		}

		return next(c, definition)
	}
}

// projectContext scopes the request context to the project in the route, so services re-check
// ownership under their own locks.
func projectContext(c fiber.Ctx) context.Context {
	return services.WithProject(c.Context(), c.Params("project"))
}

func queryInt(c fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}

	return strconv.Atoi(raw)
}

func parseCodes(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errEmptyCodes
	}

	parts := strings.Split(raw, ",")
	codes := make([]int64, 0, len(parts))

	for _, part := range parts {
		code, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.New("codes must be a comma separated list of integers")
		}

		codes = append(codes, code)
	}

	return codes, nil
}
