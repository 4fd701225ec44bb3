package web

import "github.com/gofiber/fiber/v3"

// Register mounts the definition API on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	router.Get("/definitions/tasks", h.GetTaskNodesForCodes)
	router.Post("/codes", h.GenerateCodes)

	d := router.Group("/projects/:project/definitions")
	d.Get("/", h.GetDefinitions)
	d.Post("/", h.CreateDefinition)
	d.Get("/all", h.GetAllDefinitions)
	d.Get("/verify-name", h.VerifyName)
	d.Get("/export", h.ExportDefinitions)
	d.Post("/batch-copy", h.CopyDefinitions)
	d.Post("/batch-move", h.MoveDefinitions)

	d.Get("/:code<int>", h.withDefinition(h.GetDefinition))
	d.Put("/:code<int>", h.withDefinition(h.UpdateDefinition))
	d.Delete("/:code<int>", h.withDefinition(h.DeleteDefinition))
	d.Post("/:code<int>/release", h.withDefinition(h.ReleaseDefinition))
	d.Get("/:code<int>/versions", h.withDefinition(h.GetVersions))
	d.Post("/:code<int>/versions/:version<int>/switch", h.withDefinition(h.SwitchVersion))
	d.Delete("/:code<int>/versions/:version<int>", h.withDefinition(h.DeleteVersion))
	d.Get("/:code<int>/tasks", h.withDefinition(h.GetTaskNodes))
	d.Get("/:code<int>/tree", h.withDefinition(h.GetTree))
}
