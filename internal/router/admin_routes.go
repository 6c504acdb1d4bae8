package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dossier-workflow/internal/middleware"
	"github.com/iliyamo/dossier-workflow/internal/model"
)

// RegisterAdmin mounts /v1/admin for staff.  Catalog writes are further
// restricted to admins.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/v1/admin",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(model.RoleAgent, model.RoleAdmin),
	)
	h := d.Admin

	g.POST("/dossiers", h.CreateDossier)
	g.GET("/dossiers", h.ListDossiers)
	g.PUT("/dossiers/:id/status", h.SetStatus)
	g.POST("/dossiers/:id/cancel", h.Cancel)
	g.PUT("/dossiers/:id/agent", h.Reassign)
	g.GET("/dossiers/:id/audit", h.AuditTrail)
	g.POST("/dossiers/:id/deliveries", h.Deliver, uploadChain(d)...)

	g.POST("/step-instances/:id/review", h.StartReview)
	g.POST("/step-instances/:id/approve", h.ApproveStep)
	g.POST("/step-instances/:id/reject", h.RejectStep)
	g.POST("/step-instances/:id/complete", h.CompleteStep)
	g.POST("/step-instances/:id/force-complete", h.ForceComplete)
	g.POST("/step-instances/:id/fields/:field_id/approve", h.ApproveField)
	g.POST("/step-instances/:id/fields/:field_id/reject", h.RejectField)

	g.POST("/documents/:id/approve", h.ApproveDocument)
	g.POST("/documents/:id/reject", h.RejectDocument)
	g.POST("/documents/:id/outdated", h.MarkOutdated)

	adminOnly := middleware.RequireRole(model.RoleAdmin)
	c := d.Catalog
	g.POST("/products", c.CreateProduct, adminOnly)
	g.POST("/products/:id/steps", c.AddProductStep, adminOnly)
	g.PUT("/products/:id/steps", c.ReorderSteps, adminOnly)
	g.POST("/steps", c.CreateStep, adminOnly)
	g.POST("/steps/:id/fields", c.AddStepField, adminOnly)
	g.POST("/document-types", c.CreateDocumentType, adminOnly)
	g.POST("/product-steps/:id/document-types", c.AttachDocumentType, adminOnly)
	g.POST("/catalog/seed", c.Seed, adminOnly)
}
