package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dossier-workflow/internal/middleware"
)

// RegisterClient mounts the dossier routes open to every authenticated
// role.  Ownership is enforced by the workflow engine.
func RegisterClient(e *echo.Echo, d Deps) {
	g := e.Group("/v1", middleware.JWTAuth(d.JWTSecret))
	h := d.Client

	g.GET("/dossiers", h.ListDossiers)
	g.GET("/dossiers/:id/workflow", h.Workflow)
	g.GET("/dossiers/:id/progress", h.Progress)
	g.POST("/dossiers/:id/advance", h.Advance)
	g.POST("/dossiers/:id/steps/:step_id", h.OpenStep)
	g.GET("/dossiers/:id/documents", h.Documents)

	g.GET("/step-instances/:id", h.StepDetail)
	g.PUT("/step-instances/:id/draft", h.SaveDraft)
	g.POST("/step-instances/:id/submit", h.Submit)
	g.POST("/step-instances/:id/resubmit", h.Resubmit)

	g.POST("/documents", h.Upload, uploadChain(d)...)
	g.GET("/documents/:id/versions", h.Versions)
	g.GET("/documents/:id/view", h.ViewDocument)
	g.GET("/document-versions/:id/view", h.ViewVersion)

	g.GET("/notifications", h.Notifications)
	g.POST("/notifications/:id/read", h.MarkNotificationRead)
}
