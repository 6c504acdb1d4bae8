// Package router registers the HTTP routes per audience.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/dossier-workflow/internal/handler"
	"github.com/iliyamo/dossier-workflow/internal/middleware"
)

// Handlers and middleware needed by the route table.  Limit and Cache may
// be nil, in which case those routes run unthrottled and uncached.
type Deps struct {
	JWTSecret string

	Auth    *handler.AuthHandler
	Client  *handler.ClientHandler
	Admin   *handler.AdminHandler
	Catalog *handler.CatalogHandler
	Files   *handler.FilesHandler
	Ready   echo.HandlerFunc

	// AuthLimit throttles credential endpoints, UploadLimit document
	// uploads and deliveries.
	AuthLimit   echo.MiddlewareFunc
	UploadLimit echo.MiddlewareFunc
	PublicCache echo.MiddlewareFunc

	// MaxUploadBody caps multipart bodies, in echo's size notation.
	MaxUploadBody string
}

const defaultMaxUploadBody = "32M"

// uploadChain bounds the body before the rate limiter spends a token.
func uploadChain(d Deps) []echo.MiddlewareFunc {
	limit := d.MaxUploadBody
	if limit == "" {
		limit = defaultMaxUploadBody
	}
	return []echo.MiddlewareFunc{echomw.BodyLimit(limit), orPass(d.UploadLimit)}
}

func orPass(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return m
}

// Register mounts every route on e.
func Register(e *echo.Echo, d Deps) {
	RegisterHealth(e, d)
	RegisterAuth(e, d)
	RegisterPublic(e, d)
	RegisterClient(e, d)
	RegisterAdmin(e, d)
}

// RegisterHealth mounts the liveness and readiness probes.
func RegisterHealth(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.Ready != nil {
		e.GET("/readyz", d.Ready)
	}
}

// RegisterAuth mounts /v1/auth and /v1/me.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth", orPass(d.AuthLimit))
	g.POST("/register", d.Auth.Register)
	g.POST("/login", d.Auth.Login)
	g.POST("/refresh", d.Auth.Refresh)
	g.POST("/refresh-access", d.Auth.RefreshAccess)
	g.POST("/logout", d.Auth.Logout)

	e.GET("/v1/me", d.Auth.Me, middleware.JWTAuth(d.JWTSecret))
}

// RegisterPublic mounts the cached catalog reads and the signed file
// download, none of which need a session.
func RegisterPublic(e *echo.Echo, d Deps) {
	cache := orPass(d.PublicCache)
	e.GET("/v1/products", d.Catalog.Products, cache)
	e.GET("/v1/products/:id/workflow", d.Catalog.ProductWorkflow, cache)
	e.GET("/files/:token", d.Files.Download)
}
