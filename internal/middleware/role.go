package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dossier-workflow/internal/model"
)

// RequireRole lets through principals holding one of roles.  Mount it after
// JWTAuth; a request without a principal is refused as well.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	roles = slices.Clone(roles)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p, ok := PrincipalFrom(c); ok && slices.Contains(roles, p.Role) {
				return next(c)
			}
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":   "forbidden",
				"message": "your role does not allow this operation",
			})
		}
	}
}
