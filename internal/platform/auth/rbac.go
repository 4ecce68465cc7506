package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

const RoleAdmin = "admin"

// HasAnyRole reports whether granted covers one of required. Admin covers all.
func HasAnyRole(granted []string, required ...string) bool {
	if slices.Contains(granted, RoleAdmin) {
		return true
	}
	for _, r := range required {
		if slices.Contains(granted, r) {
			return true
		}
	}
	return false
}

// RequireRole rejects callers holding none of roles with 403.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return echo.NewHTTPError(http.StatusForbidden, "required role: "+strings.Join(roles, " or "))
			}
			return next(c)
		}
	}
}
