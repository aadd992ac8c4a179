package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/task-management-api/internal/repository"
	"github.com/iliyamo/task-management-api/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the authenticated user's id and role into the request
// context under "user_id" (uint64) and "role" (string). The provided
// secret must match the one used when issuing tokens.
//
// When a UserRepo is supplied the subject is also checked against the
// credential store: a deleted or deactivated account invalidates every
// outstanding access token immediately, which is the revocation signal
// for access tokens. Passing nil skips the lookup (used by tests).
func JWTAuth(secret string, users *repository.UserRepo) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			role := claims.Role
			if users != nil {
				ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
				defer cancel()
				u, err := users.GetByID(ctx, claims.UserID)
				if err != nil {
					if err == sql.ErrNoRows {
						return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
					}
					return c.JSON(http.StatusInternalServerError, echo.Map{"error": "auth lookup failed"})
				}
				if !u.IsActive {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
				}
				// Role changes take effect on the next request, not the next login.
				role = u.Role
			}

			c.Set("user_id", claims.UserID)
			c.Set("role", role)
			return next(c)
		}
	}
}
