package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/task-management-api/internal/repository"
)

// actor is the authenticated identity every task operation is scoped to.
type actor struct {
	UserID uint64
	Role   string
}

// admin reports whether the actor bypasses ownership scoping.
func (a actor) admin() bool { return a.Role == repository.RoleAdmin }

// getActor extracts the authenticated user from the echo context. The JWT
// middleware stores user_id as uint64 and role as string; anything else
// means the route was wired without authentication.
func getActor(c echo.Context) (actor, error) {
	var a actor
	switch t := c.Get("user_id").(type) {
	case uint64:
		a.UserID = t
	case int64:
		a.UserID = uint64(t)
	case float64:
		a.UserID = uint64(t)
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			return actor{}, errors.New("invalid user_id in context")
		}
		a.UserID = n
	default:
		return actor{}, errors.New("missing user_id in context")
	}
	if role, ok := c.Get("role").(string); ok {
		a.Role = role
	}
	if a.UserID == 0 {
		return actor{}, errors.New("invalid user_id in context")
	}
	return a, nil
}

// respondError translates domain errors into wire status codes. This is
// the single place where repository sentinels become HTTP responses;
// handlers call it for every non-nil error from the layers below.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "task not found"})
	case errors.Is(err, repository.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	case errors.Is(err, repository.ErrUsernameExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "username already registered"})
	case errors.Is(err, repository.ErrInvalidCredentials), errors.Is(err, repository.ErrUserInactive):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, repository.ErrSessionNotFound), errors.Is(err, repository.ErrSessionReused):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// respondValidation reports a request-schema violation as 422.
func respondValidation(c echo.Context, err error) error {
	return c.JSON(http.StatusUnprocessableEntity, echo.Map{
		"error":   "validation failed",
		"details": err.Error(),
	})
}
