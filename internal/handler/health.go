package handler // declare the package name; contains HTTP handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/task-management-api/internal/database"
)

// appVersion is reported by the health endpoint.
const appVersion = "1.0.0"

// Health is a simple health‑check endpoint used by load balancers and
// monitoring systems to verify that the service is running.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "healthy",
		"version":   appVersion,
		"timestamp": time.Now().UTC(),
	})
}

// Ready returns a readiness handler that pings the database. The
// deployment platform stops routing traffic here while the datastore is
// unreachable.
func Ready(db *sql.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := database.Ready(c.Request().Context(), db); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not ready", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	}
}

// Live is the liveness probe; it only proves the process is serving.
func Live(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "alive"})
}
