package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/task-management-api/internal/handler"
	"github.com/iliyamo/task-management-api/internal/middleware"
	"github.com/iliyamo/task-management-api/internal/repository"
)

// RegisterProbes registers the unauthenticated operational endpoints: the
// health/readiness/liveness probes for the deployment platform and the
// Prometheus scrape target.
func RegisterProbes(e *echo.Echo, db *sql.DB) {
	e.GET("/health", handler.Health)
	e.GET("/ready", handler.Ready(db))
	e.GET("/live", handler.Live)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers authentication routes under /api/v1/auth.
// Register, login and refresh are open; logout and the identity endpoint
// require a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, users *repository.UserRepo) {
	g := e.Group("/api/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)

	protected := e.Group("/api/v1",
		middleware.JWTAuth(jwtSecret, users),
		middleware.RequireRole(repository.RoleUser, repository.RoleAdmin),
	)
	protected.POST("/auth/logout", a.Logout)
	protected.GET("/auth/me", a.Me)
}

// RegisterTasks registers the task CRUD surface under /api/v1/tasks. Every
// route requires a valid access token; the handlers scope all repository
// calls to the authenticated actor, so an unauthenticated request never
// reaches the task store.
func RegisterTasks(e *echo.Echo, t *handler.TaskHandler, jwtSecret string, users *repository.UserRepo) {
	g := e.Group("/api/v1/tasks",
		middleware.JWTAuth(jwtSecret, users),
		middleware.RequireRole(repository.RoleUser, repository.RoleAdmin),
	)
	g.POST("", t.Create)
	g.GET("", t.List)
	g.GET("/stats/summary", t.Stats)
	g.GET("/:id", t.Get)
	g.PUT("/:id", t.Update)
	g.PATCH("/:id", t.Update) // allow partial/semantic updates via PATCH as well
	g.DELETE("/:id", t.Delete)
}
