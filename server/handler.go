// Package server implements the crew orchestration backend contract the
// console consumes: REST CRUD for agents/tasks/flows, run start/cancel with
// a simulated executor, and the per-run event stream over SSE and WebSocket.
package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/crewdeck/crewdeck/config"
	"github.com/crewdeck/crewdeck/policy"
)

// Handler serves the backend HTTP API.
type Handler struct {
	store  *Store
	cfg    *config.Config
	policy *policy.Engine
}

// NewHandler creates a handler.
func NewHandler(store *Store, cfg *config.Config, policyEngine *policy.Engine) *Handler {
	return &Handler{store: store, cfg: cfg, policy: policyEngine}
}

// RegisterRoutes mounts the API on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	if h.cfg.AuthToken != "" {
		e.Use(h.requireBearer)
	}

	e.GET("/agents", h.ListAgents)
	e.POST("/agents", h.CreateAgent)
	e.PUT("/agents/:id", h.UpdateAgent)
	e.DELETE("/agents/:id", h.DeleteAgent)

	e.GET("/tasks", h.ListTasks)
	e.POST("/tasks", h.CreateTask)
	e.PUT("/tasks/:id", h.UpdateTask)
	e.DELETE("/tasks/:id", h.DeleteTask)

	e.GET("/flows", h.ListFlows)
	e.POST("/flows", h.CreateFlow)
	e.PUT("/flows/:id", h.UpdateFlow)
	e.DELETE("/flows/:id", h.DeleteFlow)

	e.POST("/flows/:id/runs", h.StartRun)
	e.GET("/runs/:id", h.GetRun)
	e.POST("/runs/:id/cancel", h.CancelRun)
	e.GET("/runs/:id/events", h.StreamRunEvents)
	e.GET("/runs/:id/events/ws", h.StreamRunEventsWS)
}

// requireBearer is the whole of the auth story: a single token check.
func (h *Handler) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get("Authorization") != "Bearer "+h.cfg.AuthToken {
			return fail(c, http.StatusUnauthorized, "invalid or missing token")
		}
		return next(c)
	}
}

// ok wraps a success payload in the { "data": ... } envelope.
func ok(c echo.Context, v interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": v})
}

func created(c echo.Context, v interface{}) error {
	return c.JSON(http.StatusCreated, map[string]interface{}{"data": v})
}

func fail(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
