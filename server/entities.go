package server

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/crewdeck/crewdeck/domain"
)

// Agents.

// ListAgents handles GET /agents.
func (h *Handler) ListAgents(c echo.Context) error {
	agents, err := h.store.ListAgents(c.Request().Context())
	if err != nil {
		log.Printf("ERROR: failed to list agents: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to list agents")
	}
	if agents == nil {
		agents = []domain.AgentConfig{}
	}
	return ok(c, agents)
}

// CreateAgent handles POST /agents.
func (h *Handler) CreateAgent(c echo.Context) error {
	ctx := c.Request().Context()

	var agent domain.AgentConfig
	if err := c.Bind(&agent); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if agent.ID == "" {
		return fail(c, http.StatusBadRequest, "id is required")
	}

	existing, err := h.store.GetAgent(ctx, agent.ID)
	if err != nil {
		log.Printf("ERROR: failed to check agent: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to create agent")
	}
	if existing != nil {
		return fail(c, http.StatusConflict, "agent already exists")
	}

	if err := h.store.CreateAgent(ctx, agent); err != nil {
		log.Printf("ERROR: failed to create agent: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to create agent")
	}
	return created(c, agent)
}

// UpdateAgent handles PUT /agents/:id. The path id wins over any id in the
// body; agent ids are immutable once persisted.
func (h *Handler) UpdateAgent(c echo.Context) error {
	ctx := c.Request().Context()

	var agent domain.AgentConfig
	if err := c.Bind(&agent); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	agent.ID = c.Param("id")

	existing, err := h.store.GetAgent(ctx, agent.ID)
	if err != nil {
		log.Printf("ERROR: failed to get agent: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to update agent")
	}
	if existing == nil {
		return fail(c, http.StatusNotFound, "agent not found")
	}

	if err := h.store.UpdateAgent(ctx, agent); err != nil {
		log.Printf("ERROR: failed to update agent: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to update agent")
	}
	return ok(c, agent)
}

// DeleteAgent handles DELETE /agents/:id. Tasks that referenced the agent
// become unassigned; they are never deleted.
func (h *Handler) DeleteAgent(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	existing, err := h.store.GetAgent(ctx, id)
	if err != nil {
		log.Printf("ERROR: failed to get agent: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to delete agent")
	}
	if existing == nil {
		return fail(c, http.StatusNotFound, "agent not found")
	}

	if err := h.store.DeleteAgent(ctx, id); err != nil {
		log.Printf("ERROR: failed to delete agent: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to delete agent")
	}
	return ok(c, map[string]string{"id": id})
}

// Tasks.

func (h *Handler) ListTasks(c echo.Context) error {
	tasks, err := h.store.ListTasks(c.Request().Context())
	if err != nil {
		log.Printf("ERROR: failed to list tasks: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to list tasks")
	}
	if tasks == nil {
		tasks = []domain.TaskConfig{}
	}
	return ok(c, tasks)
}

func (h *Handler) CreateTask(c echo.Context) error {
	ctx := c.Request().Context()

	var task domain.TaskConfig
	if err := c.Bind(&task); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if task.ID == "" {
		return fail(c, http.StatusBadRequest, "id is required")
	}
	for _, ctxID := range task.ContextTaskIDs {
		if ctxID == task.ID {
			return fail(c, http.StatusBadRequest, "task cannot reference itself as context")
		}
	}

	existing, err := h.store.GetTask(ctx, task.ID)
	if err != nil {
		log.Printf("ERROR: failed to check task: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to create task")
	}
	if existing != nil {
		return fail(c, http.StatusConflict, "task already exists")
	}

	if err := h.store.CreateTask(ctx, task); err != nil {
		log.Printf("ERROR: failed to create task: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to create task")
	}
	return created(c, task)
}

func (h *Handler) UpdateTask(c echo.Context) error {
	ctx := c.Request().Context()

	var task domain.TaskConfig
	if err := c.Bind(&task); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	task.ID = c.Param("id")
	for _, ctxID := range task.ContextTaskIDs {
		if ctxID == task.ID {
			return fail(c, http.StatusBadRequest, "task cannot reference itself as context")
		}
	}

	existing, err := h.store.GetTask(ctx, task.ID)
	if err != nil {
		log.Printf("ERROR: failed to get task: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to update task")
	}
	if existing == nil {
		return fail(c, http.StatusNotFound, "task not found")
	}

	if err := h.store.UpdateTask(ctx, task); err != nil {
		log.Printf("ERROR: failed to update task: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to update task")
	}
	return ok(c, task)
}

func (h *Handler) DeleteTask(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	existing, err := h.store.GetTask(ctx, id)
	if err != nil {
		log.Printf("ERROR: failed to get task: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to delete task")
	}
	if existing == nil {
		return fail(c, http.StatusNotFound, "task not found")
	}

	if err := h.store.DeleteTask(ctx, id); err != nil {
		log.Printf("ERROR: failed to delete task: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to delete task")
	}
	return ok(c, map[string]string{"id": id})
}

// Flows.

func (h *Handler) ListFlows(c echo.Context) error {
	flows, err := h.store.ListFlows(c.Request().Context())
	if err != nil {
		log.Printf("ERROR: failed to list flows: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to list flows")
	}
	if flows == nil {
		flows = []domain.FlowConfig{}
	}
	return ok(c, flows)
}

func (h *Handler) CreateFlow(c echo.Context) error {
	ctx := c.Request().Context()

	var flow domain.FlowConfig
	if err := c.Bind(&flow); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if flow.ID == "" {
		return fail(c, http.StatusBadRequest, "id is required")
	}
	if flow.Process == "" {
		flow.Process = domain.ProcessSequential
	}

	existing, err := h.store.GetFlow(ctx, flow.ID)
	if err != nil {
		log.Printf("ERROR: failed to check flow: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to create flow")
	}
	if existing != nil {
		return fail(c, http.StatusConflict, "flow already exists")
	}

	if err := h.store.CreateFlow(ctx, flow); err != nil {
		log.Printf("ERROR: failed to create flow: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to create flow")
	}
	return created(c, flow)
}

func (h *Handler) UpdateFlow(c echo.Context) error {
	ctx := c.Request().Context()

	var flow domain.FlowConfig
	if err := c.Bind(&flow); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	flow.ID = c.Param("id")

	existing, err := h.store.GetFlow(ctx, flow.ID)
	if err != nil {
		log.Printf("ERROR: failed to get flow: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to update flow")
	}
	if existing == nil {
		return fail(c, http.StatusNotFound, "flow not found")
	}

	if err := h.store.UpdateFlow(ctx, flow); err != nil {
		log.Printf("ERROR: failed to update flow: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to update flow")
	}
	return ok(c, flow)
}

func (h *Handler) DeleteFlow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	existing, err := h.store.GetFlow(ctx, id)
	if err != nil {
		log.Printf("ERROR: failed to get flow: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to delete flow")
	}
	if existing == nil {
		return fail(c, http.StatusNotFound, "flow not found")
	}

	if err := h.store.DeleteFlow(ctx, id); err != nil {
		log.Printf("ERROR: failed to delete flow: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to delete flow")
	}
	return ok(c, map[string]string{"id": id})
}
