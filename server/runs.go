package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/crewdeck/crewdeck/domain"
)

// startRunRequest is the body of POST /flows/:id/runs.
type startRunRequest struct {
	Input string `json:"input"`
}

// StartRun handles POST /flows/:id/runs: creates the run, moves it to
// running, and hands it to the simulated executor. The run-policy engine is
// consulted first.
func (h *Handler) StartRun(c echo.Context) error {
	ctx := c.Request().Context()
	flowID := c.Param("id")

	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}

	flow, err := h.store.GetFlow(ctx, flowID)
	if err != nil {
		log.Printf("ERROR: failed to get flow: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to start run")
	}
	if flow == nil {
		return fail(c, http.StatusNotFound, "flow not found")
	}

	tasks := h.resolveTasks(ctx, flow)

	if h.policy != nil {
		decision, err := h.policy.Evaluate(ctx, map[string]interface{}{
			"flow_id":    flow.ID,
			"task_count": len(tasks),
			"process":    string(flow.Process),
		})
		if err != nil {
			log.Printf("ERROR: failed to evaluate run policy: %v", err)
			return fail(c, http.StatusInternalServerError, "failed to start run")
		}
		if decision == "block" {
			return fail(c, http.StatusForbidden, "run blocked by policy: flow has no tasks")
		}
	}

	now := time.Now()
	run := &domain.FlowRun{
		ID:        "run_" + uuid.New().String()[:8],
		FlowID:    flow.ID,
		Status:    domain.RunStatusRunning,
		Input:     req.Input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		log.Printf("ERROR: failed to create run: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to start run")
	}

	go h.executeRun(run.ID, tasks)

	return created(c, run)
}

// GetRun handles GET /runs/:id.
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to get run")
	}
	if run == nil {
		return fail(c, http.StatusNotFound, "run not found")
	}
	return ok(c, run)
}

// CancelRun handles POST /runs/:id/cancel. Cancellation maps to the failed
// terminal state; cancelling an already terminal run is a no-op.
func (h *Handler) CancelRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to cancel run")
	}
	if run == nil {
		return fail(c, http.StatusNotFound, "run not found")
	}

	if run.Status.IsTerminal() {
		return ok(c, run)
	}

	if err := h.store.CompleteRun(ctx, runID, domain.RunStatusFailed, ""); err != nil {
		log.Printf("ERROR: failed to cancel run: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to cancel run")
	}
	if err := h.store.AppendEvent(ctx, runID, domain.StreamEvent{
		Type:      domain.StreamEventRunFailed,
		Message:   "Run cancelled by user",
		Error:     "cancelled",
		Timestamp: time.Now().Format(time.RFC3339),
	}); err != nil {
		log.Printf("ERROR: failed to record cancel event: %v", err)
	}

	run.Status = domain.RunStatusFailed
	log.Printf("INFO: run %s cancelled", runID)
	return ok(c, run)
}

// resolveTasks maps a flow's task id list to task configs, skipping ids
// that no longer resolve (flows are not cascaded on task deletion).
func (h *Handler) resolveTasks(ctx context.Context, flow *domain.FlowConfig) []domain.TaskConfig {
	var tasks []domain.TaskConfig
	for _, id := range flow.TaskIDs {
		task, err := h.store.GetTask(ctx, id)
		if err != nil {
			log.Printf("WARN: failed to resolve task %s: %v", id, err)
			continue
		}
		if task == nil {
			log.Printf("WARN: flow %s references missing task %s", flow.ID, id)
			continue
		}
		tasks = append(tasks, *task)
	}
	return tasks
}

// executeRun walks the flow's tasks in order, emitting events as each one
// starts and completes, then marks the run completed. A run that turns
// terminal underneath us (cancel) stops the walk.
func (h *Handler) executeRun(runID string, tasks []domain.TaskConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StreamMaxDuration)
	defer cancel()

	var outputs []string
	for _, task := range tasks {
		run, err := h.store.GetRun(ctx, runID)
		if err != nil || run == nil {
			log.Printf("ERROR: failed to reload run %s: %v", runID, err)
			return
		}
		if run.Status.IsTerminal() {
			return
		}

		agentName := h.agentDisplayName(ctx, task.AgentID)
		started := time.Now()

		if err := h.store.UpsertTaskRun(ctx, runID, domain.TaskRunInfo{
			TaskID:    task.ID,
			Status:    domain.RunStatusRunning,
			StartedAt: &started,
		}, task.ID); err != nil {
			log.Printf("ERROR: failed to record task start: %v", err)
		}
		h.appendEvent(ctx, runID, domain.StreamEvent{
			Type:    domain.StreamEventTaskStarted,
			TaskID:  task.ID,
			Agent:   agentName,
			Message: "Starting task: " + taskLabel(task),
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(h.cfg.TaskStepDelay):
		}

		finished := time.Now()
		summary := "Completed task: " + taskLabel(task)
		outputs = append(outputs, summary)

		if err := h.store.UpsertTaskRun(ctx, runID, domain.TaskRunInfo{
			TaskID:        task.ID,
			Status:        domain.RunStatusCompleted,
			StartedAt:     &started,
			FinishedAt:    &finished,
			OutputSummary: summary,
		}, ""); err != nil {
			log.Printf("ERROR: failed to record task completion: %v", err)
		}
		h.appendEvent(ctx, runID, domain.StreamEvent{
			Type:   domain.StreamEventTaskCompleted,
			TaskID: task.ID,
			Agent:  agentName,
			Output: summary,
		})
	}

	run, err := h.store.GetRun(ctx, runID)
	if err != nil || run == nil || run.Status.IsTerminal() {
		return
	}

	finalOutput := strings.Join(outputs, "\n")
	if err := h.store.CompleteRun(ctx, runID, domain.RunStatusCompleted, finalOutput); err != nil {
		log.Printf("ERROR: failed to complete run: %v", err)
	}
	h.appendEvent(ctx, runID, domain.StreamEvent{
		Type:    domain.StreamEventRunCompleted,
		Message: "Crew run completed",
		Output:  finalOutput,
	})
}

func (h *Handler) appendEvent(ctx context.Context, runID string, ev domain.StreamEvent) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().Format(time.RFC3339)
	}
	if err := h.store.AppendEvent(ctx, runID, ev); err != nil {
		log.Printf("ERROR: failed to append event: %v", err)
	}
}

func (h *Handler) agentDisplayName(ctx context.Context, agentID string) string {
	if agentID == "" {
		return ""
	}
	agent, err := h.store.GetAgent(ctx, agentID)
	if err != nil || agent == nil {
		return ""
	}
	if agent.Name != "" {
		return agent.Name
	}
	return agent.Role
}

func taskLabel(task domain.TaskConfig) string {
	if task.Name != "" {
		return task.Name
	}
	return task.ID
}
