package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/config"
	"github.com/crewdeck/crewdeck/domain"
	"github.com/crewdeck/crewdeck/policy"
)

func newRunTestHandler(t *testing.T) *Handler {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	cfg := &config.Config{
		TaskStepDelay:     time.Millisecond,
		StreamMaxDuration: 5 * time.Second,
		EventPollInterval: time.Millisecond,
	}
	return NewHandler(newTestStore(t), cfg, engine)
}

func seedFlow(t *testing.T, h *Handler, taskIDs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.CreateAgent(ctx, domain.AgentConfig{ID: "researcher", Name: "Researcher"}))
	for _, id := range taskIDs {
		require.NoError(t, h.store.CreateTask(ctx, domain.TaskConfig{ID: id, Name: id, AgentID: "researcher"}))
	}
	require.NoError(t, h.store.CreateFlow(ctx, domain.FlowConfig{
		ID: "f1", Name: "Main", Process: domain.ProcessSequential,
		AgentIDs: []string{"researcher"}, TaskIDs: taskIDs,
	}))
}

func TestStartRunUnknownFlow(t *testing.T) {
	h := newRunTestHandler(t)

	c, rec := request(http.MethodPost, "/flows/ghost/runs", `{"input":""}`, map[string]string{"id": "ghost"})
	require.NoError(t, h.StartRun(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRunBlockedByPolicy(t *testing.T) {
	h := newRunTestHandler(t)

	// A flow with no resolvable tasks is blocked before any run is created.
	require.NoError(t, h.store.CreateFlow(context.Background(), domain.FlowConfig{ID: "empty"}))

	c, rec := request(http.MethodPost, "/flows/empty/runs", `{"input":""}`, map[string]string{"id": "empty"})
	require.NoError(t, h.StartRun(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "blocked by policy")
}

func TestStartRunExecutesToCompletion(t *testing.T) {
	h := newRunTestHandler(t)
	seedFlow(t, h, "research", "write")

	c, rec := request(http.MethodPost, "/flows/f1/runs", `{"input":"AI trends"}`, map[string]string{"id": "f1"})
	require.NoError(t, h.StartRun(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	run := decodeData[domain.FlowRun](t, rec)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.Equal(t, "AI trends", run.Input)

	require.Eventually(t, func() bool {
		got, err := h.store.GetRun(context.Background(), run.ID)
		return err == nil && got != nil && got.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)

	got, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Len(t, got.TaskRuns, 2)
	for _, tr := range got.TaskRuns {
		assert.Equal(t, domain.RunStatusCompleted, tr.Status)
		assert.NotEmpty(t, tr.OutputSummary)
	}
	assert.NotEmpty(t, got.FinalOutput)

	events, err := h.store.EventsAfter(context.Background(), run.ID, 0, 100)
	require.NoError(t, err)
	// task_started + task_completed per task, then run_completed.
	require.Len(t, events, 5)
	assert.Equal(t, domain.StreamEventTaskStarted, events[0].Event.Type)
	assert.Equal(t, "Researcher", events[0].Event.Agent)
	assert.Equal(t, domain.StreamEventRunCompleted, events[4].Event.Type)
}

func TestStartRunSkipsMissingTasks(t *testing.T) {
	h := newRunTestHandler(t)
	seedFlow(t, h, "research")
	// Point the flow at one real and one stale task id.
	require.NoError(t, h.store.UpdateFlow(context.Background(), domain.FlowConfig{
		ID: "f1", Process: domain.ProcessSequential, TaskIDs: []string{"research", "deleted_long_ago"},
	}))

	c, rec := request(http.MethodPost, "/flows/f1/runs", `{"input":""}`, map[string]string{"id": "f1"})
	require.NoError(t, h.StartRun(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	run := decodeData[domain.FlowRun](t, rec)
	require.Eventually(t, func() bool {
		got, err := h.store.GetRun(context.Background(), run.ID)
		return err == nil && got != nil && got.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)

	got, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	require.Len(t, got.TaskRuns, 1)
	assert.Equal(t, "research", got.TaskRuns[0].TaskID)
}

func TestCancelRun(t *testing.T) {
	h := newRunTestHandler(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, h.store.CreateRun(ctx, &domain.FlowRun{
		ID: "r1", FlowID: "f1", Status: domain.RunStatusRunning, CreatedAt: now, UpdatedAt: now,
	}))

	c, rec := request(http.MethodPost, "/runs/r1/cancel", "", map[string]string{"id": "r1"})
	require.NoError(t, h.CancelRun(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := h.store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)

	events, err := h.store.EventsAfter(ctx, "r1", 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.StreamEventRunFailed, events[0].Event.Type)

	// Cancelling a terminal run is a no-op, not an error.
	c, rec = request(http.MethodPost, "/runs/r1/cancel", "", map[string]string{"id": "r1"})
	require.NoError(t, h.CancelRun(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	events, err = h.store.EventsAfter(ctx, "r1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	c, rec = request(http.MethodPost, "/runs/ghost/cancel", "", map[string]string{"id": "ghost"})
	require.NoError(t, h.CancelRun(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun(t *testing.T) {
	h := newRunTestHandler(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, h.store.CreateRun(ctx, &domain.FlowRun{
		ID: "r1", FlowID: "f1", Status: domain.RunStatusCompleted, CreatedAt: now, UpdatedAt: now,
	}))

	c, rec := request(http.MethodGet, "/runs/r1", "", map[string]string{"id": "r1"})
	require.NoError(t, h.GetRun(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	run := decodeData[domain.FlowRun](t, rec)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)

	c, rec = request(http.MethodGet, "/runs/ghost", "", map[string]string{"id": "ghost"})
	require.NoError(t, h.GetRun(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
