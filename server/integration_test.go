package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/client"
	"github.com/crewdeck/crewdeck/domain"
)

// newTestServer stands up the full HTTP stack and returns a client pointed
// at it.
func newTestServer(t *testing.T) (*Handler, *client.Client) {
	t.Helper()
	h := newRunTestHandler(t)

	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return h, client.New(srv.URL, "")
}

func TestEndToEndRunOverSSE(t *testing.T) {
	_, api := newTestServer(t)
	ctx := context.Background()

	_, err := api.CreateAgent(ctx, domain.AgentConfig{ID: "researcher", Name: "Researcher"})
	require.NoError(t, err)
	_, err = api.CreateTask(ctx, domain.TaskConfig{ID: "research", Name: "research", AgentID: "researcher"})
	require.NoError(t, err)
	_, err = api.CreateTask(ctx, domain.TaskConfig{ID: "write", Name: "write", ContextTaskIDs: []string{"research"}})
	require.NoError(t, err)
	_, err = api.CreateFlow(ctx, domain.FlowConfig{
		ID: "f1", Process: domain.ProcessSequential, TaskIDs: []string{"research", "write"},
	})
	require.NoError(t, err)

	run, err := api.StartRun(ctx, "f1", "AI trends")
	require.NoError(t, err)
	require.Equal(t, domain.RunStatusRunning, run.Status)

	// The server closes the stream once the run turns terminal, so this
	// returns when the simulated executor finishes.
	var events []domain.StreamEvent
	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = api.StreamRunEvents(streamCtx, run.ID, func(ev domain.StreamEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	require.Len(t, events, 5)
	assert.Equal(t, domain.StreamEventTaskStarted, events[0].Type)
	assert.Equal(t, "research", events[0].TaskID)
	assert.Equal(t, domain.StreamEventRunCompleted, events[4].Type)

	final, err := api.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, final.Status)
	assert.Len(t, final.TaskRuns, 2)
}

func TestEndToEndRunOverWebSocket(t *testing.T) {
	h, api := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, h.store.CreateTask(ctx, domain.TaskConfig{ID: "only", Name: "only"}))
	require.NoError(t, h.store.CreateFlow(ctx, domain.FlowConfig{
		ID: "f1", Process: domain.ProcessSequential, TaskIDs: []string{"only"},
	}))

	run, err := api.StartRun(ctx, "f1", "")
	require.NoError(t, err)

	var events []domain.StreamEvent
	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = api.StreamRunEventsWS(streamCtx, run.ID, func(ev domain.StreamEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, domain.StreamEventRunCompleted, events[2].Type)
}

func TestEndToEndCancel(t *testing.T) {
	h, api := newTestServer(t)
	ctx := context.Background()

	// Slow the executor down so the run is still in flight when we cancel.
	h.cfg.TaskStepDelay = 200 * time.Millisecond

	require.NoError(t, h.store.CreateTask(ctx, domain.TaskConfig{ID: "slow", Name: "slow"}))
	require.NoError(t, h.store.CreateFlow(ctx, domain.FlowConfig{
		ID: "f1", Process: domain.ProcessSequential, TaskIDs: []string{"slow"},
	}))

	run, err := api.StartRun(ctx, "f1", "")
	require.NoError(t, err)

	require.NoError(t, api.CancelRun(ctx, run.ID))

	got, err := h.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
}
