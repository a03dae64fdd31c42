// Package runner drives one run at a time: it starts a run against the
// backend, opens a single event-stream subscription, reconciles inbound
// events into run status, and tears the stream down on completion, failure
// or user cancellation.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crewdeck/crewdeck/client"
	"github.com/crewdeck/crewdeck/domain"
	"github.com/crewdeck/crewdeck/notify"
	"github.com/crewdeck/crewdeck/state"
)

// ErrRunInFlight is returned when StartRun is called while a run is already
// in progress on this controller.
var ErrRunInFlight = errors.New("a run is already in progress")

// RunAPI is the backend surface the controller needs.
type RunAPI interface {
	StartRun(ctx context.Context, flowID, input string) (domain.FlowRun, error)
	Subscribe(runID string, handler client.EventHandler, done func(error)) func()
}

// LogEntry is one line of the live run log, in event-arrival order.
type LogEntry struct {
	Agent     string
	Severity  domain.LogSeverity
	Content   string
	Timestamp time.Time
}

// Controller owns at most one open subscription at a time. All state it
// derives from the stream is pushed through Dispatch; the log is the only
// thing it keeps locally.
type Controller struct {
	api      RunAPI
	dispatch func(state.Action)
	notifier notify.Notifier

	// OnLog, when set, is invoked for every appended log entry.
	OnLog func(LogEntry)

	mu          sync.Mutex
	isRunning   bool
	runID       string
	unsubscribe func()
	logs        []LogEntry
}

// New creates a controller.
func New(api RunAPI, dispatch func(state.Action), notifier notify.Notifier) *Controller {
	if notifier == nil {
		notifier = notify.Log{}
	}
	return &Controller{api: api, dispatch: dispatch, notifier: notifier}
}

// IsRunning reports whether a run is in flight.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRunning
}

// Logs returns a copy of the accumulated log entries.
func (c *Controller) Logs() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.logs...)
}

// StartRun starts a run for flowID and opens the event subscription. A
// second call while a run is in flight is rejected immediately and does not
// touch the backend. On start failure the error is logged and surfaced and
// the controller stays idle; there is no automatic retry.
func (c *Controller) StartRun(ctx context.Context, flowID, input string) (*domain.FlowRun, error) {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		c.notifier.Notify(notify.SeverityError, "Run in progress",
			"wait for the current run to finish or stop it first")
		return nil, ErrRunInFlight
	}
	c.isRunning = true
	c.mu.Unlock()

	c.appendLog("System", domain.SeverityInfo, "Initializing crew run...")

	run, err := c.api.StartRun(ctx, flowID, input)
	if err != nil {
		c.appendLog("System", domain.SeverityError, "Failed to start run: "+err.Error())
		c.notifier.Notify(notify.SeverityError, "Failed to start run", err.Error())
		c.mu.Lock()
		c.isRunning = false
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.runID = run.ID
	c.mu.Unlock()

	c.dispatch(state.StartRun{Run: run})

	// Open the stream and record its handle in one lock window. Events are
	// delivered on the subscription's own goroutine, so a terminal event the
	// stream replays immediately blocks in handleEvent until the handle is in
	// place and finish can release it.
	c.mu.Lock()
	c.unsubscribe = c.api.Subscribe(run.ID, c.handleEvent, c.streamDone)
	c.mu.Unlock()

	return &run, nil
}

// handleEvent reconciles one inbound event. Events are normalized before any
// business logic runs; terminal kinds shut the subscription down, everything
// else only appends a log line.
func (c *Controller) handleEvent(ev domain.StreamEvent) {
	c.mu.Lock()
	if !c.isRunning {
		// Terminal already; late events are ignored.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	e := domain.Normalize(ev)

	agent := e.Agent
	if agent == "" {
		agent = "System"
	}
	c.appendLog(agent, e.Severity, e.Content)

	switch e.Kind {
	case domain.KindRunDone:
		c.finish(domain.RunStatusCompleted, "")
	case domain.KindRunFailed:
		msg := e.Error
		if msg == "" {
			msg = e.Content
		}
		c.finish(domain.RunStatusFailed, msg)
	}
}

// finish closes out the run exactly once: releases the subscription, flips
// isRunning, dispatches the terminal status, and notifies the caller.
func (c *Controller) finish(status domain.RunStatus, errMsg string) {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	runID := c.runID
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.dispatch(state.UpdateRunStatus{RunID: runID, Status: status})

	if status == domain.RunStatusCompleted {
		c.notifier.Notify(notify.SeveritySuccess, "Run completed", "crew run finished successfully")
		return
	}
	if errMsg == "" {
		errMsg = "crew run failed"
	}
	c.notifier.Notify(notify.SeverityError, "Run failed", errMsg)
}

// streamDone runs when the subscription goroutine exits.
func (c *Controller) streamDone(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	c.mu.Lock()
	running := c.isRunning
	c.mu.Unlock()
	if running {
		c.appendLog("System", domain.SeverityError, "Event stream error: "+err.Error())
	}
}

// StopRun cancels the run from the user's side. Cancellation is modeled as
// a failure, not a distinct terminal state.
func (c *Controller) StopRun() {
	c.mu.Lock()
	if !c.isRunning && c.unsubscribe == nil {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	runID := c.runID
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.appendLog("System", domain.SeverityInfo, "Run stopped by user")
	if runID != "" {
		c.dispatch(state.UpdateRunStatus{RunID: runID, Status: domain.RunStatusFailed})
	}
}

// Close releases the subscription without touching run state. Call on
// teardown so a run that never reached a terminal state does not leak an
// open stream.
func (c *Controller) Close() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.isRunning = false
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *Controller) appendLog(agent string, severity domain.LogSeverity, content string) {
	entry := LogEntry{Agent: agent, Severity: severity, Content: content, Timestamp: time.Now()}
	c.mu.Lock()
	c.logs = append(c.logs, entry)
	onLog := c.OnLog
	c.mu.Unlock()
	if onLog != nil {
		onLog(entry)
	}
}
