package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crewdeck/crewdeck/client"
	"github.com/crewdeck/crewdeck/domain"
	"github.com/crewdeck/crewdeck/notify"
	"github.com/crewdeck/crewdeck/state"
)

type fakeRunAPI struct {
	startCalls int32
	startErr   error

	// replay, when set, is delivered on the subscription goroutine as soon
	// as the stream opens, like a recorded terminal event replayed to a late
	// subscriber.
	replay *domain.StreamEvent

	handler    client.EventHandler
	unsubCalls int32
}

func (f *fakeRunAPI) StartRun(ctx context.Context, flowID, input string) (domain.FlowRun, error) {
	atomic.AddInt32(&f.startCalls, 1)
	if f.startErr != nil {
		return domain.FlowRun{}, f.startErr
	}
	return domain.FlowRun{ID: "r1", FlowID: flowID, Status: domain.RunStatusRunning}, nil
}

func (f *fakeRunAPI) Subscribe(runID string, handler client.EventHandler, done func(error)) func() {
	f.handler = handler
	if f.replay != nil {
		ev := *f.replay
		go handler(ev)
	}
	return func() { atomic.AddInt32(&f.unsubCalls, 1) }
}

type actionLog struct {
	actions []state.Action
}

func (l *actionLog) dispatch(a state.Action) {
	l.actions = append(l.actions, a)
}

func (l *actionLog) statusUpdates() []state.UpdateRunStatus {
	var out []state.UpdateRunStatus
	for _, a := range l.actions {
		if u, ok := a.(state.UpdateRunStatus); ok {
			out = append(out, u)
		}
	}
	return out
}

func newController(f *fakeRunAPI) (*Controller, *actionLog, *notify.Recorder) {
	log := &actionLog{}
	rec := &notify.Recorder{}
	return New(f, log.dispatch, rec), log, rec
}

func TestStartRunRejectsSecondRun(t *testing.T) {
	f := &fakeRunAPI{}
	c, _, rec := newController(f)

	if _, err := c.StartRun(context.Background(), "f1", ""); err != nil {
		t.Fatalf("first StartRun failed: %v", err)
	}
	if !c.IsRunning() {
		t.Fatalf("controller not running after start")
	}

	if _, err := c.StartRun(context.Background(), "f1", ""); !errors.Is(err, ErrRunInFlight) {
		t.Fatalf("second StartRun error = %v, want ErrRunInFlight", err)
	}
	if f.startCalls != 1 {
		t.Fatalf("backend StartRun called %d times", f.startCalls)
	}
	if len(rec.Entries) != 1 || rec.Entries[0].Severity != notify.SeverityError {
		t.Fatalf("expected one error notification for the rejected start, got %+v", rec.Entries)
	}
}

func TestStartFailureLeavesControllerIdle(t *testing.T) {
	f := &fakeRunAPI{startErr: errors.New("flow not found")}
	c, log, rec := newController(f)

	if _, err := c.StartRun(context.Background(), "f1", ""); err == nil {
		t.Fatalf("expected error")
	}
	if c.IsRunning() {
		t.Fatalf("controller stuck running after failed start")
	}
	if len(rec.Entries) != 1 {
		t.Fatalf("expected one notification, got %+v", rec.Entries)
	}
	for _, a := range log.actions {
		if _, okAction := a.(state.StartRun); okAction {
			t.Fatalf("start action dispatched despite failure")
		}
	}

	// A retry after failure is allowed.
	f.startErr = nil
	if _, err := c.StartRun(context.Background(), "f1", ""); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestCompletionByTypeAndByStatus(t *testing.T) {
	for name, ev := range map[string]domain.StreamEvent{
		"typed":      {Type: domain.StreamEventRunCompleted, Message: "all done"},
		"statusOnly": {Status: domain.RunStatusCompleted},
	} {
		t.Run(name, func(t *testing.T) {
			f := &fakeRunAPI{}
			c, log, rec := newController(f)

			if _, err := c.StartRun(context.Background(), "f1", ""); err != nil {
				t.Fatalf("StartRun failed: %v", err)
			}
			f.handler(ev)

			if c.IsRunning() {
				t.Fatalf("still running after completion event")
			}
			updates := log.statusUpdates()
			if len(updates) != 1 || updates[0].Status != domain.RunStatusCompleted {
				t.Fatalf("status updates = %+v", updates)
			}
			if updates[0].RunID != "r1" {
				t.Fatalf("update targeted run %q", updates[0].RunID)
			}
			if f.unsubCalls != 1 {
				t.Fatalf("subscription released %d times", f.unsubCalls)
			}
			if len(rec.Entries) != 1 || rec.Entries[0].Severity != notify.SeveritySuccess {
				t.Fatalf("expected one success notification, got %+v", rec.Entries)
			}
		})
	}
}

// signalNotifier delivers notifications on a channel so a test can block
// until finish has fully run on the subscription goroutine.
type signalNotifier struct {
	ch chan notify.Severity
}

func (s signalNotifier) Notify(severity notify.Severity, title, message string) {
	s.ch <- severity
}

// A stream that replays a terminal event the moment it opens must still get
// its subscription released; the handle is recorded before the event can
// drive the run to completion.
func TestImmediateTerminalEventReleasesSubscription(t *testing.T) {
	f := &fakeRunAPI{replay: &domain.StreamEvent{Type: domain.StreamEventRunCompleted}}
	log := &actionLog{}
	sig := make(chan notify.Severity, 1)
	c := New(f, log.dispatch, signalNotifier{ch: sig})

	if _, err := c.StartRun(context.Background(), "f1", ""); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	select {
	case sev := <-sig:
		if sev != notify.SeveritySuccess {
			t.Fatalf("notification severity = %s", sev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run never finished after replayed terminal event")
	}

	if n := atomic.LoadInt32(&f.unsubCalls); n != 1 {
		t.Fatalf("subscription released %d times", n)
	}
	if c.IsRunning() {
		t.Fatalf("still running after replayed terminal event")
	}
	updates := log.statusUpdates()
	if len(updates) != 1 || updates[0].Status != domain.RunStatusCompleted {
		t.Fatalf("status updates = %+v", updates)
	}
}

func TestFailureEventNotifiesOnce(t *testing.T) {
	f := &fakeRunAPI{}
	c, log, rec := newController(f)

	if _, err := c.StartRun(context.Background(), "f1", ""); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	f.handler(domain.StreamEvent{Status: domain.RunStatusFailed, Error: "boom"})
	// A straggler after the terminal event must be ignored.
	f.handler(domain.StreamEvent{Type: domain.StreamEventLog, Message: "late"})

	updates := log.statusUpdates()
	if len(updates) != 1 || updates[0].Status != domain.RunStatusFailed {
		t.Fatalf("status updates = %+v", updates)
	}
	if len(rec.Entries) != 1 || rec.Entries[0].Severity != notify.SeverityError {
		t.Fatalf("expected exactly one error notification, got %+v", rec.Entries)
	}
	if rec.Entries[0].Message != "boom" {
		t.Fatalf("notification message = %q", rec.Entries[0].Message)
	}
}

func TestLogAccumulation(t *testing.T) {
	f := &fakeRunAPI{}
	c, _, _ := newController(f)

	var hook []LogEntry
	c.OnLog = func(e LogEntry) { hook = append(hook, e) }

	if _, err := c.StartRun(context.Background(), "f1", ""); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	f.handler(domain.StreamEvent{Type: domain.StreamEventLog, Agent: "researcher", Message: "searching"})
	f.handler(domain.StreamEvent{Type: domain.StreamEventTaskCompleted, TaskID: "t1", Output: "findings"})

	logs := c.Logs()
	// Initializing line plus the two events.
	if len(logs) != 3 {
		t.Fatalf("expected 3 log entries, got %d: %+v", len(logs), logs)
	}
	if logs[1].Agent != "researcher" || logs[1].Content != "searching" {
		t.Fatalf("log[1] = %+v", logs[1])
	}
	if logs[2].Severity != domain.SeveritySuccess {
		t.Fatalf("task completion severity = %s", logs[2].Severity)
	}
	if logs[2].Agent != "System" {
		t.Fatalf("agentless event attributed to %q", logs[2].Agent)
	}
	if len(hook) != len(logs) {
		t.Fatalf("OnLog saw %d entries, logs hold %d", len(hook), len(logs))
	}
}

func TestStopRun(t *testing.T) {
	f := &fakeRunAPI{}
	c, log, _ := newController(f)

	if _, err := c.StartRun(context.Background(), "f1", ""); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	c.StopRun()

	if c.IsRunning() {
		t.Fatalf("still running after stop")
	}
	if f.unsubCalls != 1 {
		t.Fatalf("subscription released %d times", f.unsubCalls)
	}
	updates := log.statusUpdates()
	if len(updates) != 1 || updates[0].Status != domain.RunStatusFailed {
		t.Fatalf("cancellation must surface as failed, got %+v", updates)
	}

	logs := c.Logs()
	if logs[len(logs)-1].Content != "Run stopped by user" {
		t.Fatalf("missing stop log line, logs = %+v", logs)
	}

	// StopRun on an idle controller is a no-op.
	c.StopRun()
	if len(log.statusUpdates()) != 1 {
		t.Fatalf("idle stop dispatched a status update")
	}
}

func TestCloseReleasesSubscriptionWithoutStatusChange(t *testing.T) {
	f := &fakeRunAPI{}
	c, log, _ := newController(f)

	if _, err := c.StartRun(context.Background(), "f1", ""); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	c.Close()

	if f.unsubCalls != 1 {
		t.Fatalf("subscription released %d times", f.unsubCalls)
	}
	if len(log.statusUpdates()) != 0 {
		t.Fatalf("Close dispatched a status update: %+v", log.statusUpdates())
	}
}
