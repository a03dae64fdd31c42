package domain

import "encoding/json"

// StreamEventType enumerates the wire-level event types produced by the
// backend's run event stream.
type StreamEventType string

const (
	StreamEventTaskStarted   StreamEventType = "task_started"
	StreamEventTaskCompleted StreamEventType = "task_completed"
	StreamEventRunCompleted  StreamEventType = "run_completed"
	StreamEventRunFailed     StreamEventType = "run_failed"
	StreamEventLog           StreamEventType = "log"
	StreamEventError         StreamEventType = "error"
	StreamEventThought       StreamEventType = "thought"
	StreamEventInfo          StreamEventType = "info"
	StreamEventSuccess       StreamEventType = "success"
)

// StreamEvent is the wire shape of a single run event. The backend may
// signal completion either through Type or through Status; consumers must
// tolerate both, and must tolerate missing Message/Output.
type StreamEvent struct {
	Type      StreamEventType `json:"type,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Output    string          `json:"output,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Status    RunStatus       `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// EventKind is the internal tagged variant a wire event normalizes into.
// All business logic branches on the kind, never on the raw Type/Status pair.
type EventKind int

const (
	KindLog EventKind = iota
	KindStarted
	KindTaskDone
	KindRunDone
	KindRunFailed
)

// LogSeverity classifies how a log line for an event should be rendered.
type LogSeverity string

const (
	SeverityInfo    LogSeverity = "info"
	SeverityError   LogSeverity = "error"
	SeveritySuccess LogSeverity = "success"
	SeverityThought LogSeverity = "thought"
)

// Event is the normalized form of a StreamEvent.
type Event struct {
	Kind     EventKind
	Severity LogSeverity
	TaskID   string
	Agent    string
	Content  string
	Error    string
	Raw      StreamEvent
}

// Normalize maps a wire event into the internal tagged variant. Completion
// is recognized through either signaling field: an explicit run_completed /
// run_failed type, or a bare completed / failed status.
func Normalize(ev StreamEvent) Event {
	out := Event{
		Kind:     KindLog,
		Severity: classify(ev),
		TaskID:   ev.TaskID,
		Agent:    ev.Agent,
		Content:  content(ev),
		Error:    ev.Error,
		Raw:      ev,
	}

	switch {
	case ev.Type == StreamEventRunCompleted, ev.Type == "" && ev.Status == RunStatusCompleted:
		out.Kind = KindRunDone
	case ev.Type == StreamEventRunFailed, ev.Type == "" && ev.Status == RunStatusFailed:
		out.Kind = KindRunFailed
	case ev.Type == StreamEventTaskCompleted:
		out.Kind = KindTaskDone
	case ev.Type == StreamEventTaskStarted:
		out.Kind = KindStarted
	}
	return out
}

func classify(ev StreamEvent) LogSeverity {
	switch ev.Type {
	case StreamEventError, StreamEventRunFailed:
		return SeverityError
	case StreamEventTaskCompleted:
		return SeveritySuccess
	case StreamEventThought:
		return SeverityThought
	}
	if ev.Type == "" && ev.Status == RunStatusFailed {
		return SeverityError
	}
	return SeverityInfo
}

// content falls back through message, then output, then a JSON dump of the
// whole event so that no inbound event ever renders as an empty line.
func content(ev StreamEvent) string {
	if ev.Message != "" {
		return ev.Message
	}
	if ev.Output != "" {
		return ev.Output
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return ""
	}
	return string(raw)
}
