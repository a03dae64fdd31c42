// Package domain defines the core domain models for crewdeck.
package domain

import "time"

// Process determines how a flow schedules its tasks.
type Process string

const (
	ProcessSequential   Process = "sequential"
	ProcessHierarchical Process = "hierarchical"
	ProcessParallel     Process = "parallel"
)

// RunStatus represents the status of a flow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether a run in this status accepts further events.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// AgentConfig is one callable persona. The ID is a stable slug derived from
// the name at creation time and is immutable once persisted.
type AgentConfig struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Role            string   `json:"role"`
	Goal            string   `json:"goal"`
	Backstory       string   `json:"backstory"`
	Model           string   `json:"model"`
	Tools           []string `json:"tools,omitempty"`
	AllowDelegation bool     `json:"allow_delegation"`
	Verbose         bool     `json:"verbose"`
}

// TaskConfig is one step of work. AgentID may be empty, meaning the task is
// unassigned (manager-assigned at run time). ContextTaskIDs lists earlier
// tasks whose output this task consumes; it must never contain the task's
// own id.
type TaskConfig struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	ExpectedOutput string   `json:"expected_output"`
	AgentID        string   `json:"agent_id"`
	ContextTaskIDs []string `json:"context_task_ids,omitempty"`
	IsEntrypoint   bool     `json:"is_entrypoint"`
}

// FlowConfig is an ordered pipeline of tasks run by a subset of agents.
// AgentIDs and TaskIDs scope which entities the flow includes; they are NOT
// cascaded when an agent or task is deleted (flows act as versioned
// snapshots of their membership).
type FlowConfig struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Process     Process  `json:"process"`
	AgentIDs    []string `json:"agent_ids,omitempty"`
	TaskIDs     []string `json:"task_ids,omitempty"`
}

// TaskRunInfo records the status of a single task within a run. A run holds
// at most one entry per TaskID (upsert semantics).
type TaskRunInfo struct {
	TaskID        string     `json:"task_id"`
	Status        RunStatus  `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	OutputSummary string     `json:"output_summary,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// FlowRun is one execution instance of a flow.
type FlowRun struct {
	ID            string        `json:"id"`
	FlowID        string        `json:"flow_id"`
	Status        RunStatus     `json:"status"`
	CurrentTaskID string        `json:"current_task_id,omitempty"`
	TaskRuns      []TaskRunInfo `json:"task_runs,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Input         string        `json:"input,omitempty"`
	FinalOutput   string        `json:"final_output,omitempty"`
}
