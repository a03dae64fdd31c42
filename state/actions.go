package state

import "github.com/crewdeck/crewdeck/domain"

// Action is a state transition applied through Reduce. The set of actions is
// closed: only types in this package satisfy the interface.
type Action interface {
	isAction()
}

// InitData replaces all three entity collections in a single transition so
// observers never see a partially loaded snapshot. It also clears any error
// and ends the loading state.
type InitData struct {
	Agents []domain.AgentConfig
	Tasks  []domain.TaskConfig
	Flows  []domain.FlowConfig
}

// SetLoading toggles the global loading flag.
type SetLoading struct {
	Loading bool
}

// SetError records a user-visible error message; an empty string clears it.
// Setting an error always ends the loading state.
type SetError struct {
	Err string
}

type AddAgent struct {
	Agent domain.AgentConfig
}

type UpdateAgent struct {
	Agent domain.AgentConfig
}

// DeleteAgent removes an agent and resets AgentID on every task that
// referenced it.
type DeleteAgent struct {
	ID string
}

type AddTask struct {
	Task domain.TaskConfig
}

type UpdateTask struct {
	Task domain.TaskConfig
}

// DeleteTask removes a task and strips its id from every remaining task's
// ContextTaskIDs.
type DeleteTask struct {
	ID string
}

type AddFlow struct {
	Flow domain.FlowConfig
}

type UpdateFlow struct {
	Flow domain.FlowConfig
}

type DeleteFlow struct {
	ID string
}

// SetSelectedAgent moves the UI focus pointer; an empty ID clears it.
type SetSelectedAgent struct {
	ID string
}

type SetSelectedFlow struct {
	ID string
}

type SetSelectedRun struct {
	ID string
}

// StartRun appends a freshly created run and selects it.
type StartRun struct {
	Run domain.FlowRun
}

// UpdateRunStatus sets the status of the run with the given id and refreshes
// its UpdatedAt. No-op if the run is unknown.
type UpdateRunStatus struct {
	RunID  string
	Status domain.RunStatus
}

// UpdateTaskRun upserts a TaskRunInfo into the run's TaskRuns keyed by
// TaskID: replaced in place when present, appended otherwise.
type UpdateTaskRun struct {
	RunID   string
	TaskRun domain.TaskRunInfo
}

func (InitData) isAction()         {}
func (SetLoading) isAction()       {}
func (SetError) isAction()         {}
func (AddAgent) isAction()         {}
func (UpdateAgent) isAction()      {}
func (DeleteAgent) isAction()      {}
func (AddTask) isAction()          {}
func (UpdateTask) isAction()       {}
func (DeleteTask) isAction()       {}
func (AddFlow) isAction()          {}
func (UpdateFlow) isAction()       {}
func (DeleteFlow) isAction()       {}
func (SetSelectedAgent) isAction() {}
func (SetSelectedFlow) isAction()  {}
func (SetSelectedRun) isAction()   {}
func (StartRun) isAction()         {}
func (UpdateRunStatus) isAction()  {}
func (UpdateTaskRun) isAction()    {}
