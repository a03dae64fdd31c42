// Package state holds the normalized client-side store: the entity
// collections, the pure reducer that is their only mutation path, and the
// selectors that derive read-only views from them.
package state

import (
	"time"

	"github.com/crewdeck/crewdeck/domain"
)

// State is the normalized snapshot of everything the console knows. The
// reducer owns the canonical copies; every consumer treats a snapshot as
// read-only.
type State struct {
	Agents []domain.AgentConfig
	Tasks  []domain.TaskConfig
	Flows  []domain.FlowConfig
	Runs   []domain.FlowRun

	SelectedAgentID string
	SelectedFlowID  string
	SelectedRunID   string

	IsLoading bool
	Err       string
}

// Reduce applies one action to a state and returns the resulting state. It
// is pure: the input is never mutated, and an unrecognized action returns
// the input unchanged.
func Reduce(s State, action Action) State {
	return reduceAt(s, action, time.Now)
}

// reduceAt is Reduce with an injectable clock for UpdatedAt stamping.
func reduceAt(s State, action Action, now func() time.Time) State {
	switch a := action.(type) {
	case InitData:
		s.Agents = append([]domain.AgentConfig(nil), a.Agents...)
		s.Tasks = append([]domain.TaskConfig(nil), a.Tasks...)
		s.Flows = append([]domain.FlowConfig(nil), a.Flows...)
		s.Err = ""
		s.IsLoading = false
		return s

	case SetLoading:
		s.IsLoading = a.Loading
		return s

	case SetError:
		s.Err = a.Err
		s.IsLoading = false
		return s

	case AddAgent:
		s.Agents = append(append([]domain.AgentConfig(nil), s.Agents...), a.Agent)
		return s

	case UpdateAgent:
		s.Agents = replaceAgent(s.Agents, a.Agent)
		return s

	case DeleteAgent:
		agents := make([]domain.AgentConfig, 0, len(s.Agents))
		for _, ag := range s.Agents {
			if ag.ID != a.ID {
				agents = append(agents, ag)
			}
		}
		s.Agents = agents
		// Cascade: referencing tasks become unassigned, never deleted.
		tasks := make([]domain.TaskConfig, len(s.Tasks))
		for i, t := range s.Tasks {
			if t.AgentID == a.ID {
				t.AgentID = ""
			}
			tasks[i] = t
		}
		s.Tasks = tasks
		return s

	case AddTask:
		s.Tasks = append(append([]domain.TaskConfig(nil), s.Tasks...), a.Task)
		return s

	case UpdateTask:
		s.Tasks = replaceTask(s.Tasks, a.Task)
		return s

	case DeleteTask:
		tasks := make([]domain.TaskConfig, 0, len(s.Tasks))
		for _, t := range s.Tasks {
			if t.ID == a.ID {
				continue
			}
			// Cascade: no surviving task may reference the deleted id.
			if containsID(t.ContextTaskIDs, a.ID) {
				ctx := make([]string, 0, len(t.ContextTaskIDs))
				for _, id := range t.ContextTaskIDs {
					if id != a.ID {
						ctx = append(ctx, id)
					}
				}
				t.ContextTaskIDs = ctx
			}
			tasks = append(tasks, t)
		}
		s.Tasks = tasks
		return s

	case AddFlow:
		s.Flows = append(append([]domain.FlowConfig(nil), s.Flows...), a.Flow)
		return s

	case UpdateFlow:
		s.Flows = replaceFlow(s.Flows, a.Flow)
		return s

	case DeleteFlow:
		flows := make([]domain.FlowConfig, 0, len(s.Flows))
		for _, f := range s.Flows {
			if f.ID != a.ID {
				flows = append(flows, f)
			}
		}
		s.Flows = flows
		return s

	case SetSelectedAgent:
		s.SelectedAgentID = a.ID
		return s

	case SetSelectedFlow:
		s.SelectedFlowID = a.ID
		return s

	case SetSelectedRun:
		s.SelectedRunID = a.ID
		return s

	case StartRun:
		s.Runs = append(append([]domain.FlowRun(nil), s.Runs...), a.Run)
		s.SelectedRunID = a.Run.ID
		return s

	case UpdateRunStatus:
		runs, found := copyRuns(s.Runs, a.RunID)
		if !found {
			return s
		}
		for i := range runs {
			if runs[i].ID == a.RunID {
				runs[i].Status = a.Status
				runs[i].UpdatedAt = now()
			}
		}
		s.Runs = runs
		return s

	case UpdateTaskRun:
		runs, found := copyRuns(s.Runs, a.RunID)
		if !found {
			return s
		}
		for i := range runs {
			if runs[i].ID != a.RunID {
				continue
			}
			runs[i].TaskRuns = upsertTaskRun(runs[i].TaskRuns, a.TaskRun)
			runs[i].UpdatedAt = now()
		}
		s.Runs = runs
		return s
	}

	return s
}

func replaceAgent(agents []domain.AgentConfig, agent domain.AgentConfig) []domain.AgentConfig {
	out := append([]domain.AgentConfig(nil), agents...)
	for i := range out {
		if out[i].ID == agent.ID {
			out[i] = agent
		}
	}
	return out
}

func replaceTask(tasks []domain.TaskConfig, task domain.TaskConfig) []domain.TaskConfig {
	out := append([]domain.TaskConfig(nil), tasks...)
	for i := range out {
		if out[i].ID == task.ID {
			out[i] = task
		}
	}
	return out
}

func replaceFlow(flows []domain.FlowConfig, flow domain.FlowConfig) []domain.FlowConfig {
	out := append([]domain.FlowConfig(nil), flows...)
	for i := range out {
		if out[i].ID == flow.ID {
			out[i] = flow
		}
	}
	return out
}

// copyRuns returns a deep-enough copy of runs for in-place edits, plus
// whether runID is present at all.
func copyRuns(runs []domain.FlowRun, runID string) ([]domain.FlowRun, bool) {
	found := false
	out := make([]domain.FlowRun, len(runs))
	for i, r := range runs {
		if r.ID == runID {
			found = true
			r.TaskRuns = append([]domain.TaskRunInfo(nil), r.TaskRuns...)
		}
		out[i] = r
	}
	return out, found
}

// upsertTaskRun replaces the entry with the same TaskID in place, or appends
// when no entry exists. A run never holds two entries for one task.
func upsertTaskRun(taskRuns []domain.TaskRunInfo, tr domain.TaskRunInfo) []domain.TaskRunInfo {
	for i := range taskRuns {
		if taskRuns[i].TaskID == tr.TaskID {
			taskRuns[i] = tr
			return taskRuns
		}
	}
	return append(taskRuns, tr)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
