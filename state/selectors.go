package state

import (
	"strings"

	"github.com/crewdeck/crewdeck/domain"
)

// AgentByID returns the agent with the given id, or nil when absent.
func AgentByID(s State, id string) *domain.AgentConfig {
	for i := range s.Agents {
		if s.Agents[i].ID == id {
			return &s.Agents[i]
		}
	}
	return nil
}

// TaskByID returns the task with the given id, or nil when absent.
func TaskByID(s State, id string) *domain.TaskConfig {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// AgentName resolves an agent id to a display name: "Unassigned" for an
// empty id, "Unknown" when the id does not resolve, otherwise the agent's
// name falling back to its role.
func AgentName(s State, id string) string {
	if id == "" {
		return "Unassigned"
	}
	agent := AgentByID(s, id)
	if agent == nil {
		return "Unknown"
	}
	if agent.Name != "" {
		return agent.Name
	}
	return agent.Role
}

// AvailableContextTasks returns the tasks strictly before taskID in the
// current task order. A task may only consume output of tasks that precede
// it, so the first task (and an unknown id) gets an empty list.
func AvailableContextTasks(s State, taskID string) []domain.TaskConfig {
	for i := range s.Tasks {
		if s.Tasks[i].ID == taskID {
			return append([]domain.TaskConfig(nil), s.Tasks[:i]...)
		}
	}
	return nil
}

// TaskName derives a slug-style display name for a task. Ids without a
// hyphen are used verbatim; generated ids fall back to the first two
// significant words of the description.
func TaskName(task domain.TaskConfig) string {
	if !strings.Contains(task.ID, "-") {
		return task.ID
	}
	var words []string
	for _, w := range strings.Fields(task.Description) {
		if len(w) > 2 {
			words = append(words, strings.ToLower(w))
		}
		if len(words) == 2 {
			break
		}
	}
	if len(words) == 0 {
		return "task"
	}
	return strings.Join(words, "_") + "_task"
}
