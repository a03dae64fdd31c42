// Package crewfile reads and writes crew definitions (agents, tasks, flows)
// as a YAML document, used to seed the dev server and to export a crew from
// the console.
package crewfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crewdeck/crewdeck/domain"
)

// Crewfile is a full crew definition.
type Crewfile struct {
	Agents []Agent `yaml:"agents"`
	Tasks  []Task  `yaml:"tasks"`
	Flows  []Flow  `yaml:"flows"`
}

// Agent mirrors domain.AgentConfig with YAML field names.
type Agent struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Role            string   `yaml:"role,omitempty"`
	Goal            string   `yaml:"goal,omitempty"`
	Backstory       string   `yaml:"backstory,omitempty"`
	Model           string   `yaml:"model,omitempty"`
	Tools           []string `yaml:"tools,omitempty"`
	AllowDelegation bool     `yaml:"allow_delegation,omitempty"`
	Verbose         bool     `yaml:"verbose,omitempty"`
}

type Task struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name,omitempty"`
	Description    string   `yaml:"description,omitempty"`
	ExpectedOutput string   `yaml:"expected_output,omitempty"`
	AgentID        string   `yaml:"agent_id,omitempty"`
	ContextTaskIDs []string `yaml:"context_task_ids,omitempty"`
	IsEntrypoint   bool     `yaml:"is_entrypoint,omitempty"`
}

type Flow struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Process     string   `yaml:"process,omitempty"`
	AgentIDs    []string `yaml:"agent_ids,omitempty"`
	TaskIDs     []string `yaml:"task_ids,omitempty"`
}

// Load reads and validates a crewfile.
func Load(path string) (*Crewfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read crewfile: %w", err)
	}
	var cf Crewfile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse crewfile: %w", err)
	}
	if err := cf.validate(); err != nil {
		return nil, err
	}
	return &cf, nil
}

// Save writes a crewfile.
func Save(path string, cf *Crewfile) error {
	raw, err := yaml.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to marshal crewfile: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write crewfile: %w", err)
	}
	return nil
}

func (cf *Crewfile) validate() error {
	taskIDs := make(map[string]bool, len(cf.Tasks))
	for _, t := range cf.Tasks {
		if t.ID == "" {
			return fmt.Errorf("crewfile: task with empty id")
		}
		taskIDs[t.ID] = true
	}
	for _, t := range cf.Tasks {
		for _, ctxID := range t.ContextTaskIDs {
			if ctxID == t.ID {
				return fmt.Errorf("crewfile: task %s references itself as context", t.ID)
			}
			if !taskIDs[ctxID] {
				return fmt.Errorf("crewfile: task %s references unknown context task %s", t.ID, ctxID)
			}
		}
	}
	for _, a := range cf.Agents {
		if a.ID == "" {
			return fmt.Errorf("crewfile: agent with empty id")
		}
	}
	for _, f := range cf.Flows {
		if f.ID == "" {
			return fmt.Errorf("crewfile: flow with empty id")
		}
	}
	return nil
}

// Entities converts the crewfile into domain values.
func (cf *Crewfile) Entities() ([]domain.AgentConfig, []domain.TaskConfig, []domain.FlowConfig) {
	agents := make([]domain.AgentConfig, len(cf.Agents))
	for i, a := range cf.Agents {
		agents[i] = domain.AgentConfig{
			ID: a.ID, Name: a.Name, Role: a.Role, Goal: a.Goal, Backstory: a.Backstory,
			Model: a.Model, Tools: a.Tools, AllowDelegation: a.AllowDelegation, Verbose: a.Verbose,
		}
	}
	tasks := make([]domain.TaskConfig, len(cf.Tasks))
	for i, t := range cf.Tasks {
		tasks[i] = domain.TaskConfig{
			ID: t.ID, Name: t.Name, Description: t.Description, ExpectedOutput: t.ExpectedOutput,
			AgentID: t.AgentID, ContextTaskIDs: t.ContextTaskIDs, IsEntrypoint: t.IsEntrypoint,
		}
	}
	flows := make([]domain.FlowConfig, len(cf.Flows))
	for i, f := range cf.Flows {
		flows[i] = domain.FlowConfig{
			ID: f.ID, Name: f.Name, Description: f.Description,
			Process: domain.Process(f.Process), AgentIDs: f.AgentIDs, TaskIDs: f.TaskIDs,
		}
	}
	return agents, tasks, flows
}

// FromEntities builds a crewfile from domain values, for export.
func FromEntities(agents []domain.AgentConfig, tasks []domain.TaskConfig, flows []domain.FlowConfig) *Crewfile {
	cf := &Crewfile{}
	for _, a := range agents {
		cf.Agents = append(cf.Agents, Agent{
			ID: a.ID, Name: a.Name, Role: a.Role, Goal: a.Goal, Backstory: a.Backstory,
			Model: a.Model, Tools: a.Tools, AllowDelegation: a.AllowDelegation, Verbose: a.Verbose,
		})
	}
	for _, t := range tasks {
		cf.Tasks = append(cf.Tasks, Task{
			ID: t.ID, Name: t.Name, Description: t.Description, ExpectedOutput: t.ExpectedOutput,
			AgentID: t.AgentID, ContextTaskIDs: t.ContextTaskIDs, IsEntrypoint: t.IsEntrypoint,
		})
	}
	for _, f := range flows {
		cf.Flows = append(cf.Flows, Flow{
			ID: f.ID, Name: f.Name, Description: f.Description,
			Process: string(f.Process), AgentIDs: f.AgentIDs, TaskIDs: f.TaskIDs,
		})
	}
	return cf
}
