package crewfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/domain"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crew.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidCrewfile(t *testing.T) {
	path := writeTemp(t, `
agents:
  - id: researcher
    name: Researcher
    role: Senior Research Analyst
    tools: [search]
tasks:
  - id: research
    description: Research the topic
    agent_id: researcher
  - id: write
    description: Write the report
    context_task_ids: [research]
flows:
  - id: main
    name: Main Flow
    process: sequential
    agent_ids: [researcher]
    task_ids: [research, write]
`)

	cf, err := Load(path)
	require.NoError(t, err)

	agents, tasks, flows := cf.Entities()
	require.Len(t, agents, 1)
	require.Len(t, tasks, 2)
	require.Len(t, flows, 1)

	assert.Equal(t, "researcher", agents[0].ID)
	assert.Equal(t, []string{"search"}, agents[0].Tools)
	assert.Equal(t, []string{"research"}, tasks[1].ContextTaskIDs)
	assert.Equal(t, domain.ProcessSequential, flows[0].Process)
}

func TestLoadRejectsBadReferences(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"emptyTaskID", "tasks:\n  - description: no id\n"},
		{"selfContext", "tasks:\n  - id: t1\n    context_task_ids: [t1]\n"},
		{"unknownContext", "tasks:\n  - id: t1\n    context_task_ids: [ghost]\n"},
		{"emptyAgentID", "agents:\n  - name: nameless\n"},
		{"emptyFlowID", "flows:\n  - name: nameless\n"},
		{"notYAML", "{{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	agents := []domain.AgentConfig{{ID: "writer", Name: "Writer", AllowDelegation: true}}
	tasks := []domain.TaskConfig{
		{ID: "outline", Description: "Outline", AgentID: "writer", IsEntrypoint: true},
		{ID: "draft", Description: "Draft", ContextTaskIDs: []string{"outline"}},
	}
	flows := []domain.FlowConfig{{ID: "f1", Process: domain.ProcessHierarchical, TaskIDs: []string{"outline", "draft"}}}

	path := filepath.Join(t.TempDir(), "export.yaml")
	require.NoError(t, Save(path, FromEntities(agents, tasks, flows)))

	cf, err := Load(path)
	require.NoError(t, err)

	gotAgents, gotTasks, gotFlows := cf.Entities()
	assert.Equal(t, agents, gotAgents)
	assert.Equal(t, tasks, gotTasks)
	assert.Equal(t, flows, gotFlows)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
