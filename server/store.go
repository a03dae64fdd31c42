package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/crewdeck/crewdeck/domain"
)

// Store persists crew entities, runs and run events in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a SQLite database.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			goal TEXT NOT NULL DEFAULT '',
			backstory TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			tools TEXT NOT NULL DEFAULT '[]',
			allow_delegation INTEGER NOT NULL DEFAULT 0,
			verbose INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			expected_output TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			context_task_ids TEXT NOT NULL DEFAULT '[]',
			is_entrypoint INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			process TEXT NOT NULL DEFAULT 'sequential',
			agent_ids TEXT NOT NULL DEFAULT '[]',
			task_ids TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_task_id TEXT NOT NULL DEFAULT '',
			task_runs TEXT NOT NULL DEFAULT '[]',
			input TEXT NOT NULL DEFAULT '',
			final_output TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_flow ON runs(flow_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Agents.

func (s *Store) ListAgents(ctx context.Context) ([]domain.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, role, goal, backstory, model, tools, allow_delegation, verbose FROM agents ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.AgentConfig
	for rows.Next() {
		var a domain.AgentConfig
		var tools string
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.Goal, &a.Backstory, &a.Model, &tools, &a.AllowDelegation, &a.Verbose); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tools), &a.Tools); err != nil {
			return nil, fmt.Errorf("failed to decode tools for agent %s: %w", a.ID, err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, id string) (*domain.AgentConfig, error) {
	var a domain.AgentConfig
	var tools string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, goal, backstory, model, tools, allow_delegation, verbose FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Role, &a.Goal, &a.Backstory, &a.Model, &tools, &a.AllowDelegation, &a.Verbose)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	if err := json.Unmarshal([]byte(tools), &a.Tools); err != nil {
		return nil, fmt.Errorf("failed to decode tools: %w", err)
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, a domain.AgentConfig) error {
	tools := marshalList(a.Tools)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, role, goal, backstory, model, tools, allow_delegation, verbose)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Role, a.Goal, a.Backstory, a.Model, tools, a.AllowDelegation, a.Verbose)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (s *Store) UpdateAgent(ctx context.Context, a domain.AgentConfig) error {
	tools := marshalList(a.Tools)
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, role = ?, goal = ?, backstory = ?, model = ?, tools = ?, allow_delegation = ?, verbose = ?
		 WHERE id = ?`,
		a.Name, a.Role, a.Goal, a.Backstory, a.Model, tools, a.AllowDelegation, a.Verbose, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return requireRow(res, "agent", a.ID)
}

// DeleteAgent removes the agent and resets agent_id on every task that
// referenced it, mirroring the client-side cascade.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if err := requireRow(res, "agent", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET agent_id = '' WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("failed to unassign tasks: %w", err)
	}
	return tx.Commit()
}

// Tasks.

func (s *Store) ListTasks(ctx context.Context) ([]domain.TaskConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, expected_output, agent_id, context_task_ids, is_entrypoint FROM tasks ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.TaskConfig
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(rows *sql.Rows) (domain.TaskConfig, error) {
	var t domain.TaskConfig
	var ctxIDs string
	if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.ExpectedOutput, &t.AgentID, &ctxIDs, &t.IsEntrypoint); err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(ctxIDs), &t.ContextTaskIDs); err != nil {
		return t, fmt.Errorf("failed to decode context ids for task %s: %w", t.ID, err)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.TaskConfig, error) {
	var t domain.TaskConfig
	var ctxIDs string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, expected_output, agent_id, context_task_ids, is_entrypoint FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Description, &t.ExpectedOutput, &t.AgentID, &ctxIDs, &t.IsEntrypoint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if err := json.Unmarshal([]byte(ctxIDs), &t.ContextTaskIDs); err != nil {
		return nil, fmt.Errorf("failed to decode context ids: %w", err)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t domain.TaskConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, name, description, expected_output, agent_id, context_task_ids, is_entrypoint)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.ExpectedOutput, t.AgentID, marshalList(t.ContextTaskIDs), t.IsEntrypoint)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, t domain.TaskConfig) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET name = ?, description = ?, expected_output = ?, agent_id = ?, context_task_ids = ?, is_entrypoint = ?
		 WHERE id = ?`,
		t.Name, t.Description, t.ExpectedOutput, t.AgentID, marshalList(t.ContextTaskIDs), t.IsEntrypoint, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return requireRow(res, "task", t.ID)
}

// DeleteTask removes the task and strips its id from every remaining task's
// context list, mirroring the client-side cascade.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if err := requireRow(res, "task", id); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, context_task_ids FROM tasks`)
	if err != nil {
		return fmt.Errorf("failed to scan context ids: %w", err)
	}
	type patch struct {
		id  string
		ids []string
	}
	var patches []patch
	for rows.Next() {
		var taskID, raw string
		if err := rows.Scan(&taskID, &raw); err != nil {
			rows.Close()
			return err
		}
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			rows.Close()
			return fmt.Errorf("failed to decode context ids for task %s: %w", taskID, err)
		}
		filtered := ids[:0]
		removed := false
		for _, ctxID := range ids {
			if ctxID == id {
				removed = true
				continue
			}
			filtered = append(filtered, ctxID)
		}
		if removed {
			patches = append(patches, patch{id: taskID, ids: filtered})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range patches {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET context_task_ids = ? WHERE id = ?`,
			marshalList(p.ids), p.id); err != nil {
			return fmt.Errorf("failed to strip context id from task %s: %w", p.id, err)
		}
	}
	return tx.Commit()
}

// Flows.

func (s *Store) ListFlows(ctx context.Context) ([]domain.FlowConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, process, agent_ids, task_ids FROM flows ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.FlowConfig
	for rows.Next() {
		var f domain.FlowConfig
		var agentIDs, taskIDs string
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Process, &agentIDs, &taskIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(agentIDs), &f.AgentIDs); err != nil {
			return nil, fmt.Errorf("failed to decode agent ids for flow %s: %w", f.ID, err)
		}
		if err := json.Unmarshal([]byte(taskIDs), &f.TaskIDs); err != nil {
			return nil, fmt.Errorf("failed to decode task ids for flow %s: %w", f.ID, err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *Store) GetFlow(ctx context.Context, id string) (*domain.FlowConfig, error) {
	var f domain.FlowConfig
	var agentIDs, taskIDs string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, process, agent_ids, task_ids FROM flows WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.Description, &f.Process, &agentIDs, &taskIDs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	if err := json.Unmarshal([]byte(agentIDs), &f.AgentIDs); err != nil {
		return nil, fmt.Errorf("failed to decode agent ids: %w", err)
	}
	if err := json.Unmarshal([]byte(taskIDs), &f.TaskIDs); err != nil {
		return nil, fmt.Errorf("failed to decode task ids: %w", err)
	}
	return &f, nil
}

func (s *Store) CreateFlow(ctx context.Context, f domain.FlowConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flows (id, name, description, process, agent_ids, task_ids) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Description, string(f.Process), marshalList(f.AgentIDs), marshalList(f.TaskIDs))
	if err != nil {
		return fmt.Errorf("failed to create flow: %w", err)
	}
	return nil
}

func (s *Store) UpdateFlow(ctx context.Context, f domain.FlowConfig) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE flows SET name = ?, description = ?, process = ?, agent_ids = ?, task_ids = ? WHERE id = ?`,
		f.Name, f.Description, string(f.Process), marshalList(f.AgentIDs), marshalList(f.TaskIDs), f.ID)
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}
	return requireRow(res, "flow", f.ID)
}

func (s *Store) DeleteFlow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	return requireRow(res, "flow", id)
}

// Runs.

func (s *Store) CreateRun(ctx context.Context, run *domain.FlowRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, flow_id, status, current_task_id, task_runs, input, final_output, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FlowID, string(run.Status), run.CurrentTaskID, marshalTaskRuns(run.TaskRuns),
		run.Input, run.FinalOutput, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*domain.FlowRun, error) {
	var run domain.FlowRun
	var status, taskRuns string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, flow_id, status, current_task_id, task_runs, input, final_output, created_at, updated_at
		 FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.FlowID, &status, &run.CurrentTaskID, &taskRuns,
			&run.Input, &run.FinalOutput, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	if err := json.Unmarshal([]byte(taskRuns), &run.TaskRuns); err != nil {
		return nil, fmt.Errorf("failed to decode task runs: %w", err)
	}
	return &run, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// UpsertTaskRun folds one task status record into the run, keyed by task id.
func (s *Store) UpsertTaskRun(ctx context.Context, runID string, tr domain.TaskRunInfo, currentTaskID string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	replaced := false
	for i := range run.TaskRuns {
		if run.TaskRuns[i].TaskID == tr.TaskID {
			run.TaskRuns[i] = tr
			replaced = true
		}
	}
	if !replaced {
		run.TaskRuns = append(run.TaskRuns, tr)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET task_runs = ?, current_task_id = ?, updated_at = ? WHERE id = ?`,
		marshalTaskRuns(run.TaskRuns), currentTaskID, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to upsert task run: %w", err)
	}
	return nil
}

func (s *Store) CompleteRun(ctx context.Context, id string, status domain.RunStatus, finalOutput string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, final_output = ?, current_task_id = '', updated_at = ? WHERE id = ?`,
		string(status), finalOutput, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// Events.

// StoredEvent is a run event with its stream sequence number.
type StoredEvent struct {
	Seq   int64
	Event domain.StreamEvent
}

func (s *Store) AppendEvent(ctx context.Context, runID string, ev domain.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, ts, payload) VALUES (?, ?, ?)`,
		runID, time.Now().UnixMilli(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// EventsAfter returns up to limit events for a run with seq greater than
// afterSeq, in stream order.
func (s *Store) EventsAfter(ctx context.Context, runID string, afterSeq int64, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload FROM events WHERE run_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		runID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var se StoredEvent
		var payload string
		if err := rows.Scan(&se.Seq, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &se.Event); err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", se.Seq, err)
		}
		events = append(events, se)
	}
	return events, rows.Err()
}

func marshalList(ids []string) string {
	if ids == nil {
		ids = []string{}
	}
	raw, _ := json.Marshal(ids)
	return string(raw)
}

func marshalTaskRuns(taskRuns []domain.TaskRunInfo) string {
	if taskRuns == nil {
		taskRuns = []domain.TaskRunInfo{}
	}
	raw, _ := json.Marshal(taskRuns)
	return string(raw)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}
