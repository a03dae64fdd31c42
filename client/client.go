// Package client is the HTTP client for the crew orchestration backend:
// REST CRUD for agents, tasks and flows, run start/cancel, and the run
// event stream (SSE, with a WebSocket mirror).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crewdeck/crewdeck/domain"
)

// Client talks to one backend. A bearer token, when set, is attached to
// every request.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	// streamClient has no overall timeout; event streams stay open for the
	// lifetime of a run.
	streamClient *http.Client
}

// New creates a client for the given base URL. token may be empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}
}

// envelope is the backend's success response convention.
type envelope[T any] struct {
	Data T `json:"data"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do executes a request and returns the raw body of a 2xx response. A
// non-2xx response body is treated as an error message string.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s", errorMessage(raw))
	}
	return raw, nil
}

// errorMessage extracts a human-readable message from a non-2xx body: the
// backend's {"error": "..."} convention when present, else the raw body.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "network error"
}

func call[T any](c *Client, ctx context.Context, method, path string, body any) (T, error) {
	var zero T
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return zero, err
	}
	raw, err := c.do(req)
	if err != nil {
		return zero, err
	}
	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	return env.Data, nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// Agents.

func (c *Client) ListAgents(ctx context.Context) ([]domain.AgentConfig, error) {
	return call[[]domain.AgentConfig](c, ctx, http.MethodGet, "/agents", nil)
}

func (c *Client) CreateAgent(ctx context.Context, agent domain.AgentConfig) (domain.AgentConfig, error) {
	return call[domain.AgentConfig](c, ctx, http.MethodPost, "/agents", agent)
}

func (c *Client) UpdateAgent(ctx context.Context, id string, agent domain.AgentConfig) (domain.AgentConfig, error) {
	return call[domain.AgentConfig](c, ctx, http.MethodPut, "/agents/"+id, agent)
}

func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.delete(ctx, "/agents/"+id)
}

// Tasks.

func (c *Client) ListTasks(ctx context.Context) ([]domain.TaskConfig, error) {
	return call[[]domain.TaskConfig](c, ctx, http.MethodGet, "/tasks", nil)
}

func (c *Client) CreateTask(ctx context.Context, task domain.TaskConfig) (domain.TaskConfig, error) {
	return call[domain.TaskConfig](c, ctx, http.MethodPost, "/tasks", task)
}

func (c *Client) UpdateTask(ctx context.Context, id string, task domain.TaskConfig) (domain.TaskConfig, error) {
	return call[domain.TaskConfig](c, ctx, http.MethodPut, "/tasks/"+id, task)
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.delete(ctx, "/tasks/"+id)
}

// Flows.

func (c *Client) ListFlows(ctx context.Context) ([]domain.FlowConfig, error) {
	return call[[]domain.FlowConfig](c, ctx, http.MethodGet, "/flows", nil)
}

func (c *Client) CreateFlow(ctx context.Context, flow domain.FlowConfig) (domain.FlowConfig, error) {
	return call[domain.FlowConfig](c, ctx, http.MethodPost, "/flows", flow)
}

func (c *Client) UpdateFlow(ctx context.Context, id string, flow domain.FlowConfig) (domain.FlowConfig, error) {
	return call[domain.FlowConfig](c, ctx, http.MethodPut, "/flows/"+id, flow)
}

func (c *Client) DeleteFlow(ctx context.Context, id string) error {
	return c.delete(ctx, "/flows/"+id)
}

// Runs.

// StartRunRequest is the body of POST /flows/{id}/runs.
type StartRunRequest struct {
	Input string `json:"input"`
}

func (c *Client) StartRun(ctx context.Context, flowID, input string) (domain.FlowRun, error) {
	return call[domain.FlowRun](c, ctx, http.MethodPost, "/flows/"+flowID+"/runs", StartRunRequest{Input: input})
}

func (c *Client) GetRun(ctx context.Context, runID string) (domain.FlowRun, error) {
	return call[domain.FlowRun](c, ctx, http.MethodGet, "/runs/"+runID, nil)
}

func (c *Client) CancelRun(ctx context.Context, runID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/runs/"+runID+"/cancel", nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}
