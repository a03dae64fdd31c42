package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/crewdeck/crewdeck/domain"
)

// EventHandler is called once per inbound run event, in arrival order.
type EventHandler func(ev domain.StreamEvent)

// StreamRunEvents consumes the SSE stream for one run, invoking handler for
// every event until the server closes the stream or ctx is cancelled. A
// malformed event payload is logged and dropped; it never terminates the
// stream.
func (c *Client) StreamRunEvents(ctx context.Context, runID string, handler EventHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+runID+"/events", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("event stream returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return parseSSE(resp.Body, handler)
}

// parseSSE reads an SSE stream and feeds each data payload to the handler.
func parseSSE(reader io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(reader)
	var data string

	flush := func() {
		if data == "" {
			return
		}
		var ev domain.StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Printf("WARN: dropping malformed stream event: %v", err)
		} else {
			handler(ev)
		}
		data = ""
	}

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event.
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" {
				data += "\n" + chunk
			} else {
				data = chunk
			}
		}
		// Ignore comments (lines starting with :) and other fields.
	}
	flush()

	return scanner.Err()
}

// Subscribe runs StreamRunEvents on a goroutine and returns an unsubscribe
// func, the only cancellation primitive for an open stream. done, when
// non-nil, is invoked once with the stream's exit error (nil on a clean
// close, context.Canceled after unsubscribe).
func (c *Client) Subscribe(runID string, handler EventHandler, done func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		err := c.StreamRunEvents(ctx, runID, handler)
		if done != nil {
			done(err)
		}
	}()
	return cancel
}
