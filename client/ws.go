package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/crewdeck/crewdeck/domain"
)

// StreamRunEventsWS consumes the WebSocket mirror of a run's event stream.
// Same contract as StreamRunEvents: one handler call per event in arrival
// order, malformed payloads dropped, returns when the server closes the
// connection or ctx is cancelled.
func (c *Client) StreamRunEventsWS(ctx context.Context, runID string, handler EventHandler) error {
	wsURL := httpToWS(c.baseURL) + "/runs/" + runID + "/events/ws"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("failed to dial event stream: %w", err)
	}
	defer conn.Close()

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}

		var ev domain.StreamEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("WARN: dropping malformed stream event: %v", err)
			continue
		}
		handler(ev)
	}
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
