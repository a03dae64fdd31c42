package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/crewdeck/crewdeck/domain"
)

// StreamRunEvents streams a run's events via SSE.
// GET /runs/:id/events
//
// The stream stays open until the run reaches a terminal state; every event
// already recorded is replayed first, so a late subscriber sees the full
// history in order.
func (h *Handler) StreamRunEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to get run")
	}
	if run == nil {
		return fail(c, http.StatusNotFound, "run not found")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	lastSeq := int64(0)
	deadline := time.Now().Add(h.cfg.StreamMaxDuration)
	ticker := time.NewTicker(h.cfg.EventPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected.
			return nil

		case <-ticker.C:
			if time.Now().After(deadline) {
				log.Printf("INFO: event stream for run %s exceeded max duration", runID)
				return nil
			}

			events, err := h.store.EventsAfter(ctx, runID, lastSeq, 100)
			if err != nil {
				log.Printf("ERROR: failed to get events: %v", err)
				continue
			}
			for _, se := range events {
				if err := sendSSEEvent(c, se.Event); err != nil {
					log.Printf("ERROR: failed to send SSE event: %v", err)
					return err
				}
				lastSeq = se.Seq
			}

			current, err := h.store.GetRun(ctx, runID)
			if err != nil || current == nil {
				log.Printf("ERROR: failed to get run status: %v", err)
				continue
			}
			if current.Status.IsTerminal() {
				// Drain anything recorded between the poll and the status
				// check so the terminal event is never dropped.
				tail, err := h.store.EventsAfter(ctx, runID, lastSeq, 100)
				if err == nil {
					for _, se := range tail {
						if err := sendSSEEvent(c, se.Event); err != nil {
							return err
						}
						lastSeq = se.Seq
					}
				}
				log.Printf("INFO: run %s reached terminal state: %s", runID, current.Status)
				return nil
			}
		}
	}
}

// sendSSEEvent writes one event in SSE wire format.
func sendSSEEvent(c echo.Context, ev domain.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\n", ev.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

var upgrader = websocket.Upgrader{
	// The dev server is same-machine tooling; skip origin checks.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamRunEventsWS mirrors the SSE stream over a WebSocket.
// GET /runs/:id/events/ws
func (h *Handler) StreamRunEventsWS(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")

	run, err := h.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("ERROR: failed to get run: %v", err)
		return fail(c, http.StatusInternalServerError, "failed to get run")
	}
	if run == nil {
		return fail(c, http.StatusNotFound, "run not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade: %w", err)
	}
	defer conn.Close()

	lastSeq := int64(0)
	deadline := time.Now().Add(h.cfg.StreamMaxDuration)
	ticker := time.NewTicker(h.cfg.EventPollInterval)
	defer ticker.Stop()

	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if time.Now().After(deadline) {
				closeNormal()
				return nil
			}

			events, err := h.store.EventsAfter(ctx, runID, lastSeq, 100)
			if err != nil {
				log.Printf("ERROR: failed to get events: %v", err)
				continue
			}
			for _, se := range events {
				if err := conn.WriteJSON(se.Event); err != nil {
					return nil
				}
				lastSeq = se.Seq
			}

			current, err := h.store.GetRun(ctx, runID)
			if err != nil || current == nil {
				continue
			}
			if current.Status.IsTerminal() {
				tail, err := h.store.EventsAfter(ctx, runID, lastSeq, 100)
				if err == nil {
					for _, se := range tail {
						if err := conn.WriteJSON(se.Event); err != nil {
							return nil
						}
						lastSeq = se.Seq
					}
				}
				closeNormal()
				return nil
			}
		}
	}
}
