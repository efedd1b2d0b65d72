package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"sorosusu/core/events"
	"sorosusu/integrations/archive"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBacklogLimit = 1000
)

// handleStream upgrades to a websocket and relays the circle's events. With
// ?after=<sequence> archived events past the cursor are replayed first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	if s.cfg.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event stream disabled")
		return
	}
	filter, ok := archiveFilter(w, r, id)
	if !ok {
		return
	}
	replay := r.URL.Query().Has("after") && s.cfg.Archive != nil
	if filter.Limit == 0 {
		filter.Limit = wsBacklogLimit
	}

	// Emissions happen inside engine calls, which hold mu. Subscribing and
	// reading the backlog under mu keeps the two sets disjoint.
	var (
		updates <-chan events.Event
		cancel  func()
		backlog []archive.Record
	)
	err := s.locked(func() error {
		if _, err := s.engine.Circle(id); err != nil {
			return err
		}
		updates, cancel = s.cfg.Hub.Subscribe(circleFilter(id))
		if replay {
			records, err := s.cfg.Archive.List(r.Context(), filter)
			if err != nil {
				cancel()
				return err
			}
			backlog = records
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, backlog, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, backlog []archive.Record, updates <-chan events.Event) error {
	for _, record := range backlog {
		payload, err := eventResponseFromRecord(record)
		if err != nil {
			return err
		}
		if err := writeStreamMessage(ctx, conn, payload); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamMessage(ctx, conn, liveEventResponse(evt)); err != nil {
				return err
			}
		}
	}
}

func liveEventResponse(evt events.Event) EventResponse {
	resp := EventResponse{Type: evt.EventType(), Attributes: map[string]string{}}
	if payload, ok := evt.(events.Payload); ok && payload.Event() != nil {
		resp.Attributes = payload.Event().Clone().Attributes
	}
	return resp
}

func circleFilter(id uint64) events.Filter {
	want := strconv.FormatUint(id, 10)
	return func(evt events.Event) bool {
		payload, ok := evt.(events.Payload)
		return ok && payload.Event().Attr("circleId") == want
	}
}

func writeStreamMessage(ctx context.Context, conn *websocket.Conn, payload EventResponse) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
