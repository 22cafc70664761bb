package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"taxifleet/internal/model"
	"taxifleet/internal/webhooks"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsPingEvery = 20 * time.Second
	wsReadWait  = 60 * time.Second
	wsWriteWait = 10 * time.Second
)

// runEventsWS streams a run's events over WebSocket. Checkpoints already
// stored are replayed first, then live events follow until the run finishes.
// Only this goroutine writes to the connection.
func (s *Server) runEventsWS(w http.ResponseWriter, r *http.Request, run model.Run) {
	// subscribe before reading history so nothing falls in between
	ch := s.Broker.Subscribe(run.ID)
	defer s.Broker.Unsubscribe(run.ID, ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadWait)) })
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(evt model.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(evt)
	}
	finish := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}

	lastSeq := 0
	cps, err := s.Store.ListCheckpoints(r.Context(), run.ID)
	if err == nil {
		for _, cp := range cps {
			evt := model.Event{ID: uuid.NewString(), Type: webhooks.EventRunCheckpoint, RunID: run.ID, TS: time.Now().UTC(), Data: map[string]any{"seq": cp.Seq, "checkpoint": cp}}
			if err := send(evt); err != nil {
				return
			}
			lastSeq = cp.Seq
		}
	}
	if cur, err := s.Store.GetRun(r.Context(), run.ID); err == nil {
		run = cur
	}
	if evt, done := terminalEvent(run); done {
		_ = send(evt)
		finish()
		return
	}

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type == webhooks.EventRunCheckpoint {
				seq := eventSeq(evt)
				if seq <= lastSeq {
					continue
				}
				lastSeq = seq
			}
			if err := send(evt); err != nil {
				return
			}
			if evt.Type == webhooks.EventRunCompleted || evt.Type == webhooks.EventRunFailed {
				finish()
				return
			}
		}
	}
}

// terminalEvent synthesizes the closing event for a run that already ended.
func terminalEvent(run model.Run) (model.Event, bool) {
	evt := model.Event{ID: uuid.NewString(), RunID: run.ID, TS: time.Now().UTC()}
	switch run.Status {
	case model.RunCompleted:
		evt.Type = webhooks.EventRunCompleted
		evt.Data = map[string]any{"summary": run.Summary}
	case model.RunFailed:
		evt.Type = webhooks.EventRunFailed
		evt.Data = map[string]any{"error": run.Error}
	default:
		return model.Event{}, false
	}
	return evt, true
}

// eventSeq reads the checkpoint sequence; events decoded from Redis carry it
// as a float64.
func eventSeq(evt model.Event) int {
	switch v := evt.Data["seq"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
