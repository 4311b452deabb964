package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleetroute/internal/model"
)

const (
	heartbeatInterval = 15 * time.Second
	wsPongWait        = 60 * time.Second
	wsWriteWait       = 5 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// follow subscribes to a run's events. When the run has already finished it returns the
// terminal event instead, and the caller sends it and stops.
func (s *Server) follow(r *http.Request, tenant string, run model.Run) (chan model.RunEvent, *model.RunEvent, func()) {
	ch := s.Broker.Subscribe(run.ID)
	cancel := func() { s.Broker.Unsubscribe(run.ID, ch) }
	// re-read after subscribing so a run finishing in between is not missed
	if cur, err := s.Store.GetRun(r.Context(), tenant, run.ID); err == nil {
		run = cur
	}
	if ev, ok := terminalEvent(run); ok {
		cancel()
		return nil, &ev, func() {}
	}
	return ch, nil, cancel
}

func terminalEvent(run model.Run) (model.RunEvent, bool) {
	ev := model.RunEvent{RunID: run.ID}
	if run.FinishedAt != nil {
		ev.At = *run.FinishedAt
	}
	switch run.Status {
	case model.RunSucceeded:
		ev.Type = model.EventRunSucceeded
		if run.Result != nil {
			ev.Status = run.Result.Status
			ev.Objective = run.Result.Objective.Total
			ev.Unserved = run.Result.Unserved
		}
		return ev, true
	case model.RunFailed:
		ev.Type = model.EventRunFailed
		ev.Error = run.Error
		return ev, true
	}
	return ev, false
}

func isTerminal(ev model.RunEvent) bool {
	return ev.Type == model.EventRunSucceeded || ev.Type == model.EventRunFailed
}

// streamSSE serves GET /v1/runs/{id}/events/stream until the run finishes or the client
// goes away.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, tenant string, run model.Run) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch, done, cancel := s.follow(r, tenant, run)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(ev model.RunEvent) {
		b, _ := json.Marshal(ev)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b)
		flusher.Flush()
	}
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\ndata: {\"runId\":%q,\"ts\":%q}\n\n", run.ID, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}

	if done != nil {
		send(*done)
		return
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			send(ev)
			if isTerminal(ev) {
				return
			}
		case <-ticker.C:
			heartbeat()
		}
	}
}

// streamWS serves GET /v1/runs/{id}/events/ws. Each event is one JSON text message; the
// server closes normally after the terminal event.
func (s *Server) streamWS(w http.ResponseWriter, r *http.Request, tenant string, run model.Run) {
	// subscribe before the handshake completes so no event published after it is lost
	ch, done, cancel := s.follow(r, tenant, run)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	log := s.Log.WithValues("run", run.ID)

	// reader: only control frames are expected; it ends when the client closes
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	closeNormal := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}
	write := func(ev model.RunEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev)
	}

	if done != nil {
		if err := write(*done); err == nil {
			closeNormal()
		}
		return
	}
	ping := time.NewTicker(wsPongWait / 2)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := write(ev); err != nil {
				log.Error(err, "websocket write")
				return
			}
			if isTerminal(ev) {
				closeNormal()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
